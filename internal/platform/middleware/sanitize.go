package middleware

import (
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize caps a single header value at 8 KB.
const maxHeaderValueSize = 8192

var (
	// Script injection in query strings is blocked outright.
	scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)

	// Prompt injection is logged, not blocked; the backend applies its
	// own guardrails.
	promptPattern = regexp.MustCompile(`(?i)(ignore\s+(all\s+)?previous\s+instructions|disregard\s+(the\s+)?system\s+prompt|you\s+are\s+now\b)`)

	// HTML tags, stripped from free-text fields before forwarding.
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

	// Filename characters that never belong in a multipart filename.
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// Sanitize returns the request screening middleware with logging disabled.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger returns middleware that screens each request before it
// reaches a handler. Path traversal, null bytes, header CRLF injection,
// oversized header values, and script fragments in query parameters are all
// rejected with a 400 and the standard error envelope. Suspected prompt
// injection in query values is logged and allowed through.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if detail := screenRequest(c, logger); detail != "" {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{
					"error":  "Invalid request",
					"detail": detail,
				})
			}
			return next(c)
		}
	}
}

// screenRequest runs the blocklist checks and returns the rejection detail,
// or "" when the request is clean.
func screenRequest(c echo.Context, logger zerolog.Logger) string {
	req := c.Request()
	if detail := screenURLPath(req.URL); detail != "" {
		return detail
	}
	if detail := screenHeaders(req.Header); detail != "" {
		return detail
	}
	return screenQuery(req.URL, c.RealIP(), logger)
}

// screenURLPath checks both the decoded and the raw request path, so
// percent-encoded traversal sequences cannot slip past the decoder.
func screenURLPath(u *url.URL) string {
	candidates := []string{u.Path}
	if u.RawPath != "" && u.RawPath != u.Path {
		candidates = append(candidates, u.RawPath)
	}
	for _, p := range candidates {
		if hasTraversal(p) {
			return "Path traversal detected"
		}
		if hasNullByte(p) {
			return "Null byte injection detected"
		}
	}
	return ""
}

func screenHeaders(h http.Header) string {
	for name, values := range h {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "Header value exceeds maximum size: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "Header injection detected: " + name
			}
		}
	}
	return ""
}

func screenQuery(u *url.URL, remoteIP string, logger zerolog.Logger) string {
	for key, values := range u.Query() {
		if hasNullByte(key) {
			return "Null byte injection detected in query parameter"
		}
		if scriptPattern.MatchString(key) {
			return "Script injection detected in query parameter"
		}
		for _, v := range values {
			if hasNullByte(v) {
				return "Null byte injection detected in query parameter"
			}
			if promptPattern.MatchString(v) {
				logger.Warn().
					Str("param", key).
					Str("path", u.Path).
					Str("remote_ip", remoteIP).
					Msg("potential prompt injection pattern in query parameter")
			}
			if scriptPattern.MatchString(v) {
				return "Script injection detected in query parameter"
			}
		}
	}
	return ""
}

// hasTraversal reports dot-dot sequences in plain, encoded, or
// double-encoded form.
func hasTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

// hasNullByte reports NUL in plain or percent-encoded form.
func hasNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') ||
		strings.Contains(strings.ToLower(s), "%00")
}

// SanitizeString strips null bytes and control characters (keeping \n, \r
// and \t) and trims surrounding whitespace. Handlers can use this for
// field-level cleanup beyond what the middleware screens.
func SanitizeString(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(cleaned)
}

// SanitizeText prepares a free-text clinical field for storage and backend
// forwarding: control characters and HTML tags are stripped, whitespace is
// trimmed, and the result is truncated to maxLength runes (0 disables the
// cap).
func SanitizeText(input string, maxLength int) string {
	s := SanitizeString(input)
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if maxLength > 0 {
		runes := []rune(s)
		if len(runes) > maxLength {
			s = string(runes[:maxLength])
		}
	}
	return s
}

// SanitizeFilename reduces an uploaded filename to a safe base name for the
// rebuilt multipart form. Empty or fully-stripped names fall back to
// "unnamed".
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = SanitizeString(name)
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}
