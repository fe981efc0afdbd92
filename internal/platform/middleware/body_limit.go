package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request body sizes. JSON endpoints get defaultLimit; the
// multipart upload routes get uploadLimit, since medical images and lab
// reports run far larger than any JSON payload.
//
// Sizes use suffix notation ("512K", "1M", "10M", "1G"); a bare number is
// bytes. Oversized requests receive 413 with the standard error envelope,
// either up front from Content-Length or mid-read when the declared length
// was absent or wrong.
func BodyLimit(defaultLimit string, uploadLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	uploadBytes := parseLimit(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			allowed := defaultBytes
			if req.Method == http.MethodPost && isUploadPath(req.URL.Path) {
				allowed = uploadBytes
			}

			// Reject up front when the client declares the size.
			if req.ContentLength > allowed {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]interface{}{
					"error":  "Request too large",
					"detail": fmt.Sprintf("Request body exceeds maximum allowed size of %d bytes", allowed),
				})
			}

			// Otherwise enforce the cap while the handler reads.
			req.Body = &cappedBody{src: req.Body, left: allowed}
			return next(c)
		}
	}
}

// isUploadPath reports whether the path is one of the multipart file routes.
func isUploadPath(path string) bool {
	if path == "/api/analyze-image" || path == "/api/extract-labs" {
		return true
	}
	return strings.HasPrefix(path, "/api/v1/cases/") &&
		(strings.HasSuffix(path, "/image") || strings.HasSuffix(path, "/labs-file"))
}

// cappedBody enforces a byte budget on reads. Once the budget is spent,
// every subsequent Read fails with a 413 error.
type cappedBody struct {
	src  io.ReadCloser
	left int64
	err  error
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	// Clamp reads to one byte past the budget so overflow is detectable.
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.src.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		b.err = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		return 0, b.err
	}
	return n, err
}

func (b *cappedBody) Close() error { return b.src.Close() }

// parseLimit converts a size string such as "1M" or "512K" to bytes,
// falling back to 1 MB when the input does not parse.
func parseLimit(s string) int64 {
	const fallback int64 = 1 << 20

	s = strings.ToUpper(strings.TrimSpace(s))
	factor := int64(1)
	for _, u := range sizeSuffixes {
		if strings.HasSuffix(s, u.suffix) {
			factor = u.factor
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n * factor
}

var sizeSuffixes = []struct {
	suffix string
	factor int64
}{
	{"GB", 1 << 30},
	{"G", 1 << 30},
	{"MB", 1 << 20},
	{"M", 1 << 20},
	{"KB", 1 << 10},
	{"K", 1 << 10},
}
