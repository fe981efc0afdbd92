// Package upload extracts single-file multipart uploads from inbound
// requests. The gateway forwards file content to the backend and never
// stores it.
package upload

import (
	"errors"
	"fmt"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/sturgeon/sturgeon/internal/platform/middleware"
)

// FieldName is the multipart form field the upload contract uses.
const FieldName = "file"

// DefaultMaxSize bounds uploads when the caller passes no limit (10 MiB).
const DefaultMaxSize = 10 << 20

var (
	// ErrNoFile indicates the request carried no usable file field.
	ErrNoFile = errors.New("no file provided")
	// ErrFileTooLarge indicates the upload exceeds the configured bound.
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// File is an uploaded file read fully into memory for re-posting.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// FromRequest pulls the upload out of a multipart request. It returns
// ErrNoFile when the field is missing or the request is not multipart, and
// ErrFileTooLarge when the content exceeds maxSize bytes.
func FromRequest(c echo.Context, maxSize int64) (*File, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	fh, err := c.FormFile(FieldName)
	if err != nil {
		return nil, ErrNoFile
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening uploaded file: %w", err)
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading uploaded file: %w", err)
	}
	if int64(len(content)) > maxSize {
		return nil, ErrFileTooLarge
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &File{
		Name:        middleware.SanitizeFilename(fh.Filename),
		ContentType: contentType,
		Content:     content,
	}, nil
}
