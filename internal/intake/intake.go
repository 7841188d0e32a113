// Package intake validates a user-selected image before it is uploaded and
// produces a local preview of it. Nothing here touches the network.
package intake

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// MaxFileSize is the upload ceiling (5 MiB). Files of this size or larger are rejected.
const MaxFileSize = 5 * 1024 * 1024

// User-facing messages for rejected files.
const (
	MsgNotAnImage = "Please select an image file"
	MsgTooLarge   = "File size must be less than 5MB"
)

// Kind identifies why a file was rejected.
type Kind int

const (
	NotAnImage Kind = iota + 1
	TooLarge
)

func (k Kind) String() string {
	switch k {
	case NotAnImage:
		return "NotAnImage"
	case TooLarge:
		return "TooLarge"
	default:
		return "Unknown"
	}
}

// ValidationError describes a rejected file. Compare with errors.Is against
// ErrNotAnImage or ErrTooLarge.
type ValidationError struct {
	Kind     Kind
	MIMEType string
	Size     int64
}

var (
	ErrNotAnImage = &ValidationError{Kind: NotAnImage}
	ErrTooLarge   = &ValidationError{Kind: TooLarge}
)

func (e *ValidationError) Error() string {
	switch e.Kind {
	case NotAnImage:
		if e.MIMEType == "" {
			return "not an image"
		}
		return fmt.Sprintf("not an image: %s", e.MIMEType)
	case TooLarge:
		return fmt.Sprintf("file too large: %d bytes (limit %d)", e.Size, MaxFileSize)
	default:
		return "invalid file"
	}
}

// Is matches any ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

// UserMessage is the text shown to the user for this rejection.
func (e *ValidationError) UserMessage() string {
	if e.Kind == TooLarge {
		return MsgTooLarge
	}
	return MsgNotAnImage
}

// UserMessage returns the text shown to the user for err: the rejection
// message for a ValidationError, the error text otherwise.
func UserMessage(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.UserMessage()
	}
	return err.Error()
}

// File is an image selected by the user.
type File struct {
	Name     string
	MIMEType string // Declared type; sniffed from Data when empty
	Data     []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Preview is a validated file plus a displayable local rendition of it.
type Preview struct {
	File    File   // The original file, with MIMEType resolved
	DataURL string // data:<mime>;base64,...
	Width   int    // Zero when the format could not be decoded
	Height  int
}

// CheckMetadata validates a declared MIME type and size without looking at
// the file contents. Front-ends use it to reject a file before downloading it.
func CheckMetadata(mimeType string, size int64) error {
	mimeType = normalizeMIME(mimeType)
	if !strings.HasPrefix(mimeType, "image/") {
		return &ValidationError{Kind: NotAnImage, MIMEType: mimeType, Size: size}
	}
	if size >= MaxFileSize {
		return &ValidationError{Kind: TooLarge, MIMEType: mimeType, Size: size}
	}
	return nil
}

// Validate checks the file type and size and builds a preview. The type
// check runs first, so an oversized non-image is reported as NotAnImage.
func Validate(f File) (*Preview, error) {
	mimeType := normalizeMIME(f.MIMEType)
	if mimeType == "" {
		mimeType = normalizeMIME(mimetype.Detect(f.Data).String())
	}
	if err := CheckMetadata(mimeType, f.Size()); err != nil {
		return nil, err
	}

	f.MIMEType = mimeType
	p := &Preview{
		File:    f,
		DataURL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(f.Data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data)); err == nil {
		p.Width = cfg.Width
		p.Height = cfg.Height
	}
	return p, nil
}

// ReadFile loads a local file for validation. The MIME type is left empty so
// that Validate sniffs it from the contents.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read image: %w", err)
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// normalizeMIME lowercases a MIME type and drops any parameters.
func normalizeMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
