package menuapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrUnreachable is returned when no response could be obtained from the server.
	ErrUnreachable = errors.New("server unreachable")
)

// User-facing messages for failed requests.
const (
	MsgTimeout     = "Request timed out. Please try with a smaller image."
	MsgInvalidFile = "Invalid file. Please upload an image."
	MsgServerError = "Server error. This might be due to missing API keys."
	MsgUnreachable = "Cannot connect to server. Please check if the backend is running."
	MsgGeneric     = "Failed to process image. Please try again."
)

// APIError is a non-2xx response from the recognition backend.
type APIError struct {
	StatusCode int
	Detail     string // "detail" field of the error body, if it was a string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// errorBody is the backend's error envelope. FastAPI returns a string detail
// for HTTPException and a list for validation errors.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

func (b *errorBody) detailString() string {
	if b == nil || len(b.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Detail, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// classifyTransportError maps an error from the HTTP layer onto ErrTimeout or
// ErrUnreachable. Cancellation is passed through unchanged.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return err
}

// UserMessage maps a request error to the message shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTimeout) {
		return MsgTimeout
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400:
			if apiErr.Detail != "" {
				return apiErr.Detail
			}
			return MsgInvalidFile
		case 500:
			return MsgServerError
		}
		return MsgGeneric
	}
	if errors.Is(err, ErrUnreachable) {
		return MsgUnreachable
	}
	return MsgGeneric
}
