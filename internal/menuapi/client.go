package menuapi

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://localhost:8000"

	// DefaultUploadTimeout bounds POST /parse-image, which runs OCR and
	// product matching synchronously on the backend.
	DefaultUploadTimeout = 60 * time.Second

	// DefaultPollTimeout bounds a single status request.
	DefaultPollTimeout = 10 * time.Second

	healthTimeout = 10 * time.Second
)

type ClientOpts struct {
	BaseURL       string
	UploadTimeout time.Duration
	PollTimeout   time.Duration
}

// Client talks to the menu recognition backend.
type Client struct {
	httpClient    *resty.Client
	baseURL       string
	uploadTimeout time.Duration
	pollTimeout   time.Duration
}

func NewClient(opts ClientOpts) *Client {
	c := Client{
		baseURL:       DefaultBaseURL,
		uploadTimeout: DefaultUploadTimeout,
		pollTimeout:   DefaultPollTimeout,
	}
	if opts.BaseURL != "" {
		c.baseURL = opts.BaseURL
	}
	if opts.UploadTimeout > 0 {
		c.uploadTimeout = opts.UploadTimeout
	}
	if opts.PollTimeout > 0 {
		c.pollTimeout = opts.PollTimeout
	}
	c.httpClient = resty.New().
		SetDebug(false).
		SetLogger(restyLogger{}).
		SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json")

	return &c
}

// BaseURL returns the backend URL this client is configured for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) req(ctx context.Context, result any) *resty.Request {
	request := c.httpClient.
		NewRequest().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()).
		SetError(&errorBody{})

	if result != nil {
		request.SetResult(result)
	}

	return request
}

// ParseImage uploads an image as multipart field "file" and returns the
// initial item list together with the session id used for polling.
func (c *Client) ParseImage(ctx context.Context, upload Upload) (*ParseResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	result := &ParseResponse{}
	request := c.req(ctx, result).
		SetMultipartField("file", upload.Filename, upload.ContentType, bytes.NewReader(upload.Data))

	log.Debug().
		Str("filename", upload.Filename).
		Str("contentType", upload.ContentType).
		Int("bytes", len(upload.Data)).
		Msg("uploading menu image")

	if _, err := handleError(request.Post("/parse-image")); err != nil {
		return nil, fmt.Errorf("parse image: %w", err)
	}
	if result.SessionID == "" {
		return nil, fmt.Errorf("parse image: response has no session id")
	}
	return result, nil
}

// SessionStatus fetches the current enrichment status of a session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	result := &StatusResponse{}
	_, err := handleError(c.req(ctx, result).
		SetPathParam("sessionID", sessionID).
		Get("/session/{sessionID}/status"))
	if err != nil {
		return nil, fmt.Errorf("session status: %w", err)
	}
	return result, nil
}

// Health checks that the backend is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	result := &HealthResponse{}
	if _, err := handleError(c.req(ctx, result).Get("/health")); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return result, nil
}

// handleError turns transport failures and failing responses (>399 status
// code) into typed errors. Without this, failing responses would have nil
// error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, classifyTransportError(err)
	}
	if res.IsError() {
		apiErr := &APIError{StatusCode: res.StatusCode()}
		if body, ok := res.Error().(*errorBody); ok {
			apiErr.Detail = body.detailString()
		}
		return res, apiErr
	}

	return res, nil
}

// restyLogger routes resty's internal warnings through zerolog.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) {
	log.Error().Msgf("resty: "+format, v...)
}

func (restyLogger) Warnf(format string, v ...any) {
	log.Warn().Msgf("resty: "+format, v...)
}

func (restyLogger) Debugf(format string, v ...any) {
	log.Debug().Msgf("resty: "+format, v...)
}
