package menuapi

import "context"

// Recognizer abstracts the recognition backend operations the upload flow
// depends on. This interface allows for easy mocking in tests.
type Recognizer interface {
	// ParseImage uploads a menu image and returns the initial items and session id.
	ParseImage(ctx context.Context, upload Upload) (*ParseResponse, error)

	// SessionStatus fetches the enrichment status for a session.
	SessionStatus(ctx context.Context, sessionID string) (*StatusResponse, error)
}

// Ensure Client implements Recognizer
var _ Recognizer = (*Client)(nil)
