// Package coordinator drives a single menu upload: it submits the image,
// polls the backend for image enrichment of the resulting session, and
// publishes each state transition to an observer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raine/menu-visualizer/internal/intake"
	"github.com/raine/menu-visualizer/internal/menuapi"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the wait between the end of one status request and
// the start of the next.
const DefaultPollInterval = 2 * time.Second

// MsgImageSearchFailed is shown when the backend reports status "error"
// without a message.
const MsgImageSearchFailed = "Image search failed. Showing the items found so far."

var (
	// ErrBusy is returned by Submit while another submit is in flight.
	ErrBusy = errors.New("an upload is already in progress")
	// ErrReset is returned by Submit when a reset discarded the upload
	// before its response arrived.
	ErrReset = errors.New("upload was reset")
)

type Options struct {
	PollInterval time.Duration

	// OnChange is called with a snapshot after every committed transition,
	// outside the coordinator's lock. It may run on the polling goroutine,
	// so it must not block and must not call Reset.
	OnChange func(State)
}

// Coordinator owns the state of one upload flow. It is safe for concurrent
// use.
type Coordinator struct {
	api          menuapi.Recognizer
	pollInterval time.Duration
	onChange     func(State)

	mu           sync.Mutex
	state        State
	revision     uint64
	gen          uint64 // Bumped by every reset
	submitting   bool
	cancelSubmit context.CancelFunc
	ticking      bool
	poller       *poller
}

func New(api menuapi.Recognizer, opts Options) *Coordinator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{
		api:          api,
		pollInterval: interval,
		onChange:     opts.OnChange,
	}
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Submit uploads a validated image. Any previous session is discarded first.
// On success the coordinator enters PhasePolling and starts polling in the
// background; on failure it enters PhaseSubmitFailed with a user-facing
// error message, and the underlying error is returned.
func (c *Coordinator) Submit(ctx context.Context, preview *intake.Preview) error {
	upload, err := c.begin(ctx, preview)
	if err != nil {
		return err
	}
	return upload()
}

// Start is Submit with the upload request running in the background. The
// coordinator is in PhaseSubmitting when Start returns, so a later Start or
// Submit gets ErrBusy until the upload finishes or Reset is called. done, if
// not nil, receives the result Submit would have returned.
func (c *Coordinator) Start(ctx context.Context, preview *intake.Preview, done func(error)) error {
	upload, err := c.begin(ctx, preview)
	if err != nil {
		return err
	}
	go func() {
		err := upload()
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// begin discards the previous session and enters PhaseSubmitting. The
// returned function performs the upload and applies its outcome.
func (c *Coordinator) begin(ctx context.Context, preview *intake.Preview) (func() error, error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	old := c.resetLocked()
	gen := c.gen
	ctx, cancel := context.WithCancel(ctx)
	c.cancelSubmit = cancel
	c.submitting = true
	c.state = State{Phase: PhaseSubmitting, IsProcessing: true}
	snap := c.commitLocked()
	c.mu.Unlock()

	old.wait()
	c.notify(snap)

	return func() error {
		defer cancel()
		return c.performUpload(ctx, gen, preview)
	}, nil
}

func (c *Coordinator) performUpload(ctx context.Context, gen uint64, preview *intake.Preview) error {
	upload := menuapi.Upload{
		Filename:    preview.File.Name,
		ContentType: preview.File.MIMEType,
		Data:        preview.File.Data,
	}
	resp, err := c.api.ParseImage(ctx, upload)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		log.Debug().Msg("discarding upload response after reset")
		return ErrReset
	}
	c.submitting = false
	c.cancelSubmit = nil

	if err != nil {
		c.state = State{Phase: PhaseSubmitFailed, Error: menuapi.UserMessage(err)}
		snap := c.commitLocked()
		c.mu.Unlock()
		c.notify(snap)
		return fmt.Errorf("submit: %w", err)
	}

	items := resp.Items
	if items == nil {
		items = []menuapi.Item{}
	}
	c.state = State{
		Phase: PhasePolling,
		Results: &Results{
			SessionID:    resp.SessionID,
			TotalItems:   resp.TotalItems,
			MatchedItems: resp.MatchedItems,
			OCRError:     resp.OCRError,
			Items:        cloneItems(items),
		},
		ProcessingStatus: &menuapi.ProcessingStatus{
			Status: menuapi.StatusProcessingImages,
			Total:  len(items),
		},
		SessionID: resp.SessionID,
	}
	c.startPollerLocked()
	snap := c.commitLocked()
	c.mu.Unlock()

	log.Info().
		Str("sessionID", resp.SessionID).
		Int("items", len(items)).
		Int("matched", resp.MatchedItems).
		Msg("menu parsed")
	c.notify(snap)
	return nil
}

// PollTick issues one status request for the active session and applies the
// outcome. It returns true when a new state was committed. It does nothing
// when no session is being polled or another tick is in flight. Transport
// errors are returned but leave the state untouched.
func (c *Coordinator) PollTick(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.state.Polling() || c.ticking {
		c.mu.Unlock()
		return false, nil
	}
	sessionID := c.state.SessionID
	gen := c.gen
	c.ticking = true
	c.mu.Unlock()

	resp, err := c.api.SessionStatus(ctx, sessionID)

	c.mu.Lock()
	if c.gen != gen || c.state.SessionID != sessionID {
		c.mu.Unlock()
		log.Debug().Str("sessionID", sessionID).Msg("dropping stale status response")
		return false, nil
	}
	c.ticking = false
	if err != nil {
		c.mu.Unlock()
		return false, err
	}

	c.applyStatusLocked(resp)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true, nil
}

func (c *Coordinator) applyStatusLocked(resp *menuapi.StatusResponse) {
	status := resp.ProcessingStatus
	c.state.ProcessingStatus = &status

	if resp.Items != nil && c.state.Results != nil {
		c.state.Results.Items = cloneItems(resp.Items)
		c.state.Results.TotalItems = len(resp.Items)
		c.state.Results.MatchedItems = countMatched(resp.Items)
	}

	switch status.Status {
	case menuapi.StatusCompleted:
		c.state.Phase = PhaseCompleted
		c.stopPollerLocked()
		log.Info().Str("sessionID", c.state.SessionID).Msg("image search completed")
	case menuapi.StatusError:
		c.state.Phase = PhasePollError
		c.state.Error = status.Error
		if c.state.Error == "" {
			c.state.Error = MsgImageSearchFailed
		}
		c.stopPollerLocked()
		log.Warn().Str("sessionID", c.state.SessionID).Str("error", status.Error).Msg("image search failed")
	}
}

// Reset returns the coordinator to idle. Any in-flight upload or status
// request is cancelled and its result discarded; once Reset returns, no
// further status requests are made for the old session.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	old := c.resetLocked()
	snap := c.commitLocked()
	c.mu.Unlock()

	old.wait()
	c.notify(snap)
}

// resetLocked clears the state and cancels outstanding work. The returned
// poller, if any, must be waited on after the lock is released.
func (c *Coordinator) resetLocked() *poller {
	c.gen++
	if c.cancelSubmit != nil {
		c.cancelSubmit()
		c.cancelSubmit = nil
	}
	c.submitting = false
	c.ticking = false
	old := c.poller
	c.stopPollerLocked()
	c.state = State{}
	return old
}

func (c *Coordinator) commitLocked() State {
	c.revision++
	c.state.Revision = c.revision
	return c.state.clone()
}

func (c *Coordinator) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
