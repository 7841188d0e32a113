package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// poller is the background status loop of one session.
type poller struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// wait blocks until the loop has exited. Safe on a nil poller.
func (p *poller) wait() {
	if p == nil {
		return
	}
	<-p.done
}

func (c *Coordinator) startPollerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		sessionID: c.state.SessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.poller = p
	go c.runPoller(ctx, p)
}

func (c *Coordinator) stopPollerLocked() {
	if c.poller != nil {
		c.poller.cancel()
		c.poller = nil
	}
}

func (c *Coordinator) isCurrent(p *poller) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poller == p
}

// runPoller waits the poll interval, issues one status request, and only
// then schedules the next wait, so at most one request is outstanding.
func (c *Coordinator) runPoller(ctx context.Context, p *poller) {
	defer close(p.done)
	defer p.cancel()

	logger := log.With().Str("sessionID", p.sessionID).Logger()
	logger.Debug().Dur("interval", c.pollInterval).Msg("starting status polling")

	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("status polling stopped")
			return
		case <-timer.C:
		}

		if _, err := c.PollTick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug().Err(err).Msg("status poll failed, retrying")
		}

		if !c.isCurrent(p) {
			logger.Debug().Msg("status polling finished")
			return
		}
		timer.Reset(c.pollInterval)
	}
}
