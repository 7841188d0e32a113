package coordinator

import (
	"github.com/raine/menu-visualizer/internal/menuapi"
)

// Phase is the coordinator's position in the upload/poll lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseSubmitFailed
	PhasePolling
	PhaseCompleted
	PhasePollError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSubmitFailed:
		return "submit_failed"
	case PhasePolling:
		return "polling"
	case PhaseCompleted:
		return "completed"
	case PhasePollError:
		return "poll_error"
	default:
		return "unknown"
	}
}

// View is what a front-end should display for a state.
type View int

const (
	ViewIdle View = iota
	ViewProcessing
	ViewError
	ViewResults
)

func (v View) String() string {
	switch v {
	case ViewIdle:
		return "idle"
	case ViewProcessing:
		return "processing"
	case ViewError:
		return "error"
	case ViewResults:
		return "results"
	default:
		return "unknown"
	}
}

// Results is the recognized menu of the active session.
type Results struct {
	SessionID    string
	TotalItems   int
	MatchedItems int
	OCRError     string
	Items        []menuapi.Item
}

// State is a snapshot of the coordinator. Values returned from the
// coordinator are copies and may be kept by the caller.
type State struct {
	Phase            Phase
	IsProcessing     bool
	Results          *Results
	Error            string
	ProcessingStatus *menuapi.ProcessingStatus
	SessionID        string

	// Revision increases with every committed transition.
	Revision uint64
}

// View derives the display variant from the phase. A failed poll still
// shows results, with Error rendered as a banner.
func (s State) View() View {
	switch s.Phase {
	case PhaseSubmitting:
		return ViewProcessing
	case PhaseSubmitFailed:
		return ViewError
	case PhasePolling, PhaseCompleted, PhasePollError:
		return ViewResults
	default:
		return ViewIdle
	}
}

// Polling reports whether status polling is active for the state: a session
// is set and its status is not terminal.
func (s State) Polling() bool {
	if s.SessionID == "" || s.ProcessingStatus == nil {
		return false
	}
	return !s.ProcessingStatus.Status.IsTerminal()
}

func (s State) clone() State {
	out := s
	if s.ProcessingStatus != nil {
		ps := *s.ProcessingStatus
		out.ProcessingStatus = &ps
	}
	if s.Results != nil {
		r := *s.Results
		r.Items = cloneItems(s.Results.Items)
		out.Results = &r
	}
	return out
}

func cloneItems(items []menuapi.Item) []menuapi.Item {
	if items == nil {
		return nil
	}
	out := make([]menuapi.Item, len(items))
	for i, item := range items {
		if item.Images != nil {
			item.Images = append([]menuapi.ItemImage(nil), item.Images...)
		}
		if item.Confidence != nil {
			c := *item.Confidence
			item.Confidence = &c
		}
		out[i] = item
	}
	return out
}

func countMatched(items []menuapi.Item) int {
	n := 0
	for _, item := range items {
		if item.Matched {
			n++
		}
	}
	return n
}
