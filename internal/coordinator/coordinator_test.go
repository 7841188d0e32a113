package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raine/menu-visualizer/internal/intake"
	"github.com/raine/menu-visualizer/internal/menuapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecognizer scripts backend responses and records status requests.
type fakeRecognizer struct {
	parse  func(ctx context.Context, upload menuapi.Upload) (*menuapi.ParseResponse, error)
	status func(ctx context.Context, sessionID string) (*menuapi.StatusResponse, error)

	mu          sync.Mutex
	statusCalls []string
}

func (f *fakeRecognizer) ParseImage(ctx context.Context, upload menuapi.Upload) (*menuapi.ParseResponse, error) {
	return f.parse(ctx, upload)
}

func (f *fakeRecognizer) SessionStatus(ctx context.Context, sessionID string) (*menuapi.StatusResponse, error) {
	f.mu.Lock()
	f.statusCalls = append(f.statusCalls, sessionID)
	f.mu.Unlock()
	return f.status(ctx, sessionID)
}

func (f *fakeRecognizer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusCalls...)
}

func parseOK(sessionID string, items ...menuapi.Item) func(context.Context, menuapi.Upload) (*menuapi.ParseResponse, error) {
	return func(context.Context, menuapi.Upload) (*menuapi.ParseResponse, error) {
		return &menuapi.ParseResponse{
			SessionID:    sessionID,
			TotalItems:   len(items),
			MatchedItems: countMatched(items),
			Items:        items,
		}, nil
	}
}

func statusOf(status menuapi.Status, items []menuapi.Item) func(context.Context, string) (*menuapi.StatusResponse, error) {
	return func(context.Context, string) (*menuapi.StatusResponse, error) {
		return &menuapi.StatusResponse{
			ProcessingStatus: menuapi.ProcessingStatus{Status: status},
			Items:            items,
		}, nil
	}
}

func testPreview() *intake.Preview {
	return &intake.Preview{File: intake.File{Name: "menu.jpg", MIMEType: "image/jpeg", Data: []byte("jpeg")}}
}

// manual returns options with a poll interval long enough that only explicit
// PollTick calls reach the backend.
func manual() Options {
	return Options{PollInterval: time.Hour}
}

func TestSubmit_StartsPollingForSession(t *testing.T) {
	api := &fakeRecognizer{
		parse:  parseOK("s1", menuapi.Item{Name: "Pho", Matched: true}, menuapi.Item{Name: "Che"}),
		status: statusOf(menuapi.StatusProcessingImages, nil),
	}
	c := New(api, manual())
	defer c.Reset()

	require.NoError(t, c.Submit(context.Background(), testPreview()))

	s := c.Snapshot()
	assert.Equal(t, PhasePolling, s.Phase)
	assert.Equal(t, ViewResults, s.View())
	assert.False(t, s.IsProcessing)
	assert.Equal(t, "s1", s.SessionID)
	assert.True(t, s.Polling())
	require.NotNil(t, s.ProcessingStatus)
	assert.Equal(t, menuapi.StatusProcessingImages, s.ProcessingStatus.Status)
	assert.Equal(t, 2, s.ProcessingStatus.Total)
	assert.Equal(t, 0, s.ProcessingStatus.Completed)
	require.NotNil(t, s.Results)
	assert.Equal(t, 1, s.Results.MatchedItems)
	assert.Len(t, s.Results.Items, 2)

	committed, err := c.PollTick(context.Background())
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, []string{"s1"}, api.calls())
}

func TestSubmit_TimeoutMessage(t *testing.T) {
	api := &fakeRecognizer{
		parse: func(context.Context, menuapi.Upload) (*menuapi.ParseResponse, error) {
			return nil, fmt.Errorf("parse image: %w", menuapi.ErrTimeout)
		},
	}
	c := New(api, manual())

	err := c.Submit(context.Background(), testPreview())
	require.Error(t, err)
	assert.ErrorIs(t, err, menuapi.ErrTimeout)

	s := c.Snapshot()
	assert.Equal(t, PhaseSubmitFailed, s.Phase)
	assert.Equal(t, ViewError, s.View())
	assert.False(t, s.IsProcessing)
	assert.Equal(t, "Request timed out. Please try with a smaller image.", s.Error)
	assert.Empty(t, s.SessionID)
	assert.False(t, s.Polling())
	assert.Empty(t, api.calls())
}

func TestSubmit_RealClientTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	client := menuapi.NewClient(menuapi.ClientOpts{BaseURL: ts.URL, UploadTimeout: 50 * time.Millisecond})
	c := New(client, manual())

	assert.Error(t, c.Submit(context.Background(), testPreview()))
	s := c.Snapshot()
	assert.Equal(t, menuapi.MsgTimeout, s.Error)
	assert.False(t, s.IsProcessing)
}

func TestSubmit_BusyWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeRecognizer{
		parse: func(ctx context.Context, upload menuapi.Upload) (*menuapi.ParseResponse, error) {
			close(started)
			<-release
			return &menuapi.ParseResponse{SessionID: "s1", Items: []menuapi.Item{}}, nil
		},
		status: statusOf(menuapi.StatusProcessingImages, nil),
	}
	c := New(api, manual())
	defer c.Reset()

	errc := make(chan error, 1)
	go func() { errc <- c.Submit(context.Background(), testPreview()) }()
	<-started

	s := c.Snapshot()
	assert.Equal(t, PhaseSubmitting, s.Phase)
	assert.Equal(t, ViewProcessing, s.View())
	assert.True(t, s.IsProcessing)

	assert.ErrorIs(t, c.Submit(context.Background(), testPreview()), ErrBusy)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, "s1", c.Snapshot().SessionID)
}

func TestStart_EntersSubmittingBeforeReturning(t *testing.T) {
	release := make(chan struct{})
	api := &fakeRecognizer{
		parse: func(ctx context.Context, upload menuapi.Upload) (*menuapi.ParseResponse, error) {
			<-release
			return parseOK("s1")(ctx, upload)
		},
		status: statusOf(menuapi.StatusProcessingImages, nil),
	}
	c := New(api, manual())
	defer c.Reset()

	done := make(chan error, 1)
	require.NoError(t, c.Start(context.Background(), testPreview(), func(err error) { done <- err }))
	assert.Equal(t, PhaseSubmitting, c.Snapshot().Phase)

	assert.ErrorIs(t, c.Start(context.Background(), testPreview(), nil), ErrBusy)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, PhasePolling, c.Snapshot().Phase)
	assert.Equal(t, "s1", c.Snapshot().SessionID)
}

func TestReset_DuringSubmitDiscardsResponse(t *testing.T) {
	started := make(chan struct{})
	api := &fakeRecognizer{
		parse: func(ctx context.Context, upload menuapi.Upload) (*menuapi.ParseResponse, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := New(api, manual())

	errc := make(chan error, 1)
	go func() { errc <- c.Submit(context.Background(), testPreview()) }()
	<-started

	c.Reset()
	assert.ErrorIs(t, <-errc, ErrReset)

	s := c.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Equal(t, ViewIdle, s.View())
	assert.Empty(t, s.Error)
}

func TestPollTick_ReplacesItemsAndStopsOnCompleted(t *testing.T) {
	enriched := []menuapi.Item{
		{Name: "Pho", Matched: true, Images: []menuapi.ItemImage{{URL: "https://img/pho.jpg", Source: "pexels"}}},
		{Name: "Che", Matched: true},
	}
	api := &fakeRecognizer{
		parse:  parseOK("s1", menuapi.Item{Name: "Pho", Matched: true}, menuapi.Item{Name: "Che"}),
		status: statusOf(menuapi.StatusCompleted, enriched),
	}
	c := New(api, manual())
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	committed, err := c.PollTick(context.Background())
	require.NoError(t, err)
	assert.True(t, committed)

	s := c.Snapshot()
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.False(t, s.Polling())
	assert.Equal(t, 2, s.Results.MatchedItems)
	require.Len(t, s.Results.Items[0].Images, 1)
	assert.Equal(t, "https://img/pho.jpg", s.Results.Items[0].Images[0].URL)

	// Terminal: further ticks are no-ops and reach no backend
	committed, err = c.PollTick(context.Background())
	assert.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, []string{"s1"}, api.calls())
	assert.Equal(t, s.Revision, c.Snapshot().Revision)
}

func TestPollTick_ErrorStatusKeepsItems(t *testing.T) {
	api := &fakeRecognizer{
		parse: parseOK("s1", menuapi.Item{Name: "Pho"}),
		status: func(context.Context, string) (*menuapi.StatusResponse, error) {
			return &menuapi.StatusResponse{
				ProcessingStatus: menuapi.ProcessingStatus{Status: menuapi.StatusError, Error: "Pexels quota exceeded"},
			}, nil
		},
	}
	c := New(api, manual())
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	_, err := c.PollTick(context.Background())
	require.NoError(t, err)

	s := c.Snapshot()
	assert.Equal(t, PhasePollError, s.Phase)
	assert.Equal(t, ViewResults, s.View())
	assert.Equal(t, "Pexels quota exceeded", s.Error)
	require.Len(t, s.Results.Items, 1)
	assert.Equal(t, "Pho", s.Results.Items[0].Name)

	committed, _ := c.PollTick(context.Background())
	assert.False(t, committed)
}

func TestPollTick_ErrorStatusWithoutMessage(t *testing.T) {
	api := &fakeRecognizer{
		parse:  parseOK("s1"),
		status: statusOf(menuapi.StatusError, nil),
	}
	c := New(api, manual())
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	_, err := c.PollTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MsgImageSearchFailed, c.Snapshot().Error)
}

func TestPollTick_FailureLeavesStateUnchanged(t *testing.T) {
	api := &fakeRecognizer{
		parse: parseOK("s1", menuapi.Item{Name: "Pho"}),
		status: func(context.Context, string) (*menuapi.StatusResponse, error) {
			return nil, fmt.Errorf("session status: %w", menuapi.ErrUnreachable)
		},
	}
	c := New(api, manual())
	defer c.Reset()
	require.NoError(t, c.Submit(context.Background(), testPreview()))
	before := c.Snapshot()

	committed, err := c.PollTick(context.Background())
	assert.ErrorIs(t, err, menuapi.ErrUnreachable)
	assert.False(t, committed)
	assert.Equal(t, before, c.Snapshot())

	// Still polling: the next tick goes out again
	_, _ = c.PollTick(context.Background())
	assert.Len(t, api.calls(), 2)
}

// inFlight counts concurrent status requests.
type inFlight struct {
	cur, peak atomic.Int32
}

func (f *inFlight) enter() {
	n := f.cur.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (f *inFlight) leave() { f.cur.Add(-1) }

func TestPollTick_SkippedWhileTickInFlight(t *testing.T) {
	var flight inFlight
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeRecognizer{
		parse: parseOK("s1", menuapi.Item{Name: "Pho"}),
		status: func(context.Context, string) (*menuapi.StatusResponse, error) {
			flight.enter()
			defer flight.leave()
			entered <- struct{}{}
			<-release
			return &menuapi.StatusResponse{
				ProcessingStatus: menuapi.ProcessingStatus{Status: menuapi.StatusProcessingImages},
			}, nil
		},
	}
	c := New(api, manual())
	defer c.Reset()
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	first := make(chan bool, 1)
	go func() {
		committed, _ := c.PollTick(context.Background())
		first <- committed
	}()
	<-entered

	for i := 0; i < 10; i++ {
		committed, err := c.PollTick(context.Background())
		assert.NoError(t, err)
		assert.False(t, committed)
	}

	close(release)
	assert.True(t, <-first)
	assert.Equal(t, int32(1), flight.peak.Load())
	assert.Len(t, api.calls(), 1)
}

func TestPollTick_ConcurrentWithPoller(t *testing.T) {
	var flight inFlight
	api := &fakeRecognizer{
		parse: parseOK("s1", menuapi.Item{Name: "Pho"}),
		status: func(context.Context, string) (*menuapi.StatusResponse, error) {
			flight.enter()
			defer flight.leave()
			time.Sleep(5 * time.Millisecond)
			return &menuapi.StatusResponse{
				ProcessingStatus: menuapi.ProcessingStatus{Status: menuapi.StatusProcessingImages},
			}, nil
		},
	}
	c := New(api, Options{PollInterval: time.Millisecond})
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, _ = c.PollTick(context.Background())
			}
		}()
	}
	wg.Wait()
	c.Reset()

	assert.NotEmpty(t, api.calls())
	assert.Equal(t, int32(1), flight.peak.Load())
}

func TestPollTick_AbsentItemsKeepPrevious(t *testing.T) {
	api := &fakeRecognizer{
		parse: parseOK("s1", menuapi.Item{Name: "Pho"}, menuapi.Item{Name: "Che"}),
		status: func(context.Context, string) (*menuapi.StatusResponse, error) {
			return &menuapi.StatusResponse{
				ProcessingStatus: menuapi.ProcessingStatus{Status: menuapi.StatusProcessingImages, Progress: 50, Total: 2, Completed: 1},
			}, nil
		},
	}
	c := New(api, manual())
	defer c.Reset()
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	_, err := c.PollTick(context.Background())
	require.NoError(t, err)

	s := c.Snapshot()
	assert.Len(t, s.Results.Items, 2)
	assert.Equal(t, 1, s.ProcessingStatus.Completed)
	assert.Equal(t, 50.0, s.ProcessingStatus.Progress)
	assert.True(t, s.Polling())
}

func TestPollTick_StaleResponseDropped(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	api := &fakeRecognizer{
		parse: parseOK("s1", menuapi.Item{Name: "Pho"}),
		status: func(context.Context, string) (*menuapi.StatusResponse, error) {
			close(inFlight)
			<-release
			return &menuapi.StatusResponse{
				ProcessingStatus: menuapi.ProcessingStatus{Status: menuapi.StatusCompleted},
				Items:            []menuapi.Item{{Name: "Stale"}},
			}, nil
		},
	}
	c := New(api, manual())
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	type result struct {
		committed bool
		err       error
	}
	done := make(chan result, 1)
	go func() {
		committed, err := c.PollTick(context.Background())
		done <- result{committed, err}
	}()
	<-inFlight

	c.Reset()
	close(release)

	r := <-done
	assert.NoError(t, r.err)
	assert.False(t, r.committed)

	s := c.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Nil(t, s.Results)
	assert.Empty(t, s.SessionID)
}

func TestPollTick_NoopWhenIdle(t *testing.T) {
	api := &fakeRecognizer{}
	c := New(api, manual())

	committed, err := c.PollTick(context.Background())
	assert.NoError(t, err)
	assert.False(t, committed)
	assert.Empty(t, api.calls())
}

func TestReset_StopsPolling(t *testing.T) {
	api := &fakeRecognizer{
		parse:  parseOK("s1", menuapi.Item{Name: "Pho"}),
		status: statusOf(menuapi.StatusProcessingImages, nil),
	}
	c := New(api, Options{PollInterval: 5 * time.Millisecond})
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	require.Eventually(t, func() bool { return len(api.calls()) >= 2 }, time.Second, time.Millisecond)

	c.Reset()
	n := len(api.calls())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(api.calls()))

	s := c.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.False(t, s.IsProcessing)
	assert.Nil(t, s.Results)
	assert.Nil(t, s.ProcessingStatus)
	assert.Empty(t, s.Error)
	assert.Empty(t, s.SessionID)
}

func TestSubmit_NewUploadReplacesSession(t *testing.T) {
	var sessions atomic.Int32
	api := &fakeRecognizer{
		parse: func(context.Context, menuapi.Upload) (*menuapi.ParseResponse, error) {
			n := sessions.Add(1)
			return &menuapi.ParseResponse{SessionID: fmt.Sprintf("s%d", n), Items: []menuapi.Item{{Name: "Pho"}}}, nil
		},
		status: statusOf(menuapi.StatusProcessingImages, nil),
	}
	c := New(api, Options{PollInterval: 5 * time.Millisecond})
	defer c.Reset()

	require.NoError(t, c.Submit(context.Background(), testPreview()))
	require.Eventually(t, func() bool { return len(api.calls()) >= 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Submit(context.Background(), testPreview()))
	assert.Equal(t, "s2", c.Snapshot().SessionID)

	n := len(api.calls())
	require.Eventually(t, func() bool { return len(api.calls()) > n+1 }, time.Second, time.Millisecond)
	for _, id := range api.calls()[n:] {
		assert.Equal(t, "s2", id)
	}
}

func TestOnChange_ReceivesCommittedSnapshots(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase
	var revisions []uint64
	api := &fakeRecognizer{
		parse:  parseOK("s1", menuapi.Item{Name: "Pho"}),
		status: statusOf(menuapi.StatusCompleted, nil),
	}
	c := New(api, Options{
		PollInterval: time.Hour,
		OnChange: func(s State) {
			mu.Lock()
			defer mu.Unlock()
			phases = append(phases, s.Phase)
			revisions = append(revisions, s.Revision)
		},
	})

	require.NoError(t, c.Submit(context.Background(), testPreview()))
	_, err := c.PollTick(context.Background())
	require.NoError(t, err)
	c.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseSubmitting, PhasePolling, PhaseCompleted, PhaseIdle}, phases)
	assert.IsIncreasing(t, revisions)
}

func TestSnapshot_IsACopy(t *testing.T) {
	api := &fakeRecognizer{
		parse:  parseOK("s1", menuapi.Item{Name: "Pho", Images: []menuapi.ItemImage{{URL: "a"}}}),
		status: statusOf(menuapi.StatusProcessingImages, nil),
	}
	c := New(api, manual())
	defer c.Reset()
	require.NoError(t, c.Submit(context.Background(), testPreview()))

	s := c.Snapshot()
	s.Results.Items[0].Name = "changed"
	s.Results.Items[0].Images[0].URL = "b"
	s.ProcessingStatus.Status = menuapi.StatusCompleted

	fresh := c.Snapshot()
	assert.Equal(t, "Pho", fresh.Results.Items[0].Name)
	assert.Equal(t, "a", fresh.Results.Items[0].Images[0].URL)
	assert.True(t, fresh.Polling())
}

func TestScenario_ThreeItemsToCompleted(t *testing.T) {
	var statusRequests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/parse-image":
			w.Write([]byte(`{"session_id": "s1", "total_items": 3, "matched_items": 2, "items": [
				{"name": "Pho Bo", "matched": true},
				{"name": "Bun Cha", "matched": true},
				{"name": "Tra Da", "matched": false}
			]}`))
		case "/session/s1/status":
			if statusRequests.Add(1) == 1 {
				w.Write([]byte(`{"processing_status": {"status": "processing_images", "progress": 33, "total": 3, "completed": 1}}`))
				return
			}
			w.Write([]byte(`{"processing_status": {"status": "completed", "progress": 100, "total": 3, "completed": 3}, "items": [
				{"name": "Pho Bo", "matched": true, "images": [{"url": "https://img/pho.jpg", "source": "pexels", "photographer": "Ann"}]},
				{"name": "Bun Cha", "matched": true, "images": [{"url": "https://img/bun.jpg", "source": "unsplash"}]},
				{"name": "Tra Da", "matched": false}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	var mu sync.Mutex
	var history []State
	client := menuapi.NewClient(menuapi.ClientOpts{BaseURL: ts.URL})
	c := New(client, Options{
		PollInterval: 5 * time.Millisecond,
		OnChange: func(s State) {
			mu.Lock()
			history = append(history, s)
			mu.Unlock()
		},
	})

	require.NoError(t, c.Submit(context.Background(), testPreview()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(history) == 4
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	var phases []Phase
	for _, h := range history {
		phases = append(phases, h.Phase)
	}
	require.Len(t, history, 4)
	first := history[1]
	mu.Unlock()
	assert.Equal(t, []Phase{PhaseSubmitting, PhasePolling, PhasePolling, PhaseCompleted}, phases)
	assert.Equal(t, 3, first.ProcessingStatus.Total)
	assert.Equal(t, 0, first.ProcessingStatus.Completed)
	assert.Len(t, first.Results.Items, 3)

	s := c.Snapshot()
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, 3, s.ProcessingStatus.Completed)
	assert.Equal(t, 100.0, s.ProcessingStatus.Progress)
	require.Len(t, s.Results.Items, 3)
	assert.Equal(t, "https://img/pho.jpg", s.Results.Items[0].Images[0].URL)
	assert.Equal(t, "unsplash", s.Results.Items[1].Images[0].Source)

	n := statusRequests.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, statusRequests.Load())
	assert.EqualValues(t, 2, n)
}

func TestStateView(t *testing.T) {
	tests := []struct {
		phase Phase
		want  View
	}{
		{PhaseIdle, ViewIdle},
		{PhaseSubmitting, ViewProcessing},
		{PhaseSubmitFailed, ViewError},
		{PhasePolling, ViewResults},
		{PhaseCompleted, ViewResults},
		{PhasePollError, ViewResults},
	}
	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, State{Phase: tt.phase}.View())
		})
	}
}
