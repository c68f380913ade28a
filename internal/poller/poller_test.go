package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diet-planner/internal/planner"
)

type recordingUI struct {
	mu     sync.Mutex
	events []string
	busy   []bool
}

func (u *recordingUI) add(e string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, e)
}

func (u *recordingUI) SetBusy(b bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.busy = append(u.busy, b)
}
func (u *recordingUI) OnPending()              { u.add("pending") }
func (u *recordingUI) OnReady()                { u.add("ready") }
func (u *recordingUI) OnError(msg string)      { u.add("error:" + msg) }
func (u *recordingUI) EnableTrigger()          { u.add("enabled") }
func (u *recordingUI) DisableTrigger(m string) { u.add("disabled:" + m) }

type scriptedStatus struct {
	mu      sync.Mutex
	results []planner.StatusResult
	errs    []error
	calls   int
}

func (s *scriptedStatus) Status(_ context.Context, _ string) (planner.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func pending() planner.StatusResult {
	return planner.StatusResult{Success: true, PlanStatus: planner.StatusPending}
}

func TestRunPendingThenReady(t *testing.T) {
	fetch := &scriptedStatus{results: []planner.StatusResult{
		pending(), pending(), pending(),
		{Success: true, PlanStatus: planner.StatusReady},
		pending(),
	}}
	ui := &recordingUI{}
	p := &Poller{Interval: time.Millisecond, Fetch: fetch, UI: ui}

	status, err := p.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, planner.StatusReady, status)
	assert.Equal(t, []string{"pending", "ready"}, ui.events)
	assert.Equal(t, 4, fetch.calls, "polling stops on ready")
	assert.Equal(t, []bool{true, false}, ui.busy)
}

func TestRunErrorSurfacesMessage(t *testing.T) {
	fetch := &scriptedStatus{results: []planner.StatusResult{
		pending(),
		{Success: true, PlanStatus: planner.StatusError, Message: "failed sections: menu"},
	}}
	ui := &recordingUI{}
	p := &Poller{Interval: time.Millisecond, Fetch: fetch, UI: ui}

	status, err := p.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, planner.StatusError, status)
	assert.Equal(t, []string{"pending", "error:failed sections: menu"}, ui.events)
}

func TestRunContinuesOnTransportError(t *testing.T) {
	fetch := &scriptedStatus{
		results: []planner.StatusResult{{}, pending(), {Success: true, PlanStatus: planner.StatusReady}},
		errs:    []error{errors.New("connection reset")},
	}
	ui := &recordingUI{}
	p := &Poller{Interval: time.Millisecond, Fetch: fetch, UI: ui}

	status, err := p.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, planner.StatusReady, status)
	assert.Equal(t, []string{"pending", "ready"}, ui.events)
}

func TestRunStopsWhenNotStarted(t *testing.T) {
	fetch := &scriptedStatus{results: []planner.StatusResult{{Success: false, Message: planner.NotStartedMessage}}}
	ui := &recordingUI{}
	p := &Poller{Interval: time.Millisecond, Fetch: fetch, UI: ui}

	_, err := p.Run(context.Background(), "u1")
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, []string{"error:" + planner.NotStartedMessage}, ui.events)
}

func TestRunHonorsContext(t *testing.T) {
	fetch := &scriptedStatus{results: []planner.StatusResult{pending()}}
	ui := &recordingUI{}
	p := &Poller{Interval: 5 * time.Millisecond, Fetch: fetch, UI: ui}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Run(ctx, "u1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"pending"}, ui.events)
	assert.Equal(t, []bool{true, false}, ui.busy)
}

type fakeBackend struct {
	scriptedStatus
	pre   planner.Prerequisites
	start planner.StartResult
}

func (b *fakeBackend) CheckPrerequisites(context.Context, string) (planner.Prerequisites, error) {
	return b.pre, nil
}

func (b *fakeBackend) Start(context.Context, planner.Request) (planner.StartResult, error) {
	return b.start, nil
}

func TestGenerate(t *testing.T) {
	backend := &fakeBackend{
		start: planner.StartResult{Success: true},
		scriptedStatus: scriptedStatus{results: []planner.StatusResult{
			pending(), {Success: true, PlanStatus: planner.StatusReady},
		}},
	}
	ui := &recordingUI{}
	p := &Poller{Interval: time.Millisecond, Fetch: backend, UI: ui}

	status, err := p.Generate(context.Background(), backend, planner.Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, planner.StatusReady, status)

	rejected := &fakeBackend{start: planner.StartResult{Success: false, Message: planner.MissingAnswersMessage}}
	ui = &recordingUI{}
	p = &Poller{Interval: time.Millisecond, Fetch: rejected, UI: ui}
	_, err = p.Generate(context.Background(), rejected, planner.Request{UserID: "u1"})
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, []string{"error:" + planner.MissingAnswersMessage}, ui.events)
	assert.Zero(t, rejected.calls)
}

func TestGate(t *testing.T) {
	ui := &recordingUI{}
	ok, err := Gate(context.Background(), &fakeBackend{pre: planner.Prerequisites{OK: false, Message: planner.CorruptAnswersMessage}}, "u1", ui)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"disabled:" + planner.CorruptAnswersMessage}, ui.events)

	ui = &recordingUI{}
	ok, err = Gate(context.Background(), &fakeBackend{pre: planner.Prerequisites{OK: true}}, "u1", ui)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"enabled"}, ui.events)
}

func TestHTTPClient(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/u1/plan/prerequisites", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(planner.Prerequisites{OK: true})
	})
	mux.HandleFunc("POST /api/users/u1/plan/generate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req planner.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "по-леко", req.Reason)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(planner.StartResult{Success: true, RunID: "r1"})
	})
	mux.HandleFunc("GET /api/users/u1/plan/status", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		res := pending()
		if n > 1 {
			res = planner.StatusResult{Success: true, PlanStatus: planner.StatusReady}
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("GET /api/users/u2/plan/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(planner.StatusResult{Success: false, Message: planner.NotStartedMessage})
	})
	mux.HandleFunc("POST /api/users/u2/plan/generate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(planner.StartResult{Success: false, Message: planner.MissingAnswersMessage})
	})
	mux.HandleFunc("GET /api/users/u3/plan/status", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", "tok", srv.Client())
	ctx := context.Background()

	pre, err := client.CheckPrerequisites(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, pre.OK)

	ui := &recordingUI{}
	p := &Poller{Interval: time.Millisecond, Fetch: client, UI: ui}
	status, err := p.Generate(ctx, client, planner.Request{UserID: "u1", Reason: "по-леко"})
	require.NoError(t, err)
	assert.Equal(t, planner.StatusReady, status)
	assert.Equal(t, []string{"pending", "ready"}, ui.events)

	res, err := client.Status(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, res.Success)

	start, err := client.Start(ctx, planner.Request{UserID: "u2"})
	require.NoError(t, err)
	assert.False(t, start.Success)
	assert.Equal(t, planner.MissingAnswersMessage, start.Message)

	_, err = client.Status(ctx, "u3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}
