package acceptance_tests

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diet-planner/internal/app"
	"ai-diet-planner/internal/config"
	"ai-diet-planner/internal/llm"
	"ai-diet-planner/internal/nutrient"
	"ai-diet-planner/internal/planner"
	"ai-diet-planner/internal/poller"
	"ai-diet-planner/internal/shared"
)

// --- Mock LLM Client ---
type mockLLMClient struct {
	mu      sync.Mutex
	calls   map[planner.Section]int
	failing map[planner.Section]bool
}

func newMockLLM() *mockLLMClient {
	return &mockLLMClient{calls: map[planner.Section]int{}, failing: map[planner.Section]bool{}}
}

func sectionOf(prompt string) planner.Section {
	switch {
	case strings.Contains(prompt, "nutritional profile"):
		return planner.SectionProfile
	case strings.Contains(prompt, "seven day menu"):
		return planner.SectionMenu
	case strings.Contains(prompt, "nutrition principles"):
		return planner.SectionPrinciples
	default:
		return planner.SectionGuidance
	}
}

func (m *mockLLMClient) GenerateContent(_ context.Context, prompt string, _ llm.Options) (llm.ContentResponse, error) {
	sec := sectionOf(prompt)
	m.mu.Lock()
	m.calls[sec]++
	fail := m.failing[sec]
	m.mu.Unlock()

	if fail {
		return llm.ContentResponse{}, llm.NewTransientError(errors.New("upstream 503"))
	}
	usage := shared.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Model: "mock"}
	switch sec {
	case planner.SectionProfile:
		return llm.ContentResponse{Content: `{"summary": "Активен мъж", "targetCalories": 2200,}`, Usage: usage}, nil
	case planner.SectionMenu:
		// Truncated output must still be salvaged.
		return llm.ContentResponse{Content: "```json\n{\"days\": [{\"day\": 1, \"totalCalories\": 2190", Usage: usage}, nil
	default:
		return llm.ContentResponse{Content: `Here you go: {"items": ["Пийте вода"]}`, Usage: usage}, nil
	}
}

func (m *mockLLMClient) setFailing(sec planner.Section, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[sec] = fail
}

func (m *mockLLMClient) count(sec planner.Section) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[sec]
}

// --- Mock nutrition API ---
type mockSearcher struct {
	mu    sync.Mutex
	calls int
}

func (m *mockSearcher) Search(_ context.Context, food string) (nutrient.Macros, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return nutrient.Macros{Food: food, Calories: 89, Protein: 1.1, Carbs: 22.8, Fat: 0.3}, nil
}

type silentUI struct{}

func (silentUI) SetBusy(bool)   {}
func (silentUI) OnPending()     {}
func (silentUI) OnReady()       {}
func (silentUI) OnError(string) {}

func setup(t *testing.T) (*app.App, *httptest.Server, *mockLLMClient, *mockSearcher) {
	t.Helper()
	cfg := &config.Config{
		KVBackend:        config.BackendSQLite,
		DatabasePath:     filepath.Join(t.TempDir(), "acceptance.db"),
		NutrientCacheTTL: 24 * time.Hour,
	}
	gen := newMockLLM()
	searcher := &mockSearcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := app.New(context.Background(), cfg, logger, app.WithTextGenerator(gen), app.WithNutrientSearcher(searcher))
	require.NoError(t, err)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})

	_, err = a.SeedPrompts(context.Background(), nil, false)
	require.NoError(t, err)
	return a, srv, gen, searcher
}

func putAnswers(t *testing.T, srv *httptest.Server, userID, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/users/"+userID+"/answers", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func generate(t *testing.T, srv *httptest.Server, req planner.Request) planner.PlanStatus {
	t.Helper()
	client := poller.NewHTTPClient(srv.URL, "", srv.Client())
	p := &poller.Poller{Interval: 5 * time.Millisecond, Fetch: client, UI: silentUI{}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := p.Generate(ctx, client, req)
	require.NoError(t, err)
	return status
}

func TestPlanGenerationOverHTTP(t *testing.T) {
	_, srv, gen, _ := setup(t)
	client := poller.NewHTTPClient(srv.URL, "", srv.Client())
	ctx := context.Background()

	// Without answers the trigger is refused with the stored message.
	pre, err := client.CheckPrerequisites(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, pre.OK)
	assert.Equal(t, planner.MissingAnswersMessage, pre.Message)

	putAnswers(t, srv, "u1", `{"age": 34, "goal": "отслабване", "allergies": ["ядки"]}`)

	status := generate(t, srv, planner.Request{UserID: "u1"})
	require.Equal(t, planner.StatusReady, status)

	plan, err := client.Plan(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, plan.Sections, 4)
	assert.Equal(t, "Активен мъж", plan.Sections[planner.SectionProfile].Data["summary"])
	days := plan.Sections[planner.SectionMenu].Data["days"].([]any)
	assert.EqualValues(t, 2190, days[0].(map[string]any)["totalCalories"])

	for _, sec := range planner.Sections {
		assert.Equal(t, 1, gen.count(sec), sec)
	}
}

func TestFailedRunResumesOnlyMissingSections(t *testing.T) {
	_, srv, gen, _ := setup(t)
	putAnswers(t, srv, "u1", `{"goal": "мускулна маса"}`)

	gen.setFailing(planner.SectionMenu, true)
	status := generate(t, srv, planner.Request{UserID: "u1"})
	require.Equal(t, planner.StatusError, status)

	client := poller.NewHTTPClient(srv.URL, "", srv.Client())
	st, err := client.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Contains(t, st.Message, "menu")

	gen.setFailing(planner.SectionMenu, false)
	status = generate(t, srv, planner.Request{UserID: "u1"})
	require.Equal(t, planner.StatusReady, status)

	assert.Equal(t, 1, gen.count(planner.SectionProfile), "profile is reused")
	assert.Equal(t, 2, gen.count(planner.SectionMenu))
	assert.Equal(t, 1, gen.count(planner.SectionPrinciples))
	assert.Equal(t, 1, gen.count(planner.SectionGuidance))

	// A forced run regenerates every section.
	status = generate(t, srv, planner.Request{UserID: "u1", Force: true, Reason: "нова цел"})
	require.Equal(t, planner.StatusReady, status)
	assert.Equal(t, 2, gen.count(planner.SectionProfile))
}

func TestNutrientLookupIsCached(t *testing.T) {
	_, srv, _, searcher := setup(t)

	for _, food := range []string{"Банан", "  банан ", "БАНАН"} {
		resp, err := srv.Client().Post(srv.URL+"/api/nutrients", "application/json",
			strings.NewReader(`{"food":"`+food+`"}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, 1, searcher.calls)
}
