package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diet-planner/internal/metrics"
	"ai-diet-planner/internal/nutrient"
	"ai-diet-planner/internal/planner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePlans struct {
	pre       planner.Prerequisites
	start     planner.StartResult
	status    planner.StatusResult
	plan      planner.Plan
	err       error
	lastReq   planner.Request
	saved     planner.Answers
	savedUser string
}

func (f *fakePlans) CheckPrerequisites(_ context.Context, _ string) (planner.Prerequisites, error) {
	return f.pre, f.err
}

func (f *fakePlans) Start(_ context.Context, req planner.Request) (planner.StartResult, error) {
	f.lastReq = req
	return f.start, f.err
}

func (f *fakePlans) Status(_ context.Context, _ string) (planner.StatusResult, error) {
	return f.status, f.err
}

func (f *fakePlans) Plan(_ context.Context, _ string) (planner.Plan, error) {
	return f.plan, f.err
}

func (f *fakePlans) SaveAnswers(_ context.Context, userID string, answers planner.Answers) error {
	f.savedUser = userID
	f.saved = answers
	return f.err
}

type fakeNutrients struct {
	macros map[string]nutrient.Macros
	err    error
}

func (f *fakeNutrients) Lookup(_ context.Context, food string) (nutrient.Macros, error) {
	if f.err != nil {
		return nutrient.Macros{}, f.err
	}
	if food == "" {
		return nutrient.Macros{}, nutrient.ErrEmptyQuery
	}
	m, ok := f.macros[food]
	if !ok {
		return nutrient.Macros{}, fmt.Errorf("%q: %w", food, nutrient.ErrNoResults)
	}
	return m, nil
}

func (f *fakeNutrients) LookupMany(ctx context.Context, foods []string) (map[string]nutrient.Macros, error) {
	out := make(map[string]nutrient.Macros, len(foods))
	for _, food := range foods {
		m, err := f.Lookup(ctx, food)
		if err != nil {
			return nil, err
		}
		out[food] = m
	}
	return out, nil
}

func newTestRouter(plans *fakePlans, nutrients *fakeNutrients, verifier *Verifier) *gin.Engine {
	return NewRouter(Deps{
		Plans:     plans,
		Nutrients: nutrients,
		Verifier:  verifier,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "diet_planner_plan_runs_total 1\n")
		}),
		Health: func() metrics.SysHealth { return metrics.SysHealth{Status: "ok", KVBackend: "memory"} },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func do(t *testing.T, r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(&fakePlans{}, &fakeNutrients{}, nil)

	w := do(t, r, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "memory", decode(t, w)["kvBackend"])

	w = do(t, r, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "diet_planner_plan_runs_total")
}

func TestGetPrerequisites(t *testing.T) {
	plans := &fakePlans{pre: planner.Prerequisites{OK: false, Message: planner.MissingAnswersMessage}}
	r := newTestRouter(plans, &fakeNutrients{}, nil)

	w := do(t, r, http.MethodGet, "/api/users/u1/plan/prerequisites", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, planner.MissingAnswersMessage, body["message"])
}

func TestGeneratePlan(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		plans := &fakePlans{start: planner.StartResult{Success: true, RunID: "run-1"}}
		r := newTestRouter(plans, &fakeNutrients{}, nil)

		w := do(t, r, http.MethodPost, "/api/users/u1/plan/generate",
			`{"reason":"повече протеин","priorityGuidance":"high","force":true}`, "")
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, true, decode(t, w)["success"])
		assert.Equal(t, "u1", plans.lastReq.UserID)
		assert.Equal(t, "повече протеин", plans.lastReq.Reason)
		assert.Equal(t, "high", plans.lastReq.PriorityGuidance)
		assert.True(t, plans.lastReq.Force)
	})

	t.Run("empty body", func(t *testing.T) {
		plans := &fakePlans{start: planner.StartResult{Success: true}}
		r := newTestRouter(plans, &fakeNutrients{}, nil)

		w := do(t, r, http.MethodPost, "/api/users/u1/plan/generate", "", "")
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.False(t, plans.lastReq.Force)
	})

	t.Run("prerequisites not met", func(t *testing.T) {
		plans := &fakePlans{start: planner.StartResult{Success: false, Message: planner.MissingAnswersMessage}}
		r := newTestRouter(plans, &fakeNutrients{}, nil)

		w := do(t, r, http.MethodPost, "/api/users/u1/plan/generate", "", "")
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode(t, w)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, planner.MissingAnswersMessage, body["message"])
	})

	t.Run("invalid body", func(t *testing.T) {
		r := newTestRouter(&fakePlans{}, &fakeNutrients{}, nil)
		w := do(t, r, http.MethodPost, "/api/users/u1/plan/generate", `{"force":`, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		r := newTestRouter(&fakePlans{err: errors.New("kv down")}, &fakeNutrients{}, nil)
		w := do(t, r, http.MethodPost, "/api/users/u1/plan/generate", "", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetPlanStatus(t *testing.T) {
	r := newTestRouter(&fakePlans{status: planner.StatusResult{Success: true, PlanStatus: planner.StatusPending}}, &fakeNutrients{}, nil)
	w := do(t, r, http.MethodGet, "/api/users/u1/plan/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["planStatus"])

	r = newTestRouter(&fakePlans{status: planner.StatusResult{Success: false, Message: planner.NotStartedMessage}}, &fakeNutrients{}, nil)
	w = do(t, r, http.MethodGet, "/api/users/u1/plan/status", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestGetPlan(t *testing.T) {
	ready := planner.Plan{
		UserID: "u1",
		Status: planner.StatusRecord{Status: planner.StatusReady},
		Sections: map[planner.Section]planner.SectionRecord{
			planner.SectionProfile: {Timestamp: 1, Data: map[string]any{"calories": 1800.0}},
		},
	}
	r := newTestRouter(&fakePlans{plan: ready}, &fakeNutrients{}, nil)
	w := do(t, r, http.MethodGet, "/api/users/u1/plan", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	sections := decode(t, w)["sections"].(map[string]any)
	assert.Contains(t, sections, "profile")

	pending := planner.Plan{UserID: "u1", Status: planner.StatusRecord{Status: planner.StatusPending}}
	r = newTestRouter(&fakePlans{plan: pending}, &fakeNutrients{}, nil)
	w = do(t, r, http.MethodGet, "/api/users/u1/plan", "", "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "pending", decode(t, w)["planStatus"])
}

func TestPutAnswers(t *testing.T) {
	plans := &fakePlans{}
	r := newTestRouter(plans, &fakeNutrients{}, nil)

	w := do(t, r, http.MethodPut, "/api/users/u1/answers", `{"goal":"отслабване","weight":82}`, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", plans.savedUser)
	assert.Equal(t, "отслабване", plans.saved["goal"])

	w = do(t, r, http.MethodPut, "/api/users/u1/answers", `[1,2]`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLookupNutrient(t *testing.T) {
	nutrients := &fakeNutrients{macros: map[string]nutrient.Macros{
		"банан": {Food: "banana", Calories: 89, Protein: 1.1, Carbs: 22.8, Fat: 0.3},
	}}
	r := newTestRouter(&fakePlans{}, nutrients, nil)

	w := do(t, r, http.MethodPost, "/api/nutrients", `{"food":"банан"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 89.0, decode(t, w)["calories"])

	w = do(t, r, http.MethodPost, "/api/nutrients", `{"food":"камък"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/nutrients", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = newTestRouter(&fakePlans{}, &fakeNutrients{err: errors.New("upstream 500")}, nil)
	w = do(t, r, http.MethodPost, "/api/nutrients", `{"food":"банан"}`, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestLookupNutrientsBatch(t *testing.T) {
	nutrients := &fakeNutrients{macros: map[string]nutrient.Macros{
		"банан": {Food: "banana", Calories: 89},
		"ориз":  {Food: "rice", Calories: 130},
	}}
	r := newTestRouter(&fakePlans{}, nutrients, nil)

	w := do(t, r, http.MethodPost, "/api/nutrients/batch", `{"foods":["банан","ориз"]}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	results := decode(t, w)["results"].(map[string]any)
	assert.Len(t, results, 2)

	foods := make([]string, maxBatchFoods+1)
	for i := range foods {
		foods[i] = "банан"
	}
	payload, err := json.Marshal(map[string]any{"foods": foods})
	require.NoError(t, err)
	w = do(t, r, http.MethodPost, "/api/nutrients/batch", string(payload), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth(t *testing.T) {
	verifier := NewVerifier("test-secret")
	require.NotNil(t, verifier)
	plans := &fakePlans{status: planner.StatusResult{Success: true, PlanStatus: planner.StatusReady}}
	r := newTestRouter(plans, &fakeNutrients{}, verifier)

	own, err := verifier.Sign("u1", time.Hour)
	require.NoError(t, err)
	other, err := verifier.Sign("u2", time.Hour)
	require.NoError(t, err)
	expired, err := verifier.Sign("u1", -time.Hour)
	require.NoError(t, err)
	forged, err := NewVerifier("other-secret").Sign("u1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		token  string
		want   int
	}{
		{name: "valid", token: own, want: http.StatusOK},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "other user", token: other, want: http.StatusForbidden},
		{name: "expired", token: expired, want: http.StatusUnauthorized},
		{name: "wrong secret", token: forged, want: http.StatusUnauthorized},
		{name: "malformed header", header: "Token abc", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users/u1/plan/status", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	// health stays public
	w := do(t, r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewVerifierDisabled(t *testing.T) {
	assert.Nil(t, NewVerifier(""))
}

func TestExtractBearerToken(t *testing.T) {
	token, ok := extractBearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = extractBearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = extractBearerToken("abc")
	assert.False(t, ok)
}
