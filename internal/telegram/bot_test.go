package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diet-planner/internal/config"
	"ai-diet-planner/internal/metrics"
	"ai-diet-planner/internal/nutrient"
	"ai-diet-planner/internal/planner"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []tgbotapi.Chattable
	reqs   []tgbotapi.Chattable
	nextID int
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	s.nextID++
	return tgbotapi.Message{MessageID: s.nextID}, nil
}

func (s *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts returns the text of every sent message and edit, in order.
func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, "edit:"+m.Text)
		}
	}
	return out
}

type fakePlans struct {
	pre      planner.Prerequisites
	statuses []planner.StatusResult
	polls    int
	plan     planner.Plan
	started  []planner.Request
}

func (f *fakePlans) CheckPrerequisites(context.Context, string) (planner.Prerequisites, error) {
	return f.pre, nil
}

func (f *fakePlans) Start(_ context.Context, req planner.Request) (planner.StartResult, error) {
	f.started = append(f.started, req)
	return planner.StartResult{Success: true}, nil
}

func (f *fakePlans) Status(context.Context, string) (planner.StatusResult, error) {
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return f.statuses[i], nil
}

func (f *fakePlans) Plan(context.Context, string) (planner.Plan, error) {
	return f.plan, nil
}

type fakeNutrients struct{}

func (fakeNutrients) Lookup(_ context.Context, food string) (nutrient.Macros, error) {
	switch food {
	case "":
		return nutrient.Macros{}, nutrient.ErrEmptyQuery
	case "банан":
		return nutrient.Macros{Food: "banana", Calories: 89, Protein: 1.1, Carbs: 22.8, Fat: 0.3}, nil
	default:
		return nutrient.Macros{}, fmt.Errorf("%q: %w", food, nutrient.ErrNoResults)
	}
}

type fakeUsage struct{}

func (fakeUsage) GetDailyUsage(context.Context, int) ([]metrics.DailyUsage, error) {
	return []metrics.DailyUsage{{Date: "2026-10-16", TotalPrompt: 1200, TotalCompletion: 800, TotalExecution: 4}}, nil
}

func testBot(plans *fakePlans) (*Bot, *fakeSender) {
	sender := &fakeSender{}
	cfg := &config.Config{
		KVBackend:              config.BackendMemory,
		PollInterval:           time.Millisecond,
		TelegramAllowedUserIDs: []int64{42},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newBot(sender, cfg, plans, fakeNutrients{}, fakeUsage{}, logger), sender
}

func command(from int64, text string) tgbotapi.Update {
	cmd := strings.SplitN(text, " ", 2)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, UserName: "tester"},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}}
}

func TestUnauthorizedUserIgnored(t *testing.T) {
	bot, sender := testBot(&fakePlans{})
	bot.HandleUpdate(context.Background(), command(7, "/status"))
	assert.Empty(t, sender.texts())
}

func TestPlanCommandEditsOneMessagePerTransition(t *testing.T) {
	plans := &fakePlans{
		pre: planner.Prerequisites{OK: true},
		statuses: []planner.StatusResult{
			{Success: true, PlanStatus: planner.StatusPending},
			{Success: true, PlanStatus: planner.StatusPending},
			{Success: true, PlanStatus: planner.StatusReady},
		},
		plan: planner.Plan{
			UserID: "42",
			Status: planner.StatusRecord{Status: planner.StatusReady},
			Sections: map[planner.Section]planner.SectionRecord{
				planner.SectionProfile:  {Data: map[string]any{"calories": 1850.0, "goal": "отслабване"}},
				planner.SectionMenu:     {Data: map[string]any{"days": []any{map[string]any{"breakfast": "овесени ядки"}}}},
				planner.SectionGuidance: {Data: map[string]any{}},
			},
		},
	}
	bot, sender := testBot(plans)

	bot.HandleUpdate(context.Background(), command(42, "/plan"))

	texts := sender.texts()
	require.Len(t, texts, 5, texts)
	assert.Equal(t, "⏳ Starting plan generation...", texts[0])
	assert.True(t, strings.HasPrefix(texts[1], "edit:🧑‍🍳"))
	assert.Equal(t, "edit:✅ Your plan is ready.", texts[2])
	assert.Contains(t, texts[3], "👤 Profile")
	assert.Contains(t, texts[3], "calories: 1850")
	assert.Contains(t, texts[3], "goal: отслабване")
	assert.Contains(t, texts[4], "breakfast: овесени ядки")

	require.Len(t, plans.started, 1)
	assert.Equal(t, "42", plans.started[0].UserID)
	assert.False(t, plans.started[0].Force)
}

func TestPlanCommandBlockedByPrerequisites(t *testing.T) {
	plans := &fakePlans{pre: planner.Prerequisites{OK: false, Message: planner.MissingAnswersMessage}}
	bot, sender := testBot(plans)

	bot.HandleUpdate(context.Background(), command(42, "/plan"))

	assert.Equal(t, []string{planner.MissingAnswersMessage}, sender.texts())
	assert.Empty(t, plans.started)
}

func TestRegenerateForcesRunWithReason(t *testing.T) {
	plans := &fakePlans{
		pre: planner.Prerequisites{OK: true},
		statuses: []planner.StatusResult{
			{Success: true, PlanStatus: planner.StatusError, Message: "failed sections: menu"},
		},
	}
	bot, sender := testBot(plans)

	bot.HandleUpdate(context.Background(), command(42, "/regenerate повече протеин"))

	require.Len(t, plans.started, 1)
	assert.True(t, plans.started[0].Force)
	assert.Equal(t, "повече протеин", plans.started[0].Reason)
	assert.Contains(t, sender.texts(), "edit:❌ failed sections: menu")
}

func TestStatusCommand(t *testing.T) {
	bot, sender := testBot(&fakePlans{statuses: []planner.StatusResult{{Success: false, Message: planner.NotStartedMessage}}})
	bot.HandleUpdate(context.Background(), command(42, "/status"))
	assert.Contains(t, sender.texts()[0], "No plan has been generated yet")

	bot, sender = testBot(&fakePlans{statuses: []planner.StatusResult{{Success: true, PlanStatus: planner.StatusPending}}})
	bot.HandleUpdate(context.Background(), command(42, "/status"))
	assert.Equal(t, "Plan status: pending", sender.texts()[0])
}

func TestFoodCommand(t *testing.T) {
	bot, sender := testBot(&fakePlans{})

	bot.HandleUpdate(context.Background(), command(42, "/food банан"))
	bot.HandleUpdate(context.Background(), command(42, "/food камък"))
	bot.HandleUpdate(context.Background(), command(42, "/food"))

	texts := sender.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "Calories: 89 kcal")
	assert.Contains(t, texts[1], "No nutrition data found")
	assert.Contains(t, texts[2], "Usage: /food")
}

func TestMetricsCommand(t *testing.T) {
	bot, sender := testBot(&fakePlans{})
	bot.HandleUpdate(context.Background(), command(42, "/metrics"))
	assert.Contains(t, sender.texts()[0], "2026-10-16: 2000 tokens (4 execs)")
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	bot, _ := testBot(&fakePlans{})
	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFormatPlanTruncatesLongSections(t *testing.T) {
	long := strings.Repeat("я", maxMessageRunes*2)
	parts := formatPlan(planner.Plan{Sections: map[planner.Section]planner.SectionRecord{
		planner.SectionPrinciples: {Data: map[string]any{"text": long}},
	}})
	require.Len(t, parts, 1)
	assert.Equal(t, maxMessageRunes, len([]rune(parts[0])))
	assert.True(t, strings.HasSuffix(parts[0], "…"))

	assert.Equal(t, []string{"The plan is empty. Try /regenerate."}, formatPlan(planner.Plan{}))
}
