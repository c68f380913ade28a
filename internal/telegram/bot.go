package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ai-diet-planner/internal/config"
	"ai-diet-planner/internal/metrics"
	"ai-diet-planner/internal/nutrient"
	"ai-diet-planner/internal/planner"
	"ai-diet-planner/internal/poller"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageRunes = 4000

// Sender is the part of the Telegram API the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// PlanService drives plan generation.
type PlanService interface {
	poller.Backend
	Plan(ctx context.Context, userID string) (planner.Plan, error)
}

// NutrientLookup resolves a food description to macros.
type NutrientLookup interface {
	Lookup(ctx context.Context, food string) (nutrient.Macros, error)
}

// UsageReporter reports model token usage per day.
type UsageReporter interface {
	GetDailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error)
}

// Bot wraps the Telegram API around plan generation and nutrient lookups.
type Bot struct {
	api       Sender
	plans     PlanService
	nutrients NutrientLookup
	usage     UsageReporter
	cfg       *config.Config
	logger    *slog.Logger
	timeout   time.Duration
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, plans PlanService, nutrients NutrientLookup, usage UsageReporter, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logger.Info("authorized on telegram", "account", api.Self.UserName)

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.TelegramWebhookURL, err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	logger.Info("webhook set", "description", resp.Description)

	return newBot(api, cfg, plans, nutrients, usage, logger), nil
}

func newBot(api Sender, cfg *config.Config, plans PlanService, nutrients NutrientLookup, usage UsageReporter, logger *slog.Logger) *Bot {
	return &Bot{
		api:       api,
		plans:     plans,
		nutrients: nutrients,
		usage:     usage,
		cfg:       cfg,
		logger:    logger,
		timeout:   20 * time.Minute,
	}
}

// RegisterHandlers registers the webhook handler on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("error parsing update", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	go b.HandleUpdate(context.Background(), update)
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.cfg.IsTelegramUserAllowed(msg.From.ID) {
		b.logger.Warn("unauthorized access attempt", "telegram_user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	userID := strconv.FormatInt(msg.From.ID, 10)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "plan":
		b.handleGenerate(ctx, msg.Chat.ID, planner.Request{UserID: userID})
	case "regenerate":
		b.handleGenerate(ctx, msg.Chat.ID, planner.Request{UserID: userID, Reason: args, Force: true})
	case "status":
		b.handleStatus(ctx, msg.Chat.ID, userID)
	case "food":
		b.handleFood(ctx, msg.Chat.ID, args)
	case "metrics":
		b.handleMetrics(ctx, msg.Chat.ID)
	default:
		b.reply(msg.Chat.ID, helpText)
	}
}

const helpText = `Commands:
/plan - generate your diet plan
/regenerate <reason> - regenerate the plan from scratch
/status - show generation status
/food <description> - look up calories and macros
/metrics - usage report`

func (b *Bot) handleGenerate(ctx context.Context, chatID int64, req planner.Request) {
	gate := &chatGate{}
	ok, err := poller.Gate(ctx, b.plans, req.UserID, gate)
	if err != nil {
		b.logger.Error("prerequisite check failed", "user_id", req.UserID, "error", err)
		b.reply(chatID, "❌ Could not check your questionnaire answers. Try again later.")
		return
	}
	if !ok {
		b.reply(chatID, gate.message)
		return
	}

	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, "⏳ Starting plan generation..."))
	if err != nil {
		b.logger.Error("failed to send initial reply", "error", err)
		return
	}

	ui := &messageUI{bot: b, chatID: chatID, messageID: sent.MessageID}
	p := &poller.Poller{Interval: b.cfg.PollInterval, Fetch: b.plans, UI: ui, Logger: b.logger}
	status, err := p.Generate(ctx, b.plans, req)
	if err != nil {
		b.logger.Warn("plan generation did not complete", "user_id", req.UserID, "error", err)
		return
	}
	if status != planner.StatusReady {
		return
	}

	plan, err := b.plans.Plan(ctx, req.UserID)
	if err != nil {
		b.logger.Error("failed to load plan", "user_id", req.UserID, "error", err)
		b.reply(chatID, "❌ The plan is ready but could not be loaded.")
		return
	}
	for _, part := range formatPlan(plan) {
		b.reply(chatID, part)
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64, userID string) {
	res, err := b.plans.Status(ctx, userID)
	if err != nil {
		b.logger.Error("failed to read status", "user_id", userID, "error", err)
		b.reply(chatID, "❌ Could not read plan status.")
		return
	}
	if !res.Success {
		b.reply(chatID, "No plan has been generated yet. Send /plan to start.")
		return
	}
	text := fmt.Sprintf("Plan status: %s", res.PlanStatus)
	if res.Message != "" {
		text += "\n" + res.Message
	}
	b.reply(chatID, text)
}

func (b *Bot) handleFood(ctx context.Context, chatID int64, food string) {
	m, err := b.nutrients.Lookup(ctx, food)
	switch {
	case errors.Is(err, nutrient.ErrEmptyQuery):
		b.reply(chatID, "Usage: /food <description>, e.g. /food 100g oats")
	case errors.Is(err, nutrient.ErrNoResults):
		b.reply(chatID, fmt.Sprintf("No nutrition data found for %q.", food))
	case err != nil:
		b.logger.Warn("nutrient lookup failed", "food", food, "error", err)
		b.reply(chatID, "❌ Nutrition lookup is unavailable right now.")
	default:
		b.reply(chatID, formatMacros(m))
	}
}

func (b *Bot) handleMetrics(ctx context.Context, chatID int64) {
	if b.usage == nil {
		b.reply(chatID, "Metrics are not enabled.")
		return
	}
	usage, err := b.usage.GetDailyUsage(ctx, 7)
	if err != nil {
		b.reply(chatID, "❌ Error fetching metrics.")
		return
	}
	health := metrics.GetSysHealth(b.cfg.KVBackend, "")

	var sb strings.Builder
	sb.WriteString("📊 Usage & Health Report\n\n")
	sb.WriteString("🗓 Recent LLM Activity\n")
	if len(usage) == 0 {
		sb.WriteString("No data yet\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• %s: %d tokens (%d execs)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution)
	}
	sb.WriteString("\n🧠 System Health\n")
	fmt.Fprintf(&sb, "• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&sb, "• Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&sb, "• Uptime: %s\n", health.Uptime)
	b.reply(chatID, sb.String())
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		b.logger.Warn("failed to edit message", "chat_id", chatID, "error", err)
	}
}

// messageUI reflects poll transitions by editing a single message.
type messageUI struct {
	bot       *Bot
	chatID    int64
	messageID int
}

func (u *messageUI) SetBusy(busy bool) {
	if !busy {
		return
	}
	if _, err := u.bot.api.Request(tgbotapi.NewChatAction(u.chatID, tgbotapi.ChatTyping)); err != nil {
		u.bot.logger.Debug("failed to send chat action", "error", err)
	}
}

func (u *messageUI) OnPending() {
	u.bot.edit(u.chatID, u.messageID, "🧑‍🍳 Generating your plan... this can take a few minutes.")
}

func (u *messageUI) OnReady() {
	u.bot.edit(u.chatID, u.messageID, "✅ Your plan is ready.")
}

func (u *messageUI) OnError(message string) {
	u.bot.edit(u.chatID, u.messageID, "❌ "+message)
}

type chatGate struct {
	message string
}

func (g *chatGate) EnableTrigger()                {}
func (g *chatGate) DisableTrigger(message string) { g.message = message }

var sectionTitles = map[planner.Section]string{
	planner.SectionProfile:    "👤 Profile",
	planner.SectionMenu:       "🍽 Menu",
	planner.SectionPrinciples: "📐 Principles",
	planner.SectionGuidance:   "🧭 Guidance",
}

// formatPlan renders each non-empty section as its own message.
func formatPlan(plan planner.Plan) []string {
	var parts []string
	for _, sec := range planner.Sections {
		rec, ok := plan.Sections[sec]
		if !ok || len(rec.Data) == 0 {
			continue
		}
		var sb strings.Builder
		sb.WriteString(sectionTitles[sec])
		sb.WriteString("\n\n")
		writeValue(&sb, rec.Data, 0)
		parts = append(parts, truncate(sb.String(), maxMessageRunes))
	}
	if len(parts) == 0 {
		parts = append(parts, "The plan is empty. Try /regenerate.")
	}
	return parts
}

func writeValue(sb *strings.Builder, v any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := val[k]
			if isScalar(child) {
				fmt.Fprintf(sb, "%s%s: %s\n", indent, k, scalarString(child))
				continue
			}
			fmt.Fprintf(sb, "%s%s:\n", indent, k)
			writeValue(sb, child, depth+1)
		}
	case []any:
		for _, item := range val {
			if isScalar(item) {
				fmt.Fprintf(sb, "%s• %s\n", indent, scalarString(item))
				continue
			}
			fmt.Fprintf(sb, "%s•\n", indent)
			writeValue(sb, item, depth+1)
		}
	default:
		fmt.Fprintf(sb, "%s%s\n", indent, scalarString(val))
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func formatMacros(m nutrient.Macros) string {
	return fmt.Sprintf("🥗 %s\nCalories: %.0f kcal\nProtein: %.1f g\nCarbs: %.1f g\nFat: %.1f g",
		m.Food, m.Calories, m.Protein, m.Carbs, m.Fat)
}
