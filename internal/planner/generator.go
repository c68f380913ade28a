package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai-diet-planner/internal/llm"
	"ai-diet-planner/internal/prompts"
	"ai-diet-planner/internal/shared"
)

// TemplateSource provides prompt templates by id.
type TemplateSource interface {
	Get(ctx context.Context, id string) (string, error)
}

// GenerateResult is the outcome of generating one section.
type GenerateResult struct {
	Section Section
	Record  SectionRecord
	Meta    shared.AgentMeta
	// Reused is set when a stored section was returned without a model call.
	Reused bool
	// Degraded is set when the model output could not be parsed and an
	// empty object was stored instead.
	Degraded bool
}

// Generator produces a single plan section: template, render, model call,
// normalisation and persistence.
type Generator struct {
	templates TemplateSource
	textGen   llm.TextGenerator
	sections  *SectionStore
	now       func() time.Time
	logger    *slog.Logger
}

func NewGenerator(templates TemplateSource, textGen llm.TextGenerator, sections *SectionStore, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		templates: templates,
		textGen:   textGen,
		sections:  sections,
		now:       time.Now,
		logger:    logger,
	}
}

// Generate produces section for userID. Unless force is set, a section that
// is already stored with content is returned as is, which lets an
// interrupted run resume without paying for completed sections again.
func (g *Generator) Generate(ctx context.Context, section Section, replacements map[string]string, userID string, force bool) (GenerateResult, error) {
	cfg, ok := sectionConfigs[section]
	if !ok {
		return GenerateResult{}, fmt.Errorf("unknown plan section %q", section)
	}
	logger := g.logger.With("user_id", userID, "section", section)

	if !force {
		rec, ok, err := g.sections.Load(ctx, userID, section)
		if err != nil {
			return GenerateResult{}, err
		}
		if ok && len(rec.Data) > 0 {
			logger.Debug("reusing stored section")
			return GenerateResult{Section: section, Record: rec, Reused: true}, nil
		}
	}

	tmpl, err := g.templates.Get(ctx, cfg.templateID)
	if errors.Is(err, prompts.ErrTemplateNotFound) {
		return GenerateResult{}, &ConfigError{Section: section, TemplateID: cfg.templateID, Err: err}
	}
	if err != nil {
		return GenerateResult{}, fmt.Errorf("failed to load template for section %s: %w", section, err)
	}

	prompt := prompts.Render(tmpl, replacements)

	start := time.Now()
	resp, err := g.textGen.GenerateContent(ctx, prompt, llm.Options{
		Temperature: generationTemperature,
		MaxTokens:   cfg.maxTokens,
	})
	meta := shared.AgentMeta{
		AgentName: section.AgentName(),
		UserID:    userID,
		Usage:     resp.Usage,
		Latency:   time.Since(start),
	}
	if err != nil {
		return GenerateResult{Section: section, Meta: meta}, fmt.Errorf("model call for section %s failed: %w", section, err)
	}

	data, parseErr := llm.ParseObject(resp.Content)
	degraded := parseErr != nil
	if degraded {
		logger.Warn("model output unusable, storing empty section",
			"error", parseErr,
			"output_bytes", len(resp.Content),
		)
	}

	rec, err := g.sections.Save(ctx, userID, section, data, g.now())
	if err != nil {
		return GenerateResult{Section: section, Meta: meta}, err
	}

	logger.Info("section generated",
		"tokens", resp.Usage.Tokens(),
		"latency_ms", meta.Latency.Milliseconds(),
		"degraded", degraded,
	)
	return GenerateResult{Section: section, Record: rec, Meta: meta, Degraded: degraded}, nil
}
