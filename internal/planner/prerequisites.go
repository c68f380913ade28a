package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"ai-diet-planner/internal/kvstore"
)

// User-facing prerequisite messages.
const (
	MissingAnswersMessage = "Липсват първоначални отговори."
	CorruptAnswersMessage = "Първоначалните отговори са повредени."
)

// ErrCorruptAnswers is returned when the stored answers are not a JSON object.
var ErrCorruptAnswers = errors.New("initial answers are corrupt")

// Answers are the user's initial questionnaire answers.
type Answers map[string]any

// AnswersStore persists the questionnaire answers under initial_answers_<userId>.
type AnswersStore struct {
	kv kvstore.Store
}

func NewAnswersStore(kv kvstore.Store) *AnswersStore {
	return &AnswersStore{kv: kv}
}

func answersKey(userID string) string {
	return "initial_answers_" + userID
}

// Save replaces the user's answers.
func (s *AnswersStore) Save(ctx context.Context, userID string, answers Answers) error {
	if answers == nil {
		answers = Answers{}
	}
	if err := kvstore.PutJSON(ctx, s.kv, answersKey(userID), answers, 0); err != nil {
		return fmt.Errorf("failed to save answers for user %s: %w", userID, err)
	}
	return nil
}

// Load returns the answers, kvstore.ErrNotFound when none are stored, or
// ErrCorruptAnswers when the record does not decode to an object.
func (s *AnswersStore) Load(ctx context.Context, userID string) (Answers, error) {
	raw, err := s.kv.Get(ctx, answersKey(userID))
	if err != nil {
		return nil, err
	}
	var answers Answers
	if err := json.Unmarshal(raw, &answers); err != nil || answers == nil {
		return nil, ErrCorruptAnswers
	}
	return answers, nil
}

// Prerequisites is the outcome of a readiness check.
type Prerequisites struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// PrerequisiteChecker decides whether a user may trigger a generation.
type PrerequisiteChecker struct {
	answers *AnswersStore
	logger  *slog.Logger
}

func NewPrerequisiteChecker(answers *AnswersStore, logger *slog.Logger) *PrerequisiteChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrerequisiteChecker{answers: answers, logger: logger}
}

// Check never fails because of bad data; it only returns an error when the
// store itself cannot be read.
func (c *PrerequisiteChecker) Check(ctx context.Context, userID string) (Prerequisites, error) {
	answers, err := c.answers.Load(ctx, userID)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return Prerequisites{OK: false, Message: MissingAnswersMessage}, nil
	case errors.Is(err, ErrCorruptAnswers):
		c.logger.Warn("stored initial answers are corrupt", "user_id", userID)
		return Prerequisites{OK: false, Message: CorruptAnswersMessage}, nil
	case err != nil:
		return Prerequisites{}, fmt.Errorf("failed to check prerequisites for user %s: %w", userID, err)
	case len(answers) == 0:
		return Prerequisites{OK: false, Message: MissingAnswersMessage}, nil
	}
	return Prerequisites{OK: true}, nil
}
