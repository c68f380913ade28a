// Package prompts stores the model prompt templates in the key-value store
// and renders them with per-run replacements.
package prompts

import (
	"context"
	"errors"
	"fmt"

	"ai-diet-planner/internal/kvstore"
)

const keyPrefix = "prompt_"

// ErrTemplateNotFound is returned when no template exists for an id.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Store reads and writes templates under "prompt_<id>".
type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Key returns the storage key for a template id.
func Key(id string) string {
	return keyPrefix + id
}

// Get returns the template text for id.
func (s *Store) Get(ctx context.Context, id string) (string, error) {
	raw, err := s.kv.Get(ctx, Key(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load prompt template %s: %w", id, err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrTemplateNotFound, id)
	}
	return string(raw), nil
}

// Put stores the template text for id without expiry.
func (s *Store) Put(ctx context.Context, id, text string) error {
	if err := s.kv.Put(ctx, Key(id), []byte(text), 0); err != nil {
		return fmt.Errorf("failed to save prompt template %s: %w", id, err)
	}
	return nil
}

// Exists reports whether a template is stored for id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, ErrTemplateNotFound) {
		return false, nil
	}
	return err == nil, err
}
