package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-diet-planner/internal/kvstore"
)

// SectionRecord is the persisted output of one section. Data is always a
// JSON object, possibly empty when the model output was unusable.
type SectionRecord struct {
	Timestamp int64          `json:"ts"`
	Data      map[string]any `json:"data"`
}

// GeneratedAt returns the record timestamp as a time.
func (r SectionRecord) GeneratedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// SectionStore persists the latest output of every section per user. Each
// save replaces the prior record in a single write.
type SectionStore struct {
	kv kvstore.Store
}

func NewSectionStore(kv kvstore.Store) *SectionStore {
	return &SectionStore{kv: kv}
}

func sectionKey(userID string, section Section) string {
	return fmt.Sprintf("plan_section_%s_%s", userID, section)
}

// Save overwrites the stored section.
func (s *SectionStore) Save(ctx context.Context, userID string, section Section, data map[string]any, at time.Time) (SectionRecord, error) {
	if data == nil {
		data = map[string]any{}
	}
	rec := SectionRecord{Timestamp: at.UnixMilli(), Data: data}
	if err := kvstore.PutJSON(ctx, s.kv, sectionKey(userID, section), rec, 0); err != nil {
		return SectionRecord{}, fmt.Errorf("failed to save section %s for user %s: %w", section, userID, err)
	}
	return rec, nil
}

// Load returns the stored section; ok is false when none exists or the
// stored record cannot be decoded.
func (s *SectionStore) Load(ctx context.Context, userID string, section Section) (SectionRecord, bool, error) {
	raw, err := s.kv.Get(ctx, sectionKey(userID, section))
	if errors.Is(err, kvstore.ErrNotFound) {
		return SectionRecord{}, false, nil
	}
	if err != nil {
		return SectionRecord{}, false, fmt.Errorf("failed to load section %s for user %s: %w", section, userID, err)
	}
	var rec SectionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SectionRecord{}, false, nil
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return rec, true, nil
}

// LoadAll returns every stored section for the user.
func (s *SectionStore) LoadAll(ctx context.Context, userID string) (map[Section]SectionRecord, error) {
	out := make(map[Section]SectionRecord, len(Sections))
	for _, sec := range Sections {
		rec, ok, err := s.Load(ctx, userID, sec)
		if err != nil {
			return nil, err
		}
		if ok {
			out[sec] = rec
		}
	}
	return out, nil
}

// Delete removes the stored section.
func (s *SectionStore) Delete(ctx context.Context, userID string, section Section) error {
	return s.kv.Delete(ctx, sectionKey(userID, section))
}
