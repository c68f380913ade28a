package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-diet-planner/internal/kvstore"
)

// PlanStatus is the lifecycle state of a user's plan generation.
type PlanStatus string

const (
	StatusPending PlanStatus = "pending"
	StatusReady   PlanStatus = "ready"
	StatusError   PlanStatus = "error"
)

// StatusRecord is the persisted status of the latest generation run.
type StatusRecord struct {
	Status           PlanStatus `json:"status"`
	Reason           string     `json:"reason,omitempty"`
	PriorityGuidance string     `json:"priorityGuidance,omitempty"`
	Message          string     `json:"message,omitempty"`
	RunID            string     `json:"runId,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Terminal reports whether the run has finished.
func (r StatusRecord) Terminal() bool {
	return r.Status == StatusReady || r.Status == StatusError
}

// StatusStore persists one StatusRecord per user under plan_status_<userId>.
type StatusStore struct {
	kv  kvstore.Store
	now func() time.Time

	// mu serializes read-modify-write cycles within the process.
	mu sync.Mutex
}

func NewStatusStore(kv kvstore.Store) *StatusStore {
	return &StatusStore{kv: kv, now: time.Now}
}

func statusKey(userID string) string {
	return "plan_status_" + userID
}

// Get returns the stored record, or a zero record (empty Status) when the
// user never triggered a generation.
func (s *StatusStore) Get(ctx context.Context, userID string) (StatusRecord, error) {
	var rec StatusRecord
	err := kvstore.GetJSON(ctx, s.kv, statusKey(userID), &rec)
	if errors.Is(err, kvstore.ErrNotFound) {
		return StatusRecord{}, nil
	}
	if err != nil {
		return StatusRecord{}, fmt.Errorf("failed to load plan status for user %s: %w", userID, err)
	}
	return rec, nil
}

// MarkPending starts a new run. Any prior terminal state is cleared.
// Reason and priority guidance replace the previous values when supplied
// and are carried over otherwise.
func (s *StatusStore) MarkPending(ctx context.Context, userID, runID, reason, priorityGuidance string) (StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.Get(ctx, userID)
	if err != nil {
		return StatusRecord{}, err
	}
	now := s.now().UTC()
	rec := StatusRecord{
		Status:           StatusPending,
		Reason:           prev.Reason,
		PriorityGuidance: prev.PriorityGuidance,
		RunID:            runID,
		StartedAt:        now,
		UpdatedAt:        now,
	}
	if reason != "" {
		rec.Reason = reason
	}
	if priorityGuidance != "" {
		rec.PriorityGuidance = priorityGuidance
	}
	if err := kvstore.PutJSON(ctx, s.kv, statusKey(userID), rec, 0); err != nil {
		return StatusRecord{}, fmt.Errorf("failed to save plan status for user %s: %w", userID, err)
	}
	return rec, nil
}

// Finish records the terminal status of runID. It reports false without
// writing when a newer run has replaced runID in the meantime.
func (s *StatusStore) Finish(ctx context.Context, userID, runID string, status PlanStatus, message string) (bool, error) {
	if status != StatusReady && status != StatusError {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if cur.RunID != runID {
		return false, nil
	}
	cur.Status = status
	cur.Message = message
	cur.UpdatedAt = s.now().UTC()
	if err := kvstore.PutJSON(ctx, s.kv, statusKey(userID), cur, 0); err != nil {
		return false, fmt.Errorf("failed to save plan status for user %s: %w", userID, err)
	}
	return true, nil
}
