package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-diet-planner/internal/shared"
)

// NotStartedMessage is reported by Status for users without any run.
const NotStartedMessage = "plan generation has not been started"

// ErrPrerequisitesNotMet is returned by Run when the user cannot generate a
// plan yet. The wrapped message is the user-facing reason.
var ErrPrerequisitesNotMet = errors.New("prerequisites not met")

// Request triggers a plan generation.
type Request struct {
	UserID           string `json:"-"`
	Reason           string `json:"reason,omitempty"`
	PriorityGuidance string `json:"priorityGuidance,omitempty"`
	// Force regenerates every section even when an interrupted run left
	// usable sections behind.
	Force bool `json:"force,omitempty"`
}

// StartResult acknowledges a trigger.
type StartResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	RunID   string `json:"runId,omitempty"`
}

// StatusResult is the polling response.
type StatusResult struct {
	Success    bool       `json:"success"`
	PlanStatus PlanStatus `json:"planStatus,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Plan is the assembled plan for a user.
type Plan struct {
	UserID   string                    `json:"userId"`
	Status   StatusRecord              `json:"status"`
	Sections map[Section]SectionRecord `json:"sections"`
}

// Observer is notified about model calls and finished runs.
type Observer interface {
	ModelCall(ctx context.Context, meta shared.AgentMeta, err error)
	RunFinished(status PlanStatus)
}

type nopObserver struct{}

func (nopObserver) ModelCall(context.Context, shared.AgentMeta, error) {}
func (nopObserver) RunFinished(PlanStatus)                             {}

// Orchestrator runs the section generators for a user and tracks the
// outcome in the status store.
type Orchestrator struct {
	generator  *Generator
	sections   *SectionStore
	statuses   *StatusStore
	answers    *AnswersStore
	checker    *PrerequisiteChecker
	observer   Observer
	logger     *slog.Logger
	newRunID   func() string
	runTimeout time.Duration

	lockMu sync.Mutex
	locks  map[string]*userLock
	wg     sync.WaitGroup
}

// userLock serializes runs for one user. refs counts holders and waiters so
// the entry can be dropped once nobody needs it.
type userLock struct {
	sync.Mutex
	refs int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRunTimeout bounds a whole run. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.runTimeout = d
	}
}

// WithRunIDFunc overrides run id generation.
func WithRunIDFunc(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newRunID = fn
	}
}

func NewOrchestrator(generator *Generator, sections *SectionStore, statuses *StatusStore, answers *AnswersStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator:  generator,
		sections:   sections,
		statuses:   statuses,
		answers:    answers,
		observer:   nopObserver{},
		logger:     slog.Default(),
		newRunID:   uuid.NewString,
		runTimeout: 15 * time.Minute,
		locks:      make(map[string]*userLock),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.checker = NewPrerequisiteChecker(answers, o.logger)
	return o
}

// CheckPrerequisites reports whether userID may trigger a generation.
func (o *Orchestrator) CheckPrerequisites(ctx context.Context, userID string) (Prerequisites, error) {
	return o.checker.Check(ctx, userID)
}

// SaveAnswers stores the user's initial questionnaire answers.
func (o *Orchestrator) SaveAnswers(ctx context.Context, userID string, answers Answers) error {
	return o.answers.Save(ctx, userID, answers)
}

// Start marks the plan pending and generates it in the background. The run
// is detached from ctx cancellation so that it outlives the request that
// triggered it.
func (o *Orchestrator) Start(ctx context.Context, req Request) (StartResult, error) {
	if req.UserID == "" {
		return StartResult{}, fmt.Errorf("user id is required")
	}
	pre, err := o.checker.Check(ctx, req.UserID)
	if err != nil {
		return StartResult{}, err
	}
	if !pre.OK {
		return StartResult{Success: false, Message: pre.Message}, nil
	}

	runID, resume, err := o.begin(ctx, req)
	if err != nil {
		return StartResult{}, err
	}

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(bg, req, runID, resume)
	}()

	return StartResult{Success: true, RunID: runID}, nil
}

// Run generates the plan synchronously and returns the final status record.
func (o *Orchestrator) Run(ctx context.Context, req Request) (StatusRecord, error) {
	if req.UserID == "" {
		return StatusRecord{}, fmt.Errorf("user id is required")
	}
	pre, err := o.checker.Check(ctx, req.UserID)
	if err != nil {
		return StatusRecord{}, err
	}
	if !pre.OK {
		return StatusRecord{}, fmt.Errorf("%w: %s", ErrPrerequisitesNotMet, pre.Message)
	}

	runID, resume, err := o.begin(ctx, req)
	if err != nil {
		return StatusRecord{}, err
	}
	o.execute(ctx, req, runID, resume)
	return o.statuses.Get(ctx, req.UserID)
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status reports the plan status for polling clients.
func (o *Orchestrator) Status(ctx context.Context, userID string) (StatusResult, error) {
	rec, err := o.statuses.Get(ctx, userID)
	if err != nil {
		return StatusResult{Success: false, Message: "failed to read plan status"}, err
	}
	if rec.Status == "" {
		return StatusResult{Success: false, Message: NotStartedMessage}, nil
	}
	return StatusResult{Success: true, PlanStatus: rec.Status, Message: rec.Message}, nil
}

// Plan assembles the stored sections and status for userID.
func (o *Orchestrator) Plan(ctx context.Context, userID string) (Plan, error) {
	rec, err := o.statuses.Get(ctx, userID)
	if err != nil {
		return Plan{}, err
	}
	sections, err := o.sections.LoadAll(ctx, userID)
	if err != nil {
		return Plan{}, err
	}
	return Plan{UserID: userID, Status: rec, Sections: sections}, nil
}

// begin records the pending status for a new run. Stored sections are
// resumed only when the previous run did not complete and the caller did
// not change what the plan should be about.
func (o *Orchestrator) begin(ctx context.Context, req Request) (string, bool, error) {
	prev, err := o.statuses.Get(ctx, req.UserID)
	if err != nil {
		return "", false, err
	}
	resume := !req.Force &&
		(prev.Status == StatusPending || prev.Status == StatusError) &&
		(req.Reason == "" || req.Reason == prev.Reason) &&
		(req.PriorityGuidance == "" || req.PriorityGuidance == prev.PriorityGuidance)

	runID := o.newRunID()
	if _, err := o.statuses.MarkPending(ctx, req.UserID, runID, req.Reason, req.PriorityGuidance); err != nil {
		return "", false, err
	}
	return runID, resume, nil
}

// lockUser blocks until no other run for userID is executing and returns
// the matching unlock.
func (o *Orchestrator) lockUser(userID string) func() {
	o.lockMu.Lock()
	l, ok := o.locks[userID]
	if !ok {
		l = &userLock{}
		o.locks[userID] = l
	}
	l.refs++
	o.lockMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		o.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, userID)
		}
		o.lockMu.Unlock()
	}
}

type sectionFailure struct {
	section Section
	err     error
}

func (o *Orchestrator) execute(ctx context.Context, req Request, runID string, resume bool) {
	unlock := o.lockUser(req.UserID)
	defer unlock()

	logger := o.logger.With("user_id", req.UserID, "run_id", runID)

	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	cur, err := o.statuses.Get(ctx, req.UserID)
	if err != nil {
		o.finish(ctx, logger, req.UserID, runID, StatusError, fmt.Sprintf("failed to read plan status: %v", err))
		return
	}
	if cur.RunID != runID {
		logger.Info("run superseded before it started")
		return
	}

	answers, err := o.answers.Load(ctx, req.UserID)
	if err != nil {
		o.finish(ctx, logger, req.UserID, runID, StatusError, fmt.Sprintf("failed to load initial answers: %v", err))
		return
	}

	replacements := buildReplacements(req.UserID, answers, cur.Reason, cur.PriorityGuidance)
	logger.Info("plan generation started", "resume", resume)

	var failures []sectionFailure
	for _, sec := range Sections {
		res, err := o.generateSection(ctx, sec, replacements, req.UserID, !resume)
		if !res.Reused && res.Meta.AgentName != "" {
			o.observer.ModelCall(ctx, res.Meta, err)
		}
		if err != nil {
			logger.Error("section generation failed", "section", sec, "error", err)
			failures = append(failures, sectionFailure{section: sec, err: err})
			continue
		}
		encoded, _ := json.Marshal(res.Record.Data)
		replacements[string(sec)] = string(encoded)
	}

	status, message := summarize(failures)
	o.finish(ctx, logger, req.UserID, runID, status, message)
}

func (o *Orchestrator) generateSection(ctx context.Context, sec Section, replacements map[string]string, userID string, force bool) (res GenerateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = GenerateResult{Section: sec}, fmt.Errorf("section %s panicked: %v", sec, r)
		}
	}()
	return o.generator.Generate(ctx, sec, replacements, userID, force)
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, userID, runID string, status PlanStatus, message string) {
	// The run context may already be expired; the terminal write must still land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	written, err := o.statuses.Finish(writeCtx, userID, runID, status, message)
	if err != nil {
		logger.Error("failed to record plan status", "status", status, "error", err)
		return
	}
	if !written {
		logger.Info("run superseded, final status not recorded", "status", status)
		return
	}
	o.observer.RunFinished(status)
	logger.Info("plan generation finished", "status", status, "message", message)
}

// summarize turns the section failures into the terminal status. A missing
// template is reported first because it needs operator action.
func summarize(failures []sectionFailure) (PlanStatus, string) {
	if len(failures) == 0 {
		return StatusReady, ""
	}
	names := make([]string, 0, len(failures))
	var cfgErr *ConfigError
	for _, f := range failures {
		names = append(names, string(f.section))
		if cfgErr == nil {
			errors.As(f.err, &cfgErr)
		}
	}
	failed := "failed sections: " + strings.Join(names, ", ")
	if cfgErr != nil {
		return StatusError, cfgErr.Error() + "; " + failed
	}
	return StatusError, failed + ": " + failures[0].err.Error()
}

// buildReplacements exposes the answers to the templates both as a JSON
// document and one placeholder per top-level answer.
func buildReplacements(userID string, answers Answers, reason, priorityGuidance string) map[string]string {
	r := make(map[string]string, len(answers)+8)
	for k, v := range answers {
		switch t := v.(type) {
		case string:
			r[k] = t
		case nil:
			r[k] = ""
		default:
			b, _ := json.Marshal(t)
			r[k] = string(b)
		}
	}
	raw, _ := json.MarshalIndent(answers, "", "  ")
	r["answers_json"] = string(raw)
	r["user_id"] = userID
	r["reason"] = reason
	r["priority_guidance"] = priorityGuidance
	for _, sec := range Sections {
		r[string(sec)] = "{}"
	}
	return r
}
