// Package poller implements the client side of plan generation: trigger a
// run, then poll its status until it settles.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai-diet-planner/internal/planner"
)

// DefaultInterval is used when Poller.Interval is zero.
const DefaultInterval = 3 * time.Second

// ErrRejected is returned when the backend refuses to start or report a run.
var ErrRejected = errors.New("request rejected")

// StatusFetcher reads the current plan status for a user.
type StatusFetcher interface {
	Status(ctx context.Context, userID string) (planner.StatusResult, error)
}

// PrerequisiteChecker reports whether plan generation may be triggered.
type PrerequisiteChecker interface {
	CheckPrerequisites(ctx context.Context, userID string) (planner.Prerequisites, error)
}

// Backend is everything a client needs to drive a plan run. Both
// *planner.Orchestrator and *HTTPClient satisfy it.
type Backend interface {
	StatusFetcher
	PrerequisiteChecker
	Start(ctx context.Context, req planner.Request) (planner.StartResult, error)
}

// UI receives status transitions.
type UI interface {
	SetBusy(busy bool)
	OnPending()
	OnReady()
	OnError(message string)
}

// TriggerUI controls the control that starts a run.
type TriggerUI interface {
	EnableTrigger()
	DisableTrigger(message string)
}

// Poller repeatedly fetches a user's plan status and forwards changes to UI.
type Poller struct {
	Interval time.Duration
	Fetch    StatusFetcher
	UI       UI
	Logger   *slog.Logger
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

// Run polls until the plan is ready or failed, the backend reports no run,
// or ctx is done. UI hooks fire only when the observed status changes.
// Transport errors are logged and polling continues.
func (p *Poller) Run(ctx context.Context, userID string) (planner.PlanStatus, error) {
	p.UI.SetBusy(true)
	defer p.UI.SetBusy(false)

	logger := p.logger().With("user_id", userID)
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	var last planner.PlanStatus
	for {
		res, err := p.Fetch.Status(ctx, userID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			logger.Warn("status poll failed", "error", err)
		case !res.Success:
			p.UI.OnError(res.Message)
			return last, fmt.Errorf("%w: %s", ErrRejected, res.Message)
		case res.PlanStatus != last:
			last = res.PlanStatus
			switch last {
			case planner.StatusPending:
				p.UI.OnPending()
			case planner.StatusReady:
				p.UI.OnReady()
				return last, nil
			case planner.StatusError:
				p.UI.OnError(res.Message)
				return last, nil
			default:
				logger.Warn("unknown plan status", "status", last)
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Generate triggers a run on backend and polls it to completion. A rejected
// trigger surfaces the backend message through UI.OnError.
func (p *Poller) Generate(ctx context.Context, backend Backend, req planner.Request) (planner.PlanStatus, error) {
	res, err := backend.Start(ctx, req)
	if err != nil {
		p.UI.OnError(err.Error())
		return "", fmt.Errorf("failed to start plan generation: %w", err)
	}
	if !res.Success {
		p.UI.OnError(res.Message)
		return "", fmt.Errorf("%w: %s", ErrRejected, res.Message)
	}
	return p.Run(ctx, req.UserID)
}

// Gate enables the trigger when prerequisites hold and otherwise disables
// it with the backend's message unchanged.
func Gate(ctx context.Context, check PrerequisiteChecker, userID string, ui TriggerUI) (bool, error) {
	pre, err := check.CheckPrerequisites(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check prerequisites: %w", err)
	}
	if !pre.OK {
		ui.DisableTrigger(pre.Message)
		return false, nil
	}
	ui.EnableTrigger()
	return true, nil
}
