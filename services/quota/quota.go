package quota

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"forged/pkg/stream"
	"forged/services/builds"
)

// RunningLister reports a user's currently executing builds. Demo builds are
// excluded at the source so the engine never counts them.
type RunningLister interface {
	RunningForUser(ctx context.Context, userID uuid.UUID) ([]builds.Build, error)
	Username(ctx context.Context, userID uuid.UUID) (string, error)
}

// Stopper requests a soft stop of a build; the reaper's requester satisfies
// it in production.
type Stopper interface {
	Stop(ctx context.Context, b builds.Build) error
}

// Engine enforces the per-user cap on concurrently running builds.
type Engine struct {
	lister  RunningLister
	stopper Stopper
	events  stream.Store
	limit   int
	logger  *log.Logger
}

// NewEngine creates an Engine with the configured per-user limit. events may
// be nil when live notifications are not wanted.
func NewEngine(lister RunningLister, stopper Stopper, events stream.Store, limit int, logger *log.Logger) (*Engine, error) {
	if lister == nil {
		return nil, errors.New("running lister is required")
	}
	if stopper == nil {
		return nil, errors.New("stopper is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{lister: lister, stopper: stopper, events: events, limit: limit, logger: logger}, nil
}

// Check reports whether the user is within the running-build limit.
func (e *Engine) Check(ctx context.Context, userID uuid.UUID) (bool, error) {
	running, err := e.lister.RunningForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(running) <= e.limit, nil
}

// Enforce stops every running build beyond the first limit entries, in the
// list's natural retrieval order. Already-stopped builds leave the running
// set, so a repeat call with no new builds changes nothing.
func (e *Engine) Enforce(ctx context.Context, userID uuid.UUID) error {
	running, err := e.lister.RunningForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(running) <= e.limit {
		return nil
	}

	username, err := e.lister.Username(ctx, userID)
	if err != nil {
		return err
	}

	excess := running[e.limit:]
	reason := fmt.Sprintf("stopped by quota: user %s exceeded the limit of %d running builds", username, e.limit)

	for _, b := range excess {
		if err := e.stopper.Stop(ctx, b); err != nil {
			return fmt.Errorf("stop build %d: %w", b.ID, err)
		}
		e.logger.Printf("INFO quota stop requested for build %d (user %s)", b.ID, username)

		if err := stream.Notify(ctx, e.events, stream.UserChannel(userID), "quota_enforced", map[string]any{
			"build_id": b.ID,
			"reason":   reason,
		}); err != nil {
			e.logger.Printf("WARN publish quota_enforced for build %d: %v", b.ID, err)
		}
	}

	return nil
}
