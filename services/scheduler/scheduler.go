package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"forged/pkg/bus"
	"forged/pkg/stream"
	"forged/services/builds"
)

// OrderSubject carries build orders to worker processes; routed by builder
// host so each worker receives only its own orders.
const OrderSubject = "forged.builds.order"

// BuildOrder is the wire form of a dispatched build.
type BuildOrder struct {
	BuildID int64 `json:"build_id"`
}

var scheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "forged_builds_scheduled_total",
	Help: "Builds persisted and dispatched by the scheduler.",
})

// RecordStore is the slice of the build record store the scheduler needs.
type RecordStore interface {
	Create(ctx context.Context, b *builds.Build) error
	PendingForRef(ctx context.Context, projectID uuid.UUID, ref string) ([]builds.Build, error)
	CancelScheduled(ctx context.Context, id int64) (bool, error)
}

// Killer requests remote termination of a build a worker has already picked
// up. The reaper's requester satisfies it.
type Killer interface {
	Kill(ctx context.Context, b builds.Build, status builds.Status, message string) error
}

// Publisher is the slice of the bus the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Request describes one build to schedule.
type Request struct {
	Project      builds.Project
	Ref          string
	Hash         string
	Payload      map[string]any
	AllowRebuild bool
	LocalConfig  bool
}

// Scheduler supersedes competing builds for a ref, persists the new build,
// elects a builder host, and dispatches the build order.
type Scheduler struct {
	store        RecordStore
	killer       Killer
	pub          Publisher
	events       stream.Store
	builders     []string
	providerBase string
	logger       *log.Logger
	pick         func(n int) int
}

// New creates a Scheduler. builders is the allow-list of electable hosts; an
// empty list dispatches with an empty routing key.
func New(store RecordStore, killer Killer, pub Publisher, events stream.Store, builders []string, providerBase string, logger *log.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if killer == nil {
		return nil, errors.New("killer is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Scheduler{
		store:        store,
		killer:       killer,
		pub:          pub,
		events:       events,
		builders:     builders,
		providerBase: providerBase,
		logger:       logger,
		pick:         rand.IntN,
	}, nil
}

// Schedule runs the full scheduling sequence and returns the persisted build.
// A storage failure before dispatch aborts the call; no order is published
// for an unpersisted build.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (builds.Build, error) {
	if req.Ref == "" {
		return builds.Build{}, errors.New("ref is required")
	}
	if req.Hash == "" {
		return builds.Build{}, errors.New("commit hash is required")
	}

	if err := s.supersede(ctx, req.Project.ID, req.Ref); err != nil {
		return builds.Build{}, err
	}

	b := builds.Build{
		ProjectID:    req.Project.ID,
		Ref:          req.Ref,
		CommitHash:   req.Hash,
		CommitURL:    commitURL(s.providerBase, req.Project.RepoFull, req.Hash),
		Status:       builds.StatusScheduled,
		AllowRebuild: req.AllowRebuild,
		Demo:         builds.IsDemoRef(req.Ref),
		LocalConfig:  req.LocalConfig,
		Payload:      req.Payload,
	}
	b.BuilderHost = s.electBuilder()

	if err := s.store.Create(ctx, &b); err != nil {
		return builds.Build{}, err
	}

	if err := s.pub.Publish(ctx, bus.Routed(OrderSubject, b.RoutingKey()), BuildOrder{BuildID: b.ID}); err != nil {
		// The build row exists but no order went out; an operator re-trigger
		// is the recovery path.
		return b, fmt.Errorf("dispatch order for build %d: %w", b.ID, err)
	}

	scheduledTotal.Inc()

	if err := stream.Notify(ctx, s.events, stream.ProjectChannel(b.ProjectID), "build_scheduled", map[string]any{
		"build_id": b.ID,
		"ref":      b.Ref,
		"hash":     b.CommitHash,
	}); err != nil {
		s.logger.Printf("WARN publish build_scheduled for build %d: %v", b.ID, err)
	}

	return b, nil
}

// supersede clears the (project, ref) slot: scheduled builds are canceled
// with a status flip, builds a worker already owns get a kill order instead.
// The lookup and the cancel/create are separate calls; two concurrent
// schedules for one ref can still both pass this step.
func (s *Scheduler) supersede(ctx context.Context, projectID uuid.UUID, ref string) error {
	pending, err := s.store.PendingForRef(ctx, projectID, ref)
	if err != nil {
		return fmt.Errorf("find pending builds for %s: %w", ref, err)
	}

	for _, prev := range pending {
		switch {
		case prev.Status == builds.StatusScheduled:
			won, err := s.store.CancelScheduled(ctx, prev.ID)
			if err != nil {
				return fmt.Errorf("cancel build %d: %w", prev.ID, err)
			}
			if !won {
				s.logger.Printf("INFO build %d left SCHEDULED before cancel, skipping", prev.ID)
			}
		case prev.Status.IsActive():
			msg := fmt.Sprintf("superseded by a newer build for %s", ref)
			if err := s.killer.Kill(ctx, prev, builds.StatusObsolete, msg); err != nil {
				s.logger.Printf("WARN kill request for superseded build %d: %v", prev.ID, err)
			}
		}
	}

	return nil
}

// electBuilder picks uniformly at random from the allow-list. No load or
// capacity signal is consulted.
func (s *Scheduler) electBuilder() string {
	if len(s.builders) == 0 {
		return ""
	}
	return s.builders[s.pick(len(s.builders))]
}

func commitURL(base, repoFull, hash string) string {
	if base == "" || repoFull == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/commit/%s", base, repoFull, hash)
}
