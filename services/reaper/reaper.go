package reaper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"forged/pkg/bus"
	"forged/pkg/containers"
	"forged/pkg/stream"
	"forged/services/builds"
)

const (
	defaultGracePeriod  = 10 * time.Second
	defaultPollInterval = time.Second
)

var killsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forged_builds_killed_total",
	Help: "Terminations executed by the reaper, by final status.",
}, []string{"status"})

// RecordStore is the slice of the build record store the reaper needs.
type RecordStore interface {
	Get(ctx context.Context, id int64) (builds.Build, error)
	SetTerminal(ctx context.Context, id int64, status builds.Status, message string) error
}

// Subscriber is the slice of the bus the consumer needs.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Reaper consumes kill orders for one builder host and drives the targeted
// builds to a terminal state: persisted status flip, graceful signal with a
// bounded wait, container stop, forceful signal as a last resort.
type Reaper struct {
	host    string
	store   RecordStore
	runtime containers.Runtime
	procs   ProcessController
	events  stream.Store
	logger  *log.Logger

	gracePeriod  time.Duration
	pollInterval time.Duration

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates a Reaper for the given builder host identity (empty for the
// hostless binding).
func New(host string, store RecordStore, runtime containers.Runtime, procs ProcessController, events stream.Store, logger *log.Logger) (*Reaper, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if runtime == nil {
		return nil, errors.New("container runtime is required")
	}
	if procs == nil {
		procs = UnixProcesses{}
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Reaper{
		host:         host,
		store:        store,
		runtime:      runtime,
		procs:        procs,
		events:       events,
		logger:       logger,
		gracePeriod:  defaultGracePeriod,
		pollInterval: defaultPollInterval,
	}, nil
}

// Start subscribes to kill orders and processes them until ctx is cancelled.
// Every reaper binds the bare kill subject through a shared durable, so orders
// for builds without an elected builder host are consumed by exactly one
// instance. A reaper with a host additionally binds its routed subject.
func (r *Reaper) Start(ctx context.Context, sub Subscriber) error {
	if r == nil {
		return errors.New("nil reaper")
	}
	if sub == nil {
		return errors.New("subscriber is required")
	}

	subjects := []string{KillSubject}
	durables := []string{"reaper-kill"}
	if r.host != "" {
		subjects = append(subjects, bus.Routed(KillSubject, r.host))
		durables = append(durables, "reaper-kill-"+r.host)
	}

	for i, subj := range subjects {
		closer, err := sub.Subscribe(ctx, subj, durables[i], r.handleOrder)
		if err != nil {
			r.Close()
			return err
		}
		r.subsMu.Lock()
		r.subs = append(r.subs, closer)
		r.subsMu.Unlock()
	}

	return nil
}

// Close tears down active subscriptions.
func (r *Reaper) Close() error {
	if r == nil {
		return nil
	}

	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	var firstErr error
	for _, sub := range r.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}

// handleOrder decodes one kill order. Malformed orders are logged and dropped,
// never redelivered.
func (r *Reaper) handleOrder(ctx context.Context, data []byte) error {
	var order KillOrder
	if err := json.Unmarshal(data, &order); err != nil {
		r.logger.Printf("WARN dropping malformed kill order: %v", err)
		return nil
	}
	if order.BuildID == 0 {
		r.logger.Printf("WARN dropping kill order without build_id")
		return nil
	}

	status := builds.StatusKilled
	if order.Status != nil {
		status = builds.Status(*order.Status)
	}

	if err := r.Kill(ctx, order.BuildID, status, order.Message); err != nil {
		r.logger.Printf("ERROR kill build %d: %v", order.BuildID, err)
	}
	return nil
}

// Kill drives the build to the requested terminal status (KILLED when the
// request carries none). A kill for an unknown or already-terminal build is
// an idempotent no-op.
func (r *Reaper) Kill(ctx context.Context, buildID int64, status builds.Status, message string) error {
	b, err := r.store.Get(ctx, buildID)
	if errors.Is(err, builds.ErrNotFound) {
		r.logger.Printf("INFO kill requested for unknown build %d, ignoring", buildID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load build %d: %w", buildID, err)
	}
	if b.Status.IsTerminal() {
		r.logger.Printf("INFO build %d already %s, ignoring kill", b.ID, b.Status)
		return nil
	}

	if !status.IsTerminal() {
		status = builds.StatusKilled
	}

	// Persist first so observers see the final state promptly, even while the
	// process takes its time dying.
	if err := r.store.SetTerminal(ctx, b.ID, status, message); err != nil {
		return fmt.Errorf("persist status for build %d: %w", b.ID, err)
	}

	timedOut := false
	if b.ProcessID > 0 {
		if err := r.procs.Terminate(b.ProcessID); err != nil {
			// Delivery failure means the process is already gone.
			r.logger.Printf("INFO build %d process %d already gone", b.ID, b.ProcessID)
		} else if !r.awaitExit(ctx, b.ProcessID) {
			timedOut = true
			note := fmt.Sprintf("process %d was not gracefully terminated", b.ProcessID)
			r.logger.Printf("WARN build %d: %s", b.ID, note)
			if err := r.store.SetTerminal(ctx, b.ID, status, appendNote(message, note)); err != nil {
				r.logger.Printf("ERROR record termination note for build %d: %v", b.ID, err)
			}
		}
	}

	if b.ContainerID != "" {
		info, ierr := r.runtime.Inspect(ctx, b.ContainerID)
		if ierr == nil && !info.Running {
			r.logger.Printf("INFO container %s for build %d already stopped", b.ContainerID, b.ID)
		} else if err := r.runtime.Stop(ctx, b.ContainerID); err != nil {
			// Fatal to this kill: do not fall through to the forceful signal.
			r.logger.Printf("ERROR stop container %s for build %d: %v", b.ContainerID, b.ID, err)
			return fmt.Errorf("stop container %s: %w", b.ContainerID, err)
		}
	}

	if timedOut {
		if err := r.procs.Kill(b.ProcessID); err != nil {
			r.logger.Printf("INFO build %d process %d exited before forceful signal", b.ID, b.ProcessID)
		}
	}

	killsTotal.WithLabelValues(status.String()).Inc()

	if err := stream.Notify(ctx, r.events, stream.ProjectChannel(b.ProjectID), "build_killed", map[string]any{
		"build_id": b.ID,
		"status":   status.String(),
		"message":  message,
	}); err != nil {
		r.logger.Printf("WARN publish build_killed for build %d: %v", b.ID, err)
	}

	return nil
}

// awaitExit polls process liveness once per interval until the grace period
// elapses. True means the process exited in time. The wait is deliberately
// synchronous; it occupies this consumer for up to the full grace period.
func (r *Reaper) awaitExit(ctx context.Context, pid int) bool {
	deadline := time.Now().Add(r.gracePeriod)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if !r.procs.Alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !r.procs.Alive(pid)
		case <-ticker.C:
		}
	}
}

func appendNote(message, note string) string {
	if message == "" {
		return note
	}
	return message + "; " + note
}
