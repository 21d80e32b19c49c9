package reaper

import (
	"context"
	"errors"

	"forged/pkg/bus"
	"forged/services/builds"
)

const (
	// KillSubject carries hard termination orders; routed by builder host.
	KillSubject = "forged.builds.kill"
	// StopSubject carries soft stop requests. Routed identically to kill
	// orders but consumed by the worker process itself, which defines the
	// stop semantics.
	StopSubject = "forged.builds.stop"
)

// KillOrder is the wire form of a termination request.
type KillOrder struct {
	BuildID int64  `json:"build_id"`
	Status  *int   `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// StopOrder is the wire form of a soft stop request.
type StopOrder struct {
	BuildID int64 `json:"build_id"`
}

// Publisher is the slice of the bus the requester needs.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Requester enqueues kill and stop orders for the builder host that owns a
// build. The scheduler and quota engine terminate builds through it; the
// Reaper daemon on each host executes the kills.
type Requester struct {
	pub Publisher
}

// NewRequester creates a Requester publishing on pub.
func NewRequester(pub Publisher) (*Requester, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	return &Requester{pub: pub}, nil
}

// Kill requests that b be driven to the given terminal status. A non-terminal
// status falls back to KILLED.
func (r *Requester) Kill(ctx context.Context, b builds.Build, status builds.Status, message string) error {
	order := KillOrder{BuildID: b.ID, Message: message}
	if status.IsTerminal() {
		v := int(status)
		order.Status = &v
	}
	return r.pub.Publish(ctx, bus.Routed(KillSubject, b.RoutingKey()), order)
}

// Stop requests that the worker running b wind it down gracefully. Remote
// behavior belongs to the worker; this side only publishes the request.
func (r *Requester) Stop(ctx context.Context, b builds.Build) error {
	return r.pub.Publish(ctx, bus.Routed(StopSubject, b.RoutingKey()), StopOrder{BuildID: b.ID})
}
