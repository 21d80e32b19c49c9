package logrelay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"forged/pkg/stream"
)

// OutputSubject carries container stdout/stderr fragments produced by the
// runtime's log pipeline.
const OutputSubject = "forged.builds.output"

var fragmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forged_output_fragments_total",
	Help: "Output fragments processed by the relay.",
}, []string{"outcome"})

// Fragment is one chunk of container output as emitted by the log pipeline.
// The build id travels in the container's environment bindings.
type Fragment struct {
	Env        map[string]string `json:"env"`
	Content    string            `json:"content"`
	Type       int               `json:"type"`
	Timestamp  json.Number       `json:"timestamp"`
	FragmentID int64             `json:"fragment_id"`
	Container  string            `json:"container"`
}

// Record is the structured log entry appended to a build's output list.
type Record struct {
	Type       string      `json:"type"`
	Message    string      `json:"message"`
	Stream     string      `json:"stream"`
	Timestamp  json.Number `json:"timestamp"`
	FragmentID int64       `json:"fragment_id"`
	BuildID    int64       `json:"build_id"`
}

// StreamName maps the runtime's numeric stream codes onto names viewers
// understand.
func StreamName(code int) string {
	switch code {
	case 0:
		return "stdin"
	case 1:
		return "stdout"
	case 2:
		return "stderr"
	default:
		return "unknown"
	}
}

// Subscriber is the slice of the bus the relay needs.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}

// Relay appends container output fragments to per-build ordered lists for
// real-time tailing.
type Relay struct {
	lists  stream.Store
	logger *log.Logger

	subMu sync.Mutex
	sub   io.Closer
}

// NewRelay constructs a Relay over the shared list store.
func NewRelay(lists stream.Store, logger *log.Logger) (*Relay, error) {
	if lists == nil {
		return nil, errors.New("list store is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{lists: lists, logger: logger}, nil
}

// Start subscribes to output fragments and processes them until ctx is
// cancelled.
func (r *Relay) Start(ctx context.Context, sub Subscriber) error {
	if r == nil {
		return errors.New("nil relay")
	}
	if sub == nil {
		return errors.New("subscriber is required")
	}

	closer, err := sub.Subscribe(ctx, OutputSubject, "logrelay-output", r.Ingest)
	if err != nil {
		return err
	}

	r.subMu.Lock()
	r.sub = closer
	r.subMu.Unlock()

	return nil
}

// Close stops the underlying subscription if it was created.
func (r *Relay) Close() error {
	if r == nil {
		return nil
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}

// Ingest appends one fragment to its build's output list. Fragments without
// a recoverable build id are dropped with a warning; the container may not
// belong to this system.
func (r *Relay) Ingest(ctx context.Context, data []byte) error {
	var frag Fragment
	if err := json.Unmarshal(data, &frag); err != nil {
		r.logger.Printf("WARN dropping malformed output fragment: %v", err)
		fragmentsTotal.WithLabelValues("malformed").Inc()
		return nil
	}

	buildID, ok := buildIDFromEnv(frag.Env)
	if !ok {
		r.logger.Printf("WARN dropping output fragment from container %s: no build id", frag.Container)
		fragmentsTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	record := Record{
		Type:       "output",
		Message:    frag.Content,
		Stream:     StreamName(frag.Type),
		Timestamp:  frag.Timestamp,
		FragmentID: frag.FragmentID,
		BuildID:    buildID,
	}

	if err := r.lists.Append(ctx, stream.BuildOutputKey(buildID), record); err != nil {
		fragmentsTotal.WithLabelValues("error").Inc()
		return err
	}

	fragmentsTotal.WithLabelValues("appended").Inc()
	return nil
}

func buildIDFromEnv(env map[string]string) (int64, bool) {
	raw, ok := env["BUILD_ID"]
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
