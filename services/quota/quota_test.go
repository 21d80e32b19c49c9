package quota

import (
	"context"
	"errors"
	"log"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"forged/services/builds"
)

type fakeLister struct {
	running []builds.Build
	err     error
	name    string
}

func (f *fakeLister) RunningForUser(ctx context.Context, userID uuid.UUID) ([]builds.Build, error) {
	return f.running, f.err
}

func (f *fakeLister) Username(ctx context.Context, userID uuid.UUID) (string, error) {
	return f.name, nil
}

type fakeStopper struct {
	stopped []int64
	err     error
}

func (f *fakeStopper) Stop(ctx context.Context, b builds.Build) error {
	if f.err != nil {
		return f.err
	}
	f.stopped = append(f.stopped, b.ID)
	return nil
}

func running(ids ...int64) []builds.Build {
	out := make([]builds.Build, 0, len(ids))
	for _, id := range ids {
		out = append(out, builds.Build{ID: id, Status: builds.StatusRunning})
	}
	return out
}

func newTestEngine(t *testing.T, lister *fakeLister, stopper *fakeStopper, limit int) *Engine {
	t.Helper()
	e, err := NewEngine(lister, stopper, nil, limit, log.New(testWriter{t}, "", 0))
	require.NoError(t, err)
	return e
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestCheckWithinLimit(t *testing.T) {
	e := newTestEngine(t, &fakeLister{running: running(1, 2)}, &fakeStopper{}, 2)

	ok, err := e.Check(context.Background(), uuid.New())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckOverLimit(t *testing.T) {
	e := newTestEngine(t, &fakeLister{running: running(1, 2, 3)}, &fakeStopper{}, 2)

	ok, err := e.Check(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnforceWithinLimitIsNoOp(t *testing.T) {
	stopper := &fakeStopper{}
	e := newTestEngine(t, &fakeLister{running: running(1, 2)}, stopper, 2)

	require.NoError(t, e.Enforce(context.Background(), uuid.New()))
	require.Empty(t, stopper.stopped)
}

func TestEnforceStopsOnlyExcess(t *testing.T) {
	stopper := &fakeStopper{}
	e := newTestEngine(t, &fakeLister{running: running(11, 12, 13, 14), name: "alice"}, stopper, 2)

	require.NoError(t, e.Enforce(context.Background(), uuid.New()))
	require.Equal(t, []int64{13, 14}, stopper.stopped, "the first limit builds keep running")
}

func TestEnforceIsIdempotent(t *testing.T) {
	// Stopped builds leave the running set before the second pass.
	lister := &fakeLister{running: running(11, 12, 13), name: "bob"}
	stopper := &fakeStopper{}
	e := newTestEngine(t, lister, stopper, 2)

	require.NoError(t, e.Enforce(context.Background(), uuid.New()))
	require.Equal(t, []int64{13}, stopper.stopped)

	lister.running = running(11, 12)
	require.NoError(t, e.Enforce(context.Background(), uuid.New()))
	require.Equal(t, []int64{13}, stopper.stopped, "no further stops without new builds")
}

func TestEnforceSurfacesStopFailure(t *testing.T) {
	stopper := &fakeStopper{err: errors.New("bus down")}
	e := newTestEngine(t, &fakeLister{running: running(1, 2, 3), name: "carol"}, stopper, 2)

	require.Error(t, e.Enforce(context.Background(), uuid.New()))
}

func TestEnforceSurfacesListerFailure(t *testing.T) {
	e := newTestEngine(t, &fakeLister{err: errors.New("pg down")}, &fakeStopper{}, 2)

	require.Error(t, e.Enforce(context.Background(), uuid.New()))
}

func TestNewEngineRejectsNonPositiveLimit(t *testing.T) {
	_, err := NewEngine(&fakeLister{}, &fakeStopper{}, nil, 0, nil)
	require.Error(t, err)
}
