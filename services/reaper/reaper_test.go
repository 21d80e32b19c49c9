package reaper

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forged/pkg/containers"
	"forged/services/builds"
)

type terminalUpdate struct {
	status  builds.Status
	message string
}

type fakeRecords struct {
	builds  map[int64]builds.Build
	updates map[int64][]terminalUpdate
}

func newFakeRecords(bs ...builds.Build) *fakeRecords {
	f := &fakeRecords{builds: map[int64]builds.Build{}, updates: map[int64][]terminalUpdate{}}
	for _, b := range bs {
		f.builds[b.ID] = b
	}
	return f
}

func (f *fakeRecords) Get(ctx context.Context, id int64) (builds.Build, error) {
	b, ok := f.builds[id]
	if !ok {
		return builds.Build{}, builds.ErrNotFound
	}
	return b, nil
}

func (f *fakeRecords) SetTerminal(ctx context.Context, id int64, status builds.Status, message string) error {
	f.updates[id] = append(f.updates[id], terminalUpdate{status: status, message: message})
	b := f.builds[id]
	b.Status = status
	b.Message = message
	f.builds[id] = b
	return nil
}

type fakeRuntime struct {
	running    bool
	inspectErr error
	stopped    []string
	err        error
}

func (f *fakeRuntime) Stop(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, id string) (containers.Info, error) {
	if f.inspectErr != nil {
		return containers.Info{}, f.inspectErr
	}
	return containers.Info{ID: id, Running: f.running}, nil
}

type fakeProcs struct {
	alive        bool
	terminateErr error

	terminated []int
	killed     []int
	aliveCalls int
}

func (f *fakeProcs) Terminate(pid int) error {
	if f.terminateErr != nil {
		return f.terminateErr
	}
	f.terminated = append(f.terminated, pid)
	return nil
}

func (f *fakeProcs) Kill(pid int) error {
	f.killed = append(f.killed, pid)
	return nil
}

func (f *fakeProcs) Alive(pid int) bool {
	f.aliveCalls++
	return f.alive
}

func newTestReaper(t *testing.T, records *fakeRecords, runtime *fakeRuntime, procs *fakeProcs) *Reaper {
	t.Helper()
	r, err := New("builder-a", records, runtime, procs, nil, log.New(testWriter{t}, "", 0))
	require.NoError(t, err)
	r.gracePeriod = 20 * time.Millisecond
	r.pollInterval = 5 * time.Millisecond
	return r
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestKillGracefulExit(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 1, Status: builds.StatusRunning, ProcessID: 4242, ContainerID: "c-1"})
	runtime := &fakeRuntime{running: true}
	procs := &fakeProcs{alive: false}
	r := newTestReaper(t, records, runtime, procs)

	require.NoError(t, r.Kill(context.Background(), 1, builds.StatusKilled, "operator request"))

	require.Equal(t, []int{4242}, procs.terminated)
	require.Empty(t, procs.killed, "a process that exits in time is never force-killed")
	require.Equal(t, []string{"c-1"}, runtime.stopped)
	require.Equal(t, []terminalUpdate{{status: builds.StatusKilled, message: "operator request"}}, records.updates[1])
}

func TestKillEscalatesAfterGracePeriod(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 2, Status: builds.StatusRunning, ProcessID: 4243, ContainerID: "c-2"})
	runtime := &fakeRuntime{running: true}
	procs := &fakeProcs{alive: true}
	r := newTestReaper(t, records, runtime, procs)

	require.NoError(t, r.Kill(context.Background(), 2, builds.StatusKilled, "stuck"))

	require.Equal(t, []int{4243}, procs.terminated)
	require.Equal(t, []int{4243}, procs.killed)
	require.Equal(t, []string{"c-2"}, runtime.stopped, "container stop precedes the forceful signal")

	updates := records.updates[2]
	require.Len(t, updates, 2)
	require.Contains(t, updates[1].message, "was not gracefully terminated")
	require.Equal(t, builds.StatusKilled, updates[1].status)
}

func TestKillSkipsWaitWhenProcessAlreadyGone(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 3, Status: builds.StatusBuilding, ProcessID: 4244, ContainerID: "c-3"})
	runtime := &fakeRuntime{running: true}
	procs := &fakeProcs{terminateErr: errors.New("no such process")}
	r := newTestReaper(t, records, runtime, procs)

	require.NoError(t, r.Kill(context.Background(), 3, builds.StatusKilled, ""))

	require.Zero(t, procs.aliveCalls, "no liveness polling for a process that is already gone")
	require.Empty(t, procs.killed)
	require.Equal(t, []string{"c-3"}, runtime.stopped)
}

func TestKillContainerStopFailureHaltsEscalation(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 4, Status: builds.StatusRunning, ProcessID: 4245, ContainerID: "c-4"})
	runtime := &fakeRuntime{running: true, err: errors.New("daemon unreachable")}
	procs := &fakeProcs{alive: true}
	r := newTestReaper(t, records, runtime, procs)

	require.Error(t, r.Kill(context.Background(), 4, builds.StatusKilled, ""))
	require.Empty(t, procs.killed, "no forceful signal after a failed container stop")
}

func TestKillSkipsStoppedContainer(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 10, Status: builds.StatusRunning, ContainerID: "c-10"})
	runtime := &fakeRuntime{running: false}
	r := newTestReaper(t, records, runtime, &fakeProcs{})

	require.NoError(t, r.Kill(context.Background(), 10, builds.StatusKilled, ""))
	require.Empty(t, runtime.stopped, "a container that already exited needs no stop")
}

func TestKillAttemptsStopWhenInspectFails(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 11, Status: builds.StatusRunning, ContainerID: "c-11"})
	runtime := &fakeRuntime{inspectErr: errors.New("daemon busy")}
	r := newTestReaper(t, records, runtime, &fakeProcs{})

	require.NoError(t, r.Kill(context.Background(), 11, builds.StatusKilled, ""))
	require.Equal(t, []string{"c-11"}, runtime.stopped)
}

func TestKillUnknownBuildIsNoOp(t *testing.T) {
	r := newTestReaper(t, newFakeRecords(), &fakeRuntime{}, &fakeProcs{})
	require.NoError(t, r.Kill(context.Background(), 99, builds.StatusKilled, ""))
}

func TestKillTerminalBuildIsNoOp(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 5, Status: builds.StatusSuccess, ProcessID: 4246})
	procs := &fakeProcs{}
	r := newTestReaper(t, records, &fakeRuntime{}, procs)

	require.NoError(t, r.Kill(context.Background(), 5, builds.StatusKilled, ""))
	require.Empty(t, procs.terminated)
	require.Empty(t, records.updates[5])
}

func TestKillDefaultsToKilledStatus(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 6, Status: builds.StatusRunning})
	r := newTestReaper(t, records, &fakeRuntime{}, &fakeProcs{})

	require.NoError(t, r.Kill(context.Background(), 6, builds.StatusRunning, "bogus non-terminal status"))
	require.Equal(t, builds.StatusKilled, records.updates[6][0].status)
}

func TestKillObsoleteStatusIsRespected(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 7, Status: builds.StatusBuilding})
	r := newTestReaper(t, records, &fakeRuntime{}, &fakeProcs{})

	require.NoError(t, r.Kill(context.Background(), 7, builds.StatusObsolete, "superseded"))
	require.Equal(t, builds.StatusObsolete, records.updates[7][0].status)
}

func TestHandleOrderDropsMalformed(t *testing.T) {
	records := newFakeRecords()
	r := newTestReaper(t, records, &fakeRuntime{}, &fakeProcs{})

	require.NoError(t, r.handleOrder(context.Background(), []byte("not json")), "malformed orders are dropped, not redelivered")
	require.NoError(t, r.handleOrder(context.Background(), []byte(`{"message":"no build id"}`)))
}

func TestHandleOrderCarriesStatusAndMessage(t *testing.T) {
	records := newFakeRecords(builds.Build{ID: 8, Status: builds.StatusRunning})
	r := newTestReaper(t, records, &fakeRuntime{}, &fakeProcs{})

	status := int(builds.StatusObsolete)
	require.NoError(t, r.handleOrder(context.Background(), []byte(`{"build_id":8,"status":8,"message":"superseded"}`)))
	require.Equal(t, []terminalUpdate{{status: builds.Status(status), message: "superseded"}}, records.updates[8])
}

type binding struct {
	subject string
	durable string
}

type fakeSubscriber struct {
	bindings []binding
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	f.bindings = append(f.bindings, binding{subject: subj, durable: durable})
	return io.NopCloser(nil), nil
}

func TestStartBindsSharedAndHostSubjects(t *testing.T) {
	r := newTestReaper(t, newFakeRecords(), &fakeRuntime{}, &fakeProcs{})
	sub := &fakeSubscriber{}

	require.NoError(t, r.Start(context.Background(), sub))
	t.Cleanup(func() { _ = r.Close() })

	// Builds without an elected host are killed via the shared durable on the
	// bare subject, so a fleet of host-named reapers still covers them.
	require.Equal(t, []binding{
		{subject: KillSubject, durable: "reaper-kill"},
		{subject: KillSubject + ".builder-a", durable: "reaper-kill-builder-a"},
	}, sub.bindings)
}

func TestStartHostlessBindsBareSubjectOnly(t *testing.T) {
	records := newFakeRecords()
	r, err := New("", records, &fakeRuntime{}, &fakeProcs{}, nil, log.New(testWriter{t}, "", 0))
	require.NoError(t, err)
	sub := &fakeSubscriber{}

	require.NoError(t, r.Start(context.Background(), sub))
	t.Cleanup(func() { _ = r.Close() })

	require.Equal(t, []binding{{subject: KillSubject, durable: "reaper-kill"}}, sub.bindings)
}
