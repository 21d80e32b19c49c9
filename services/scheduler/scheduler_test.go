package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"forged/services/builds"
)

type fakeStore struct {
	pending    []builds.Build
	pendingErr error

	created   []builds.Build
	createErr error
	nextID    int64

	canceled  []int64
	cancelOK  bool
	cancelErr error
}

func (f *fakeStore) Create(ctx context.Context, b *builds.Build) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	b.ID = f.nextID
	f.created = append(f.created, *b)
	return nil
}

func (f *fakeStore) PendingForRef(ctx context.Context, projectID uuid.UUID, ref string) ([]builds.Build, error) {
	return f.pending, f.pendingErr
}

func (f *fakeStore) CancelScheduled(ctx context.Context, id int64) (bool, error) {
	f.canceled = append(f.canceled, id)
	return f.cancelOK, f.cancelErr
}

type killRequest struct {
	buildID int64
	status  builds.Status
	message string
}

type fakeKiller struct {
	kills []killRequest
	err   error
}

func (f *fakeKiller) Kill(ctx context.Context, b builds.Build, status builds.Status, message string) error {
	f.kills = append(f.kills, killRequest{buildID: b.ID, status: status, message: message})
	return f.err
}

type published struct {
	subject string
	payload any
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, subj string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subj, payload: v})
	return nil
}

func newTestScheduler(t *testing.T, store *fakeStore, killer *fakeKiller, pub *fakePublisher, builders []string) *Scheduler {
	t.Helper()
	s, err := New(store, killer, pub, nil, builders, "https://github.com", log.New(testWriter{t}, "", 0))
	require.NoError(t, err)
	return s
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testProject() builds.Project {
	return builds.Project{ID: uuid.New(), RepoFull: "acme/widgets"}
}

func TestScheduleCancelsScheduledPredecessor(t *testing.T) {
	project := testProject()
	store := &fakeStore{
		pending:  []builds.Build{{ID: 7, ProjectID: project.ID, Ref: "main", Status: builds.StatusScheduled}},
		cancelOK: true,
	}
	killer := &fakeKiller{}
	pub := &fakePublisher{}
	s := newTestScheduler(t, store, killer, pub, nil)

	b, err := s.Schedule(context.Background(), Request{Project: project, Ref: "main", Hash: "abc123"})
	require.NoError(t, err)

	require.Equal(t, []int64{7}, store.canceled)
	require.Empty(t, killer.kills, "scheduled builds are canceled, not killed")
	require.Equal(t, builds.StatusScheduled, b.Status)
	require.NotZero(t, b.ID)
}

func TestScheduleKillsActivePredecessor(t *testing.T) {
	project := testProject()
	store := &fakeStore{
		pending: []builds.Build{{ID: 9, ProjectID: project.ID, Ref: "main", Status: builds.StatusBuilding}},
	}
	killer := &fakeKiller{}
	pub := &fakePublisher{}
	s := newTestScheduler(t, store, killer, pub, nil)

	_, err := s.Schedule(context.Background(), Request{Project: project, Ref: "main", Hash: "abc123"})
	require.NoError(t, err)

	require.Empty(t, store.canceled)
	require.Len(t, killer.kills, 1)
	require.Equal(t, int64(9), killer.kills[0].buildID)
	require.Equal(t, builds.StatusObsolete, killer.kills[0].status)
	require.Contains(t, killer.kills[0].message, "main")
}

func TestScheduleToleratesKillFailure(t *testing.T) {
	project := testProject()
	store := &fakeStore{
		pending: []builds.Build{{ID: 4, ProjectID: project.ID, Ref: "main", Status: builds.StatusRunning}},
	}
	killer := &fakeKiller{err: errors.New("bus down")}
	pub := &fakePublisher{}
	s := newTestScheduler(t, store, killer, pub, nil)

	b, err := s.Schedule(context.Background(), Request{Project: project, Ref: "main", Hash: "abc123"})
	require.NoError(t, err)
	require.NotZero(t, b.ID)
	require.Len(t, pub.msgs, 1)
}

func TestScheduleToleratesLostCancelRace(t *testing.T) {
	project := testProject()
	store := &fakeStore{
		pending:  []builds.Build{{ID: 3, ProjectID: project.ID, Ref: "main", Status: builds.StatusScheduled}},
		cancelOK: false,
	}
	s := newTestScheduler(t, store, &fakeKiller{}, &fakePublisher{}, nil)

	_, err := s.Schedule(context.Background(), Request{Project: project, Ref: "main", Hash: "abc123"})
	require.NoError(t, err)
}

func TestScheduleElectsBuilderFromAllowList(t *testing.T) {
	builders := []string{"builder-a", "builder-b", "builder-c"}
	project := testProject()

	for i, want := range builders {
		store := &fakeStore{}
		pub := &fakePublisher{}
		s := newTestScheduler(t, store, &fakeKiller{}, pub, builders)
		s.pick = func(n int) int {
			require.Equal(t, len(builders), n)
			return i
		}

		b, err := s.Schedule(context.Background(), Request{Project: project, Ref: "main", Hash: "abc123"})
		require.NoError(t, err)
		require.Equal(t, want, b.BuilderHost)
		require.Len(t, pub.msgs, 1)
		require.Equal(t, fmt.Sprintf("%s.%s", OrderSubject, want), pub.msgs[0].subject)
	}
}

func TestScheduleEmptyAllowListUsesBareSubject(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	s := newTestScheduler(t, store, &fakeKiller{}, pub, nil)

	b, err := s.Schedule(context.Background(), Request{Project: testProject(), Ref: "main", Hash: "abc123"})
	require.NoError(t, err)
	require.Empty(t, b.BuilderHost)
	require.Len(t, pub.msgs, 1)
	require.Equal(t, OrderSubject, pub.msgs[0].subject)
}

func TestSchedulePersistsBeforeDispatch(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{err: errors.New("nats unavailable")}
	s := newTestScheduler(t, store, &fakeKiller{}, pub, nil)

	b, err := s.Schedule(context.Background(), Request{Project: testProject(), Ref: "main", Hash: "abc123"})
	require.Error(t, err)
	require.NotZero(t, b.ID, "the record survives a failed dispatch")
	require.Len(t, store.created, 1)
}

func TestScheduleAbortsOnStorageFailure(t *testing.T) {
	store := &fakeStore{createErr: errors.New("pg down")}
	pub := &fakePublisher{}
	s := newTestScheduler(t, store, &fakeKiller{}, pub, nil)

	_, err := s.Schedule(context.Background(), Request{Project: testProject(), Ref: "main", Hash: "abc123"})
	require.Error(t, err)
	require.Empty(t, pub.msgs, "no order goes out for an unpersisted build")
}

func TestScheduleMarksDemoBuilds(t *testing.T) {
	store := &fakeStore{}
	s := newTestScheduler(t, store, &fakeKiller{}, &fakePublisher{}, nil)

	b, err := s.Schedule(context.Background(), Request{Project: testProject(), Ref: builds.DemoRef, Hash: "abc123"})
	require.NoError(t, err)
	require.True(t, b.Demo)

	b, err = s.Schedule(context.Background(), Request{Project: testProject(), Ref: "main", Hash: "def456"})
	require.NoError(t, err)
	require.False(t, b.Demo)
}

func TestScheduleValidatesInput(t *testing.T) {
	s := newTestScheduler(t, &fakeStore{}, &fakeKiller{}, &fakePublisher{}, nil)

	_, err := s.Schedule(context.Background(), Request{Project: testProject(), Hash: "abc123"})
	require.Error(t, err)

	_, err = s.Schedule(context.Background(), Request{Project: testProject(), Ref: "main"})
	require.Error(t, err)
}

func TestCommitURL(t *testing.T) {
	require.Equal(t, "https://github.com/acme/widgets/commit/abc123", commitURL("https://github.com", "acme/widgets", "abc123"))
	require.Empty(t, commitURL("", "acme/widgets", "abc123"))
	require.Empty(t, commitURL("https://github.com", "", "abc123"))
}
