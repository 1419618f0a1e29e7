package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/domain/recognition"
	"github.com/perimetric/facegate/internal/config"
)

// fakeStore records every batch the engine flushes and can be told to fail.
type fakeStore struct {
	mu        sync.Mutex
	err       error
	states    []StateRow
	events    []Event
	clusters  []ClusterRow
	analytics []AnalyticsRow
	loaded    []StateRow
}

func (f *fakeStore) UpsertStates(_ context.Context, rows []StateRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.states = append(f.states, rows...)
	return nil
}

func (f *fakeStore) InsertEvents(_ context.Context, events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeStore) UpsertClusters(_ context.Context, rows []ClusterRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.clusters = append(f.clusters, rows...)
	return nil
}

func (f *fakeStore) UpsertAnalytics(_ context.Context, rows []AnalyticsRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.analytics = append(f.analytics, rows...)
	return nil
}

func (f *fakeStore) LoadStates(context.Context) ([]StateRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded, nil
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func testEngine(store engineStore) *Engine {
	cfg := &config.Config{}
	cfg.Presence.ConfirmDelay = 2 * time.Second
	cfg.Presence.StaleExpiry = 5 * time.Second
	cfg.Presence.UnknownClusterThreshold = 0.65
	cfg.Presence.BatchFlushItems = 50
	cfg.Presence.BatchFlushInterval = 5 * time.Second
	cfg.Presence.FlushCheckInterval = 10 * time.Millisecond
	log := slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return newEngine(cfg, store, log)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func knownDetection(subjectID, cameraID, role string, ts time.Time) recognition.Detection {
	return recognition.Detection{
		TenantID:   "acme",
		CampusID:   "hq",
		CameraID:   cameraID,
		CameraRole: role,
		Timestamp:  ts,
		SubjectID:  subjectID,
		Kind:       catalog.KindEmployee,
		Name:       "Alice",
		Score:      0.91,
	}
}

func unknownDetection(cameraID, role string, ts time.Time, emb []float32) recognition.Detection {
	return recognition.Detection{
		TenantID:   "acme",
		CampusID:   "hq",
		CameraID:   cameraID,
		CameraRole: role,
		Timestamp:  ts,
		Score:      0.2,
		Embedding:  emb,
	}
}

func TestEntryConfirmedAfterDwell(t *testing.T) {
	e := testEngine(&fakeStore{})

	// First sighting opens a pending entry; sightings inside the dwell
	// window must not confirm.
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(500*time.Millisecond)))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(time.Second)))

	st, ok := e.Person("alice")
	require.True(t, ok)
	assert.Equal(t, StatusOutside, st.Status)
	assert.Zero(t, st.EntriesToday)
	require.NotNil(t, st.PendingEntry)
	assert.Equal(t, t0, st.PendingEntry.FirstSeenAt)

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(2500*time.Millisecond)))

	st, _ = e.Person("alice")
	assert.Equal(t, StatusInside, st.Status)
	assert.Equal(t, 1, st.EntriesToday)
	assert.Nil(t, st.PendingEntry)
	require.NotNil(t, st.CurrentEntryAt)
	assert.Equal(t, t0, *st.CurrentEntryAt, "entry time is the first sighting, not the confirming one")

	cs := e.CampusStatus("hq")
	assert.Equal(t, 1, cs.Inside)
	assert.Equal(t, 1, cs.EmployeesInside)
	assert.Equal(t, 1, cs.EntriesToday)
}

func TestEntryEventCarriesFirstSightingTime(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))

	e.qmu.Lock()
	defer e.qmu.Unlock()
	require.Len(t, e.pendingEvents, 1)
	ev := e.pendingEvents[0]
	assert.Equal(t, EventEntry, ev.EventType)
	assert.Equal(t, "alice", ev.SubjectID)
	assert.Equal(t, t0, ev.OccurredAt)
	assert.NotEmpty(t, ev.ID)
}

func TestExitFlow(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))

	// An exit sighting while inside opens the pending exit.
	exitAt := t0.Add(time.Hour)
	e.HandleDetection(knownDetection("alice", "cam-exit", recognition.RoleExit, exitAt))
	st, _ := e.Person("alice")
	assert.Equal(t, StatusInside, st.Status)
	require.NotNil(t, st.PendingExit)

	e.HandleDetection(knownDetection("alice", "cam-exit", recognition.RoleExit, exitAt.Add(2*time.Second)))
	st, _ = e.Person("alice")
	assert.Equal(t, StatusOutside, st.Status)
	assert.Equal(t, 1, st.ExitsToday)
	assert.Nil(t, st.CurrentEntryAt)
	require.NotNil(t, st.LastExitAt)
	assert.Equal(t, exitAt, *st.LastExitAt)

	cs := e.CampusStatus("hq")
	assert.Zero(t, cs.Inside, "exit must remove the person from the inside set")
	assert.Equal(t, 1, cs.EntriesToday)
	assert.Equal(t, 1, cs.ExitsToday)
}

func TestStateMirrorRoundTripsLastExit(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(store)

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))
	exitAt := t0.Add(time.Hour)
	e.HandleDetection(knownDetection("alice", "cam-exit", recognition.RoleExit, exitAt))
	e.HandleDetection(knownDetection("alice", "cam-exit", recognition.RoleExit, exitAt.Add(2*time.Second)))

	require.NoError(t, e.flush(context.Background()))

	store.mu.Lock()
	require.NotEmpty(t, store.states)
	row := store.states[len(store.states)-1]
	store.mu.Unlock()
	require.NotNil(t, row.LastExitAt)
	assert.Equal(t, exitAt, *row.LastExitAt)

	// A restarted engine rebuilds the field from the mirror.
	e2 := testEngine(&fakeStore{loaded: []StateRow{row}})
	require.NoError(t, e2.restore(context.Background()))
	st, ok := e2.Person("alice")
	require.True(t, ok)
	require.NotNil(t, st.LastExitAt)
	assert.Equal(t, exitAt, *st.LastExitAt)
}

func TestWrongCameraDoesNotTransition(t *testing.T) {
	e := testEngine(&fakeStore{})

	// Exit sightings of someone already outside only refresh last-seen.
	e.HandleDetection(knownDetection("alice", "cam-exit", recognition.RoleExit, t0))
	e.HandleDetection(knownDetection("alice", "cam-exit", recognition.RoleExit, t0.Add(3*time.Second)))

	st, ok := e.Person("alice")
	require.True(t, ok)
	assert.Equal(t, StatusOutside, st.Status)
	assert.Nil(t, st.PendingExit)
	assert.Zero(t, st.ExitsToday)
	assert.Equal(t, int64(2), st.DetectionsToday)
	assert.Equal(t, "cam-exit", st.LastCamera)
}

func TestSweepClearsStalePending(t *testing.T) {
	e := testEngine(&fakeStore{})

	// One sighting, then the person walks away without entering.
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.sweepAt(t0.Add(5100 * time.Millisecond))

	st, _ := e.Person("alice")
	assert.Nil(t, st.PendingEntry)
	assert.Equal(t, StatusOutside, st.Status)
	assert.Zero(t, st.EntriesToday)

	// A later sighting starts a fresh dwell window.
	later := t0.Add(time.Minute)
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, later))
	st, _ = e.Person("alice")
	require.NotNil(t, st.PendingEntry)
	assert.Equal(t, later, st.PendingEntry.FirstSeenAt)
}

func TestSweepKeepsFreshPending(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.sweepAt(t0.Add(3 * time.Second))

	st, _ := e.Person("alice")
	assert.NotNil(t, st.PendingEntry)
}

func TestUnknownsConvergeOntoOneCluster(t *testing.T) {
	e := testEngine(&fakeStore{})

	// Two noisy views of the same face: cosine similarity ~0.98.
	fA := []float32{1, 0}
	fB := []float32{0.98, 0.199}

	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0, fA))
	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0.Add(time.Second), fA))
	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0.Add(2*time.Second), fB))
	e.HandleDetection(unknownDetection("cam-b", recognition.RoleExit, t0.Add(3*time.Second), fB))
	e.HandleDetection(unknownDetection("cam-b", recognition.RoleExit, t0.Add(4*time.Second), fA))

	list := e.Unknowns("hq")
	require.Equal(t, 1, list.TotalUnique)
	cl := list.Clusters[0]
	assert.Equal(t, "unknown_hq_1", cl.ClusterID)
	assert.Equal(t, 5, cl.DetectionCount)
	assert.Equal(t, []string{"cam-a", "cam-b"}, []string(cl.CamerasSeen))
	assert.Equal(t, t0, cl.FirstSeen)
	assert.Equal(t, t0.Add(4*time.Second), cl.LastSeen)
	assert.Equal(t, 5, list.TotalDetections)
}

func TestDissimilarUnknownsGetOwnClusters(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0, []float32{1, 0}))
	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0.Add(time.Second), []float32{0, 1}))

	list := e.Unknowns("hq")
	require.Equal(t, 2, list.TotalUnique)

	ids := []string{list.Clusters[0].ClusterID, list.Clusters[1].ClusterID}
	assert.ElementsMatch(t, []string{"unknown_hq_1", "unknown_hq_2"}, ids)

	cs := e.CampusStatus("hq")
	assert.Equal(t, 2, cs.UnknownDetections)
	assert.Equal(t, 2, cs.UniqueUnknowns)
}

func TestUnknownEventsMarkNewClusters(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0, []float32{1, 0}))
	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0.Add(time.Second), []float32{1, 0}))

	e.qmu.Lock()
	defer e.qmu.Unlock()
	require.Len(t, e.pendingEvents, 2)
	assert.True(t, e.pendingEvents[0].IsNew)
	assert.Equal(t, 1, e.pendingEvents[0].DetectionCount)
	assert.False(t, e.pendingEvents[1].IsNew)
	assert.Equal(t, 2, e.pendingEvents[1].DetectionCount)
	assert.Equal(t, "unknown_hq_1", e.pendingEvents[1].SubjectID)
}

func TestUnknownWithoutEmbeddingIsDropped(t *testing.T) {
	e := testEngine(&fakeStore{})
	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0, nil))
	assert.Zero(t, e.Unknowns("hq").TotalUnique)
}

func TestFlushWritesAllQueues(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(store)

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))
	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0.Add(4*time.Second), []float32{1, 0}))

	require.NoError(t, e.flush(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.states, 1)
	assert.Equal(t, "alice", store.states[0].SubjectID)
	assert.Equal(t, StatusInside, store.states[0].Status)
	require.Len(t, store.events, 2)
	require.Len(t, store.clusters, 1)
	assert.Equal(t, "unknown_hq_1", store.clusters[0].ClusterID)
}

func TestFlushStateRowsAreDeduplicated(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(store)

	// Many detections of one person collapse into a single state row.
	for i := 0; i < 10; i++ {
		e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(time.Duration(i)*200*time.Millisecond)))
	}
	require.NoError(t, e.flush(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.states, 1)
	assert.Equal(t, int64(10), store.states[0].Detections)
}

func TestFailedFlushRequeuesWithoutLosingNewerState(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(store)

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))

	store.setErr(errors.New("connection refused"))
	require.Error(t, e.flush(context.Background()))

	// Everything drained by the failed flush is back in the queues.
	e.qmu.Lock()
	assert.Len(t, e.pendingStates, 1)
	assert.Len(t, e.pendingEvents, 1)
	e.qmu.Unlock()

	// New activity after the failure supersedes the re-queued row.
	e.HandleDetection(knownDetection("alice", "cam-exit", recognition.RoleExit, t0.Add(time.Minute)))

	store.setErr(nil)
	require.NoError(t, e.flush(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.states, 1)
	assert.Equal(t, "cam-exit", store.states[0].LastCamera)
	assert.Len(t, store.events, 1)
}

func TestRunAnalyticsSnapshotsCampuses(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(store)

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))
	e.HandleDetection(unknownDetection("cam-a", recognition.RoleEntry, t0.Add(4*time.Second), []float32{1, 0}))

	require.NoError(t, e.RunAnalytics(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.analytics, 1)
	row := store.analytics[0]
	assert.Equal(t, "acme", row.TenantID)
	assert.Equal(t, "hq", row.CampusID)
	assert.Equal(t, dateOf(t0), row.Date)
	assert.Equal(t, 1, row.Inside)
	assert.Equal(t, 1, row.EmployeesInside)
	assert.Equal(t, 1, row.Entries)
	assert.Equal(t, 1, row.UnknownDetections)
	assert.Equal(t, 1, row.UniqueUnknowns)
}

func TestRestoreRebuildsInsideSets(t *testing.T) {
	now := time.Now().UTC()
	entry := now.Add(-time.Hour)
	store := &fakeStore{loaded: []StateRow{
		{
			TenantID: "acme", CampusID: "hq", SubjectID: "alice",
			Kind: catalog.KindEmployee, Status: StatusInside,
			CurrentEntryAt: &entry, EntriesToday: 1,
			CountersDate: dateOf(now),
		},
		{
			TenantID: "acme", CampusID: "hq", SubjectID: "bob",
			Kind: catalog.KindVisitor, Status: StatusInside,
			// Stale counters from a previous day do not survive the restore.
			CurrentEntryAt: &entry, EntriesToday: 3,
			CountersDate: dateOf(now.AddDate(0, 0, -2)),
		},
	}}
	e := testEngine(store)
	require.NoError(t, e.restore(context.Background()))

	cs := e.CampusStatus("hq")
	assert.Equal(t, 2, cs.Inside)
	assert.Equal(t, 1, cs.EmployeesInside)
	assert.Equal(t, 1, cs.VisitorsInside)
	assert.Equal(t, 1, cs.EntriesToday)

	bob, ok := e.Person("bob")
	require.True(t, ok)
	assert.Equal(t, StatusInside, bob.Status)
	assert.Zero(t, bob.EntriesToday)
}

func TestDailyRolloverResetsFlowCountersOnly(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))

	// First detection of the next day triggers the rollover.
	nextDay := t0.AddDate(0, 0, 1)
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, nextDay))

	st, _ := e.Person("alice")
	assert.Equal(t, StatusInside, st.Status, "still inside across midnight")
	assert.Zero(t, st.EntriesToday)

	cs := e.CampusStatus("hq")
	assert.Equal(t, 1, cs.Inside, "inside set persists across the rollover")
	assert.Zero(t, cs.EntriesToday)
	assert.Zero(t, cs.ExitsToday)
}

func TestPeopleFiltersByStatus(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(knownDetection("bob", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("bob", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(4*time.Second)))

	inside := e.People("hq", StatusInside)
	require.Len(t, inside, 1)
	assert.Equal(t, "bob", inside[0].SubjectID)

	outside := e.People("hq", StatusOutside)
	require.Len(t, outside, 1)
	assert.Equal(t, "alice", outside[0].SubjectID)

	all := e.People("hq", "all")
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].SubjectID, "sorted by subject id")
	assert.Empty(t, e.People("elsewhere", "all"))
}

func TestOverallStatusAndSummaryAggregate(t *testing.T) {
	e := testEngine(&fakeStore{})

	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0.Add(3*time.Second)))

	d := knownDetection("bob", "cam2-entry", recognition.RoleEntry, t0)
	d.CampusID = "annex"
	d.Kind = catalog.KindVisitor
	e.HandleDetection(d)
	d.Timestamp = t0.Add(3 * time.Second)
	e.HandleDetection(d)

	status := e.OverallStatus()
	assert.Equal(t, 2, status.TotalInside)
	assert.Equal(t, 2, status.TotalEntriesToday)
	assert.Len(t, status.Campuses, 2)

	sum := e.Summary()
	assert.Equal(t, 2, sum.TotalCampuses)
	assert.Equal(t, 1, sum.TotalEmployeesInside)
	assert.Equal(t, 1, sum.TotalVisitorsInside)
	assert.Equal(t, 2, sum.TotalInside)
}

func TestPersonUnknownSubject(t *testing.T) {
	e := testEngine(&fakeStore{})
	_, ok := e.Person("nobody")
	assert.False(t, ok)
}

func TestStartStopFlushesOnShutdown(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(store)

	require.NoError(t, e.Start(context.Background()))
	e.HandleDetection(knownDetection("alice", "cam-entry", recognition.RoleEntry, t0))
	require.NoError(t, e.Stop(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.states, 1)
	assert.Equal(t, "alice", store.states[0].SubjectID)
}
