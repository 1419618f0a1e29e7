package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/domain/recognition"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/pkg/logger"
	"github.com/perimetric/facegate/pkg/mathutil"
)

// clusterWindow bounds the embedding ring kept per unknown cluster.
const clusterWindow = 10

// engineStore is the persistence surface the engine flushes through.
// Implemented by *Repository; faked in tests.
type engineStore interface {
	UpsertStates(ctx context.Context, rows []StateRow) error
	InsertEvents(ctx context.Context, events []Event) error
	UpsertClusters(ctx context.Context, rows []ClusterRow) error
	UpsertAnalytics(ctx context.Context, rows []AnalyticsRow) error
	LoadStates(ctx context.Context) ([]StateRow, error)
}

// campusCounters is the live counter set of one campus. Membership sets make
// the inside counters self-correcting: double entries cannot drift them.
type campusCounters struct {
	tenantID          string
	date              time.Time
	entries           int
	exits             int
	unknownDetections int
	employeesInside   map[string]struct{}
	visitorsInside    map[string]struct{}
}

// cluster is the in-memory identity assigned to a face nobody in the catalog
// matched. The centroid is the unit-normalized mean of the embedding window.
type cluster struct {
	id        string
	tenantID  string
	campusID  string
	firstSeen time.Time
	lastSeen  time.Time
	count     int
	cameras   map[string]struct{}
	window    [][]float32
	centroid  []float32
}

// Engine is the presence state machine: it folds the noisy detection stream
// into authoritative entry/exit events, clusters unknown faces, and mirrors
// its state to the store in batches.
//
// One RWMutex guards the person states, campus counters and clusters;
// detection handling is a short critical section. The batch queues have
// their own lock so a slow flush never blocks the hot path.
type Engine struct {
	cfg  *config.Config
	repo engineStore
	log  *slog.Logger

	mu       sync.RWMutex
	states   map[string]*PersonState
	campuses map[string]*campusCounters
	clusters map[string][]*cluster

	qmu            sync.Mutex
	pendingStates  map[string]StateRow
	pendingEvents  []Event
	pendingCluster map[string]ClusterRow
	lastFlush      time.Time

	runMu     sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewEngine creates the presence engine.
func NewEngine(cfg *config.Config, repo *Repository, log *slog.Logger) *Engine {
	return newEngine(cfg, repo, log)
}

func newEngine(cfg *config.Config, repo engineStore, log *slog.Logger) *Engine {
	return &Engine{
		cfg:            cfg,
		repo:           repo,
		log:            log.With(logger.Scope("presence")),
		states:         make(map[string]*PersonState),
		campuses:       make(map[string]*campusCounters),
		clusters:       make(map[string][]*cluster),
		pendingStates:  make(map[string]StateRow),
		pendingCluster: make(map[string]ClusterRow),
		lastFlush:      time.Now().UTC(),
	}
}

// Start restores the mirrored states and launches the flusher.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return nil
	}

	if err := e.restore(ctx); err != nil {
		// The mirror is an optimization; an empty engine is still correct.
		e.log.Warn("presence state restore failed, starting empty", logger.Error(err))
	}

	e.stopCh = make(chan struct{})
	e.stoppedCh = make(chan struct{})
	e.running = true
	go e.flushLoop()
	e.log.Info("presence engine started")
	return nil
}

// Stop halts the flusher and flushes both queues.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return nil
	}
	close(e.stopCh)
	select {
	case <-e.stoppedCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.running = false

	if err := e.flush(ctx); err != nil {
		e.log.Error("final presence flush failed", logger.Error(err))
		return err
	}
	e.log.Info("presence engine stopped")
	return nil
}

// restore rebuilds the in-memory view from the persisted mirror. Today's
// counters survive a restart; rows from previous days contribute status only.
func (e *Engine) restore(ctx context.Context) error {
	rows, err := e.repo.LoadStates(ctx)
	if err != nil {
		return err
	}
	today := dateOf(time.Now().UTC())

	e.mu.Lock()
	defer e.mu.Unlock()
	inside := 0
	for _, row := range rows {
		st := &PersonState{
			SubjectID:      row.SubjectID,
			TenantID:       row.TenantID,
			CampusID:       row.CampusID,
			Kind:           row.Kind,
			Name:           row.Name,
			Status:         row.Status,
			CurrentEntryAt: row.CurrentEntryAt,
			LastExitAt:     row.LastExitAt,
			LastCamera:     row.LastCamera,
			LastSeenAt:     row.LastSeenAt,
			countersDate:   today,
		}
		if dateOf(row.CountersDate).Equal(today) {
			st.EntriesToday = row.EntriesToday
			st.ExitsToday = row.ExitsToday
			st.DetectionsToday = row.Detections
		}
		e.states[row.SubjectID] = st

		cc := e.campus(row.CampusID, row.TenantID, today)
		if st.Status == StatusInside {
			inside++
			if st.Kind == catalog.KindEmployee {
				cc.employeesInside[st.SubjectID] = struct{}{}
			} else {
				cc.visitorsInside[st.SubjectID] = struct{}{}
			}
		}
		cc.entries += st.EntriesToday
		cc.exits += st.ExitsToday
	}
	if len(rows) > 0 {
		e.log.Info("presence state restored",
			slog.Int("people", len(rows)),
			slog.Int("inside", inside))
	}
	return nil
}

// HandleDetection consumes one detection from the recognition pipelines.
// Implements recognition.Sink. The detection timestamp is the source of
// truth for all state transitions.
func (e *Engine) HandleDetection(d recognition.Detection) {
	if d.Unknown() {
		detectionsProcessed.WithLabelValues("unknown").Inc()
		e.handleUnknown(d)
		return
	}
	detectionsProcessed.WithLabelValues("identified").Inc()
	e.handleKnown(d)
}

func (e *Engine) handleKnown(d recognition.Detection) {
	day := dateOf(d.Timestamp)

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[d.SubjectID]
	if !ok {
		st = &PersonState{
			SubjectID:    d.SubjectID,
			TenantID:     d.TenantID,
			CampusID:     d.CampusID,
			Kind:         d.Kind,
			Name:         d.Name,
			Status:       StatusOutside,
			countersDate: day,
		}
		e.states[d.SubjectID] = st
	}
	e.rollDay(st, day)
	cc := e.campus(st.CampusID, st.TenantID, day)

	st.DetectionsToday++
	st.LastCamera = d.CameraID
	ts := d.Timestamp
	st.LastSeenAt = &ts

	switch d.CameraRole {
	case recognition.RoleEntry:
		e.handleEntry(st, cc, d)
	case recognition.RoleExit:
		e.handleExit(st, cc, d)
	}
	e.queueState(st)
}

// handleEntry advances the entry side of the state machine. A detection on
// the entry camera while already inside only refreshes last-seen.
func (e *Engine) handleEntry(st *PersonState, cc *campusCounters, d recognition.Detection) {
	if st.Status != StatusOutside {
		return
	}
	if st.PendingEntry == nil {
		st.PendingEntry = &Pending{
			CameraID:    d.CameraID,
			FirstSeenAt: d.Timestamp,
			Similarity:  float64(d.Score),
		}
		return
	}
	if d.Timestamp.Sub(st.PendingEntry.FirstSeenAt) < e.cfg.Presence.ConfirmDelay {
		return
	}

	entryAt := st.PendingEntry.FirstSeenAt
	st.Status = StatusInside
	st.CurrentEntryAt = &entryAt
	st.EntriesToday++
	st.PendingEntry = nil

	cc.entries++
	if st.Kind == catalog.KindEmployee {
		cc.employeesInside[st.SubjectID] = struct{}{}
	} else {
		cc.visitorsInside[st.SubjectID] = struct{}{}
	}

	e.queueEvent(Event{
		ID:          uuid.NewString(),
		TenantID:    st.TenantID,
		CampusID:    st.CampusID,
		EventType:   EventEntry,
		SubjectID:   st.SubjectID,
		SubjectKind: st.Kind,
		SubjectName: st.Name,
		CameraID:    d.CameraID,
		Score:       float64(d.Score),
		OccurredAt:  entryAt,
	})
	e.log.Info("entry confirmed",
		slog.String("subject_id", st.SubjectID),
		slog.String("campus_id", st.CampusID),
		slog.Float64("score", float64(d.Score)))
}

// handleExit mirrors handleEntry for the exit side.
func (e *Engine) handleExit(st *PersonState, cc *campusCounters, d recognition.Detection) {
	if st.Status != StatusInside {
		return
	}
	if st.PendingExit == nil {
		st.PendingExit = &Pending{
			CameraID:    d.CameraID,
			FirstSeenAt: d.Timestamp,
			Similarity:  float64(d.Score),
		}
		return
	}
	if d.Timestamp.Sub(st.PendingExit.FirstSeenAt) < e.cfg.Presence.ConfirmDelay {
		return
	}

	exitAt := st.PendingExit.FirstSeenAt
	st.Status = StatusOutside
	st.CurrentEntryAt = nil
	st.LastExitAt = &exitAt
	st.ExitsToday++
	st.PendingExit = nil

	cc.exits++
	delete(cc.employeesInside, st.SubjectID)
	delete(cc.visitorsInside, st.SubjectID)

	e.queueEvent(Event{
		ID:          uuid.NewString(),
		TenantID:    st.TenantID,
		CampusID:    st.CampusID,
		EventType:   EventExit,
		SubjectID:   st.SubjectID,
		SubjectKind: st.Kind,
		SubjectName: st.Name,
		CameraID:    d.CameraID,
		Score:       float64(d.Score),
		OccurredAt:  exitAt,
	})
	e.log.Info("exit confirmed",
		slog.String("subject_id", st.SubjectID),
		slog.String("campus_id", st.CampusID),
		slog.Float64("score", float64(d.Score)))
}

// handleUnknown assigns an unmatched face to the best existing cluster of
// the campus, or creates a new one. One physical unknown person converges
// onto one cluster as its centroid tracks the embedding window.
func (e *Engine) handleUnknown(d recognition.Detection) {
	if len(d.Embedding) == 0 {
		return
	}
	day := dateOf(d.Timestamp)
	threshold := float32(e.cfg.Presence.UnknownClusterThreshold)

	e.mu.Lock()
	defer e.mu.Unlock()

	cc := e.campus(d.CampusID, d.TenantID, day)
	cc.unknownDetections++

	var best *cluster
	var bestScore float32 = -1
	for _, cl := range e.clusters[d.CampusID] {
		if score := mathutil.Dot(cl.centroid, d.Embedding); score > bestScore {
			best = cl
			bestScore = score
		}
	}

	if best != nil && bestScore >= threshold {
		best.lastSeen = d.Timestamp
		best.count++
		best.cameras[d.CameraID] = struct{}{}
		best.window = append(best.window, d.Embedding)
		if len(best.window) > clusterWindow {
			best.window = best.window[len(best.window)-clusterWindow:]
		}
		best.centroid = mathutil.Normalize(mathutil.Mean(best.window))

		e.queueEvent(unknownEvent(best, d, false))
		e.queueCluster(best)
		return
	}

	cl := &cluster{
		id:        fmt.Sprintf("unknown_%s_%d", d.CampusID, len(e.clusters[d.CampusID])+1),
		tenantID:  d.TenantID,
		campusID:  d.CampusID,
		firstSeen: d.Timestamp,
		lastSeen:  d.Timestamp,
		count:     1,
		cameras:   map[string]struct{}{d.CameraID: {}},
		window:    [][]float32{d.Embedding},
		centroid:  mathutil.Normalize(d.Embedding),
	}
	e.clusters[d.CampusID] = append(e.clusters[d.CampusID], cl)

	e.log.Warn("new unknown person",
		slog.String("cluster_id", cl.id),
		slog.String("camera_id", d.CameraID))
	e.queueEvent(unknownEvent(cl, d, true))
	e.queueCluster(cl)
}

func unknownEvent(cl *cluster, d recognition.Detection, isNew bool) Event {
	return Event{
		ID:             uuid.NewString(),
		TenantID:       cl.tenantID,
		CampusID:       cl.campusID,
		EventType:      EventUnknown,
		SubjectID:      cl.id,
		CameraID:       d.CameraID,
		Score:          float64(d.Score),
		IsNew:          isNew,
		DetectionCount: cl.count,
		OccurredAt:     d.Timestamp,
	}
}

// campus returns the counter set of a campus, rolled over to day.
// Caller holds the write lock.
func (e *Engine) campus(campusID, tenantID string, day time.Time) *campusCounters {
	cc, ok := e.campuses[campusID]
	if !ok {
		cc = &campusCounters{
			tenantID:        tenantID,
			date:            day,
			employeesInside: make(map[string]struct{}),
			visitorsInside:  make(map[string]struct{}),
		}
		e.campuses[campusID] = cc
	}
	if !cc.date.Equal(day) && day.After(cc.date) {
		// Date rollover: today's flow counters reset, the inside sets
		// persist because those people are still on campus.
		cc.date = day
		cc.entries = 0
		cc.exits = 0
		cc.unknownDetections = 0
	}
	return cc
}

// rollDay resets a person's today-counters on date rollover.
func (e *Engine) rollDay(st *PersonState, day time.Time) {
	if st.countersDate.Equal(day) || day.Before(st.countersDate) {
		return
	}
	st.countersDate = day
	st.EntriesToday = 0
	st.ExitsToday = 0
	st.DetectionsToday = 0
}

// SweepStale clears pending transitions that stopped being observed before
// confirmation. Runs on the scheduler cadence.
func (e *Engine) SweepStale(ctx context.Context) error {
	e.sweepAt(time.Now().UTC())
	return nil
}

func (e *Engine) sweepAt(now time.Time) {
	expiry := e.cfg.Presence.StaleExpiry

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		if st.PendingEntry != nil && now.Sub(st.PendingEntry.FirstSeenAt) > expiry {
			st.PendingEntry = nil
		}
		if st.PendingExit != nil && now.Sub(st.PendingExit.FirstSeenAt) > expiry {
			st.PendingExit = nil
		}
	}
}

// RunAnalytics upserts the per-campus daily counters. Runs on the scheduler
// cadence and is safe to invoke concurrently with detections.
func (e *Engine) RunAnalytics(ctx context.Context) error {
	e.mu.RLock()
	rows := make([]AnalyticsRow, 0, len(e.campuses))
	for campusID, cc := range e.campuses {
		rows = append(rows, AnalyticsRow{
			TenantID:          cc.tenantID,
			CampusID:          campusID,
			Date:              cc.date,
			Inside:            len(cc.employeesInside) + len(cc.visitorsInside),
			EmployeesInside:   len(cc.employeesInside),
			VisitorsInside:    len(cc.visitorsInside),
			Entries:           cc.entries,
			Exits:             cc.exits,
			UnknownDetections: cc.unknownDetections,
			UniqueUnknowns:    len(e.clusters[campusID]),
		})
	}
	e.mu.RUnlock()

	if len(rows) == 0 {
		return nil
	}
	return e.repo.UpsertAnalytics(ctx, rows)
}

// --- batched persistence ---

func (e *Engine) queueState(st *PersonState) {
	row := StateRow{
		TenantID:       st.TenantID,
		CampusID:       st.CampusID,
		SubjectID:      st.SubjectID,
		Kind:           st.Kind,
		Name:           st.Name,
		Status:         st.Status,
		CurrentEntryAt: st.CurrentEntryAt,
		LastExitAt:     st.LastExitAt,
		LastSeenAt:     st.LastSeenAt,
		LastCamera:     st.LastCamera,
		EntriesToday:   st.EntriesToday,
		ExitsToday:     st.ExitsToday,
		Detections:     st.DetectionsToday,
		CountersDate:   st.countersDate,
		UpdatedAt:      time.Now().UTC(),
	}
	e.qmu.Lock()
	e.pendingStates[row.TenantID+"|"+row.CampusID+"|"+row.SubjectID] = row
	e.qmu.Unlock()
}

func (e *Engine) queueEvent(ev Event) {
	eventsEmitted.WithLabelValues(ev.EventType).Inc()
	e.qmu.Lock()
	e.pendingEvents = append(e.pendingEvents, ev)
	e.qmu.Unlock()
}

func (e *Engine) queueCluster(cl *cluster) {
	row := clusterRow(cl)
	e.qmu.Lock()
	e.pendingCluster[row.CampusID+"|"+row.ClusterID] = row
	e.qmu.Unlock()
}

// flushLoop evaluates the two flush conditions on a short check interval:
// either queue volume reached the batch limit, or the flush interval
// elapsed with work pending.
func (e *Engine) flushLoop() {
	defer close(e.stoppedCh)

	ticker := time.NewTicker(e.cfg.Presence.FlushCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.qmu.Lock()
			size := len(e.pendingStates) + len(e.pendingEvents) + len(e.pendingCluster)
			due := size >= e.cfg.Presence.BatchFlushItems ||
				(size > 0 && time.Since(e.lastFlush) >= e.cfg.Presence.BatchFlushInterval)
			e.qmu.Unlock()
			if !due {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := e.flush(ctx); err != nil {
				e.log.Error("presence flush failed", logger.Error(err))
			}
			cancel()
		}
	}
}

// flush drains the queues to the store. On failure the drained items are
// re-queued without overwriting anything newer, so acknowledged state is
// never lost.
func (e *Engine) flush(ctx context.Context) error {
	e.qmu.Lock()
	states := e.pendingStates
	events := e.pendingEvents
	clusters := e.pendingCluster
	e.pendingStates = make(map[string]StateRow)
	e.pendingEvents = nil
	e.pendingCluster = make(map[string]ClusterRow)
	e.lastFlush = time.Now().UTC()
	e.qmu.Unlock()

	total := len(states) + len(events) + len(clusters)
	if total == 0 {
		return nil
	}
	flushBatchSize.Observe(float64(total))

	stateRows := make([]StateRow, 0, len(states))
	for _, row := range states {
		stateRows = append(stateRows, row)
	}
	clusterRows := make([]ClusterRow, 0, len(clusters))
	for _, row := range clusters {
		clusterRows = append(clusterRows, row)
	}

	var firstErr error
	if len(stateRows) > 0 {
		if err := e.repo.UpsertStates(ctx, stateRows); err != nil {
			firstErr = err
			e.requeueStates(states)
		}
	}
	if len(events) > 0 {
		if err := e.repo.InsertEvents(ctx, events); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.requeueEvents(events)
		}
	}
	if len(clusterRows) > 0 {
		if err := e.repo.UpsertClusters(ctx, clusterRows); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.requeueClusters(clusters)
		}
	}
	if firstErr != nil {
		flushFailures.Inc()
		return firstErr
	}

	e.log.Debug("presence flushed",
		slog.Int("states", len(stateRows)),
		slog.Int("events", len(events)),
		slog.Int("clusters", len(clusterRows)))
	return nil
}

func (e *Engine) requeueStates(failed map[string]StateRow) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	for key, row := range failed {
		// A row queued after the failed flush is newer; keep it.
		if _, exists := e.pendingStates[key]; !exists {
			e.pendingStates[key] = row
		}
	}
}

func (e *Engine) requeueEvents(failed []Event) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	e.pendingEvents = append(failed, e.pendingEvents...)
}

func (e *Engine) requeueClusters(failed map[string]ClusterRow) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	for key, row := range failed {
		if _, exists := e.pendingCluster[key]; !exists {
			e.pendingCluster[key] = row
		}
	}
}

// --- queries (served from memory) ---

// CampusStatus returns the live counters of one campus. A campus with no
// activity yet reports zeroes.
func (e *Engine) CampusStatus(campusID string) CampusStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.campusStatusLocked(campusID)
}

func (e *Engine) campusStatusLocked(campusID string) CampusStatus {
	status := CampusStatus{CampusID: campusID}
	if cc, ok := e.campuses[campusID]; ok {
		status.EmployeesInside = len(cc.employeesInside)
		status.VisitorsInside = len(cc.visitorsInside)
		status.Inside = status.EmployeesInside + status.VisitorsInside
		status.EntriesToday = cc.entries
		status.ExitsToday = cc.exits
		status.UnknownDetections = cc.unknownDetections
	}
	status.UniqueUnknowns = len(e.clusters[campusID])
	return status
}

// OverallStatus aggregates every campus.
func (e *Engine) OverallStatus() OverallStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := OverallStatus{
		Campuses:  make(map[string]CampusStatus, len(e.campuses)),
		Timestamp: time.Now().UTC(),
	}
	for campusID := range e.campuses {
		cs := e.campusStatusLocked(campusID)
		out.Campuses[campusID] = cs
		out.TotalInside += cs.Inside
		out.TotalEntriesToday += cs.EntriesToday
		out.TotalExitsToday += cs.ExitsToday
	}
	return out
}

// Summary is the cross-campus analytics rollup.
func (e *Engine) Summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := Summary{
		CampusBreakdown: make(map[string]CampusStatus, len(e.campuses)),
		Timestamp:       time.Now().UTC(),
	}
	for campusID := range e.campuses {
		cs := e.campusStatusLocked(campusID)
		out.CampusBreakdown[campusID] = cs
		out.TotalCampuses++
		out.TotalInside += cs.Inside
		out.TotalEmployeesInside += cs.EmployeesInside
		out.TotalVisitorsInside += cs.VisitorsInside
		out.TotalEntriesToday += cs.EntriesToday
		out.TotalExitsToday += cs.ExitsToday
		out.TotalUnknownToday += cs.UnknownDetections
	}
	return out
}

// People lists the person states of a campus filtered by status
// ("inside", "outside" or "all").
func (e *Engine) People(campusID, statusFilter string) []PersonState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]PersonState, 0)
	for _, st := range e.states {
		if st.CampusID != campusID {
			continue
		}
		if statusFilter != "all" && st.Status != statusFilter {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

// Person returns the state of one subject, wherever they are.
func (e *Engine) Person(subjectID string) (PersonState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[subjectID]
	if !ok {
		return PersonState{}, false
	}
	return *st, true
}

// Unknowns lists the campus's clusters sorted by detection count,
// most seen first.
func (e *Engine) Unknowns(campusID string) ClusterList {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := ClusterList{Clusters: make([]ClusterRow, 0, len(e.clusters[campusID]))}
	for _, cl := range e.clusters[campusID] {
		out.Clusters = append(out.Clusters, clusterRow(cl))
		out.TotalDetections += cl.count
	}
	sort.Slice(out.Clusters, func(i, j int) bool {
		return out.Clusters[i].DetectionCount > out.Clusters[j].DetectionCount
	})
	out.TotalUnique = len(out.Clusters)
	return out
}

func clusterRow(cl *cluster) ClusterRow {
	cameras := make([]string, 0, len(cl.cameras))
	for cam := range cl.cameras {
		cameras = append(cameras, cam)
	}
	sort.Strings(cameras)
	return ClusterRow{
		ClusterID:      cl.id,
		TenantID:       cl.tenantID,
		CampusID:       cl.campusID,
		FirstSeen:      cl.firstSeen,
		LastSeen:       cl.lastSeen,
		DetectionCount: cl.count,
		CamerasSeen:    pq.StringArray(cameras),
		UpdatedAt:      time.Now().UTC(),
	}
}

// dateOf truncates a timestamp to its UTC calendar day.
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
