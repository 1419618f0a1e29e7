package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/pkg/logger"
	"github.com/perimetric/facegate/pkg/mathutil"
)

// Store is the tenant-partitioned in-memory view of the embedding catalog.
// Readers take snapshots and never block the sync writer for long: the map is
// guarded by a single RWMutex and Snapshot copies the tenant slice out.
//
// The first Sync is a full load; later Syncs are incremental on
// last_updated >= last sync and also remove entries that stopped qualifying
// (subject deactivated or blacklisted).
type Store struct {
	repo *Repository
	cfg  *config.Config
	log  *slog.Logger

	// syncMu serializes sync runs (timer tick vs. forced resync).
	syncMu sync.Mutex

	mu        sync.RWMutex
	tenants   map[string]map[string]Entry
	loaded    bool
	lastSync  time.Time
	syncCount uint64
}

// NewStore creates the in-memory catalog view.
func NewStore(repo *Repository, cfg *config.Config, log *slog.Logger) *Store {
	return &Store{
		repo:    repo,
		cfg:     cfg,
		log:     log.With(logger.Scope("catalog.store")),
		tenants: make(map[string]map[string]Entry),
	}
}

// Sync reconciles the view with the database. The first call performs a full
// load; subsequent calls apply only subjects touched since the previous sync.
func (s *Store) Sync(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	// The watermark is taken before the query so writes racing with this
	// sync are re-read next time; diff-apply makes the overlap idempotent.
	start := time.Now().UTC()

	var since *time.Time
	s.mu.RLock()
	if s.loaded {
		t := s.lastSync
		since = &t
	}
	s.mu.RUnlock()

	rows, err := s.repo.Entries(ctx, s.cfg.Training.Model, since)
	if err != nil {
		return err
	}

	full := since == nil
	loaded, removed, corrupt := s.apply(rows, full)

	s.mu.Lock()
	s.loaded = true
	s.lastSync = start
	s.syncCount++
	total := 0
	for _, subjects := range s.tenants {
		total += len(subjects)
	}
	s.mu.Unlock()

	if full {
		s.log.Info("catalog loaded",
			slog.Int("entries", loaded),
			slog.Int("corrupt", corrupt))
	} else if loaded > 0 || removed > 0 || corrupt > 0 {
		s.log.Info("catalog synced",
			slog.Int("loaded", loaded),
			slog.Int("removed", removed),
			slog.Int("corrupt", corrupt),
			slog.Int("total", total))
	} else {
		s.log.Debug("catalog sync: no changes", slog.Int("total", total))
	}
	return nil
}

// Resync drops the incremental watermark and performs a full load.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return s.Sync(ctx)
}

// apply merges rows into the view. A full apply rebuilds the map and swaps it
// in; an incremental apply upserts qualifying rows and deletes disqualified
// ones. Embeddings are unit-normalized on load; corrupt blobs are skipped
// with a warning and never evict an existing entry.
func (s *Store) apply(rows []catalogRow, full bool) (loaded, removed, corrupt int) {
	next := make(map[string]map[string]Entry)

	if !full {
		s.mu.RLock()
		for tenant, subjects := range s.tenants {
			copied := make(map[string]Entry, len(subjects))
			for id, e := range subjects {
				copied[id] = e
			}
			next[tenant] = copied
		}
		s.mu.RUnlock()
	}

	for _, row := range rows {
		if !qualifies(row) {
			if subjects, ok := next[row.TenantID]; ok {
				if _, had := subjects[row.SubjectID]; had {
					delete(subjects, row.SubjectID)
					removed++
				}
			}
			continue
		}

		vec, err := DecodeEmbedding(row.Embedding)
		if err != nil {
			s.log.Warn("skipping corrupt embedding",
				slog.String("tenant_id", row.TenantID),
				slog.String("subject_id", row.SubjectID),
				logger.Error(err))
			corrupt++
			continue
		}

		if next[row.TenantID] == nil {
			next[row.TenantID] = make(map[string]Entry)
		}
		next[row.TenantID][row.SubjectID] = Entry{
			SubjectID: row.SubjectID,
			Kind:      row.Kind,
			Name:      row.Name,
			Embedding: mathutil.Normalize(vec),
			UpdatedAt: row.LastUpdated,
		}
		loaded++
	}

	for tenant, subjects := range next {
		if len(subjects) == 0 {
			delete(next, tenant)
		}
	}

	s.mu.Lock()
	s.tenants = next
	s.mu.Unlock()
	return loaded, removed, corrupt
}

// qualifies applies the active filter: employees must be active and not
// blacklisted; visitors only must not be blacklisted. The done-embedding
// requirement is part of the repository query.
func qualifies(row catalogRow) bool {
	if row.Blacklisted {
		return false
	}
	if row.Kind == KindEmployee && !row.Active {
		return false
	}
	return true
}

// Snapshot returns a copied slice of the tenant's entries. The copy is owned
// by the caller; matching loops iterate it without holding any lock.
func (s *Store) Snapshot(tenantID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := s.tenants[tenantID]
	if len(subjects) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(subjects))
	for _, e := range subjects {
		out = append(out, e)
	}
	return out
}

// Lookup returns a single entry of a tenant.
func (s *Store) Lookup(tenantID, subjectID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tenants[tenantID][subjectID]
	return e, ok
}

// Tenants returns the tenant ids currently holding entries.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tenants))
	for tenant := range s.tenants {
		out = append(out, tenant)
	}
	return out
}

// Stats summarizes the loaded view.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		Tenants:   len(s.tenants),
		SyncCount: s.syncCount,
		PerTenant: make(map[string]TenantStats, len(s.tenants)),
	}
	if s.loaded {
		t := s.lastSync
		stats.LastSyncAt = &t
	}
	for tenant, subjects := range s.tenants {
		ts := TenantStats{Subjects: len(subjects)}
		for _, e := range subjects {
			switch e.Kind {
			case KindEmployee:
				ts.Employees++
			case KindVisitor:
				ts.Visitors++
			}
		}
		stats.PerTenant[tenant] = ts
		stats.Subjects += ts.Subjects
	}
	return stats
}
