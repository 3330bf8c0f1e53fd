// Package workload computes and caches per-technician complaint
// counts. Snapshots are advisory: assignment commits are always
// re-validated at the storage boundary.
package workload

import (
	"context"
	"time"

	"fieldline/internal/cache"
	"fieldline/internal/domain"
)

// Store is the subset of the storage layer the tracker reads from.
type Store interface {
	CountActiveByTechnician(ctx context.Context, technicianID string) (int, error)
	CountTodayByTechnician(ctx context.Context, technicianID, since string) (int, error)
}

// Tracker caches WorkloadSnapshots with a fixed TTL. An expired
// snapshot is recomputed from storage before any capacity decision.
type Tracker struct {
	Store    Store
	Capacity int
	Loc      *time.Location
	Now      func() time.Time

	snapshots *cache.Cache[domain.WorkloadSnapshot]
}

func New(store Store, capacity int, ttl time.Duration, loc *time.Location) *Tracker {
	t := &Tracker{
		Store:     store,
		Capacity:  capacity,
		Loc:       loc,
		Now:       time.Now,
		snapshots: cache.New[domain.WorkloadSnapshot](ttl),
	}
	// The cache ages entries on the same clock as the tracker, so an
	// injected Now moves TTL expiry and the midnight boundary together.
	t.snapshots.Now = t.now
	return t
}

// GetWorkload returns a cached snapshot when fresh, otherwise
// recomputes from storage and re-caches.
func (t *Tracker) GetWorkload(ctx context.Context, technicianID string) (domain.WorkloadSnapshot, error) {
	if w, ok := t.snapshots.Get(technicianID); ok {
		return w, nil
	}

	active, err := t.Store.CountActiveByTechnician(ctx, technicianID)
	if err != nil {
		return domain.WorkloadSnapshot{}, err
	}
	today, err := t.Store.CountTodayByTechnician(ctx, technicianID, t.midnight())
	if err != nil {
		return domain.WorkloadSnapshot{}, err
	}

	w := domain.WorkloadSnapshot{
		TechnicianID: technicianID,
		ActiveCount:  active,
		TodayCount:   today,
		Capacity:     t.Capacity,
	}
	if t.Capacity > 0 {
		w.Utilization = float64(active) / float64(t.Capacity)
	}
	t.snapshots.Set(technicianID, w)
	return w, nil
}

// RecordDelta adjusts a cached snapshot in place after a commit so
// selections within the same cache window see the new counts without
// a storage round-trip. A miss or expired entry is left to the next
// GetWorkload recompute.
func (t *Tracker) RecordDelta(technicianID string, direction int) {
	t.snapshots.Update(technicianID, func(w domain.WorkloadSnapshot) domain.WorkloadSnapshot {
		w.ActiveCount += direction
		if w.ActiveCount < 0 {
			w.ActiveCount = 0
		}
		if direction > 0 {
			w.TodayCount += direction
		}
		if w.Capacity > 0 {
			w.Utilization = float64(w.ActiveCount) / float64(w.Capacity)
		}
		return w
	})
}

// Invalidate drops one technician's snapshot.
func (t *Tracker) Invalidate(technicianID string) {
	t.snapshots.Invalidate(technicianID)
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// midnight returns the start of the current day in the configured
// timezone, formatted for storage comparison.
func (t *Tracker) midnight() string {
	loc := t.Loc
	if loc == nil {
		loc = time.UTC
	}
	now := t.now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return start.UTC().Format(time.RFC3339)
}
