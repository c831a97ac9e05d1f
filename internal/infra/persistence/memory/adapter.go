// Package memory provides an in-memory persistence adapter used by tests and
// ephemeral deployments. It applies commit deltas to a held snapshot with the
// same row semantics as the durable backends.
package memory

import (
	"context"
	"sync"

	"bastioncore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistenceAdapter = (*Adapter)(nil)

// Adapter keeps the persisted world as a snapshot guarded by a mutex.
type Adapter struct {
	mu   sync.Mutex
	snap domain.Snapshot

	// PersistErr, when set, is returned by the next Persist call. Tests use
	// it to exercise the durability-failure path.
	PersistErr error
}

// NewAdapter seeds the adapter with an initial snapshot.
func NewAdapter(seed domain.Snapshot) *Adapter {
	return &Adapter{snap: seed}
}

// Load returns the currently persisted snapshot.
func (a *Adapter) Load(_ context.Context) (domain.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap, nil
}

// Persist applies the delta: upserts for entity rows, appends for log rows,
// and the new turn number.
func (a *Adapter) Persist(_ context.Context, delta domain.CommitDelta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.PersistErr != nil {
		err := a.PersistErr
		a.PersistErr = nil
		return err
	}
	a.snap.Turn = delta.Turn
	for _, row := range delta.NPCs {
		a.snap.NPCs = upsertByID(a.snap.NPCs, row, func(n domain.NPC) string { return n.ID })
	}
	for _, row := range delta.Structures {
		a.snap.Structures = upsertByID(a.snap.Structures, row, func(s domain.Structure) string { return s.ID })
	}
	for _, row := range delta.Stockpiles {
		a.snap.Stockpiles = upsertByID(a.snap.Stockpiles, row, func(s domain.Stockpile) string { return s.ResourceID })
	}
	for _, row := range delta.TradeRoutes {
		a.snap.TradeRoutes = upsertByID(a.snap.TradeRoutes, row, func(r domain.TradeRoute) string { return r.ID })
	}
	for _, row := range delta.ScheduledEvents {
		a.snap.ScheduledEvents = upsertByID(a.snap.ScheduledEvents, row, func(e domain.ScheduledEvent) string { return e.ID })
	}
	for _, row := range delta.Story {
		a.snap.Story = upsertByID(a.snap.Story, row, func(s domain.StoryProgress) string { return s.Act })
	}
	a.snap.Timeline = append(a.snap.Timeline, delta.Timeline...)
	a.snap.HazardLog = append(a.snap.HazardLog, delta.HazardLog...)
	a.snap.CombatLog = append(a.snap.CombatLog, delta.CombatLog...)
	return nil
}

// Close is a no-op.
func (a *Adapter) Close() error { return nil }

// Snapshot returns the persisted state for test assertions.
func (a *Adapter) Snapshot() domain.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

func upsertByID[T any](rows []T, row T, key func(T) string) []T {
	for i := range rows {
		if key(rows[i]) == key(row) {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}
