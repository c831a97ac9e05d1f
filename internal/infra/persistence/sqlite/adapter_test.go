package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	"bastioncore/pkg/domain"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func fullSnapshot() domain.Snapshot {
	closed := 7
	return domain.Snapshot{
		Turn: 9,
		Topology: domain.Topology{
			Places:   []string{"gate", "market"},
			TrustMin: -100,
			TrustMax: 100,
		},
		NPCs: []domain.NPC{
			{ID: "ana", Name: "Ana", Template: "guard", Location: "gate", Status: domain.NPCStatusHealthy, Trust: 20},
		},
		Structures: []domain.Structure{
			{ID: "wall", Durability: 40, MaxDurability: 100, Status: domain.StructureDamaged, LastRepairedTurn: 6},
		},
		Stockpiles: []domain.Stockpile{
			{ResourceID: "wood", Quantity: 5, LastUpdatedTurn: 8},
		},
		TradeRoutes: []domain.TradeRoute{
			{ID: "pass", Status: domain.TradeRouteClosed, Risk: 3, Reward: 5, OpenedTurn: 2, ClosedTurn: &closed, LastReason: "banditry"},
			{ID: "river", Status: domain.TradeRouteOpen, Risk: 2, Reward: 7, OpenedTurn: 3},
		},
		ScheduledEvents: []domain.ScheduledEvent{
			{ID: "festival", TriggerTurn: 11, Status: domain.EventScheduled},
		},
		Story: []domain.StoryProgress{
			{Act: "act1", Progress: 0.5, LastUpdatedTurn: 9},
		},
		Timeline: []domain.TimelineEvent{
			{Turn: 9, Seq: 0, EventType: "repair_structure", Payload: json.RawMessage(`{"structure_id":"wall","amount":10}`)},
		},
		HazardLog: []domain.HazardLogEntry{
			{HazardID: "storm", Turn: 9, Severity: 2, Duration: 1},
		},
		CombatLog: []domain.CombatLogEntry{
			{Turn: 9, Seq: 0, Attacker: "ana", Defender: "raider", Outcome: "victory"},
		},
	}
}

func TestSeedLoadRoundTrip(t *testing.T) {
	adapter := newTestAdapter(t)
	seed := fullSnapshot()
	if err := adapter.Seed(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	loaded, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(loaded, seed) {
		t.Fatalf("round trip mismatch:\nseed:   %+v\nloaded: %+v", seed, loaded)
	}
}

func TestLoadEmptyDatabase(t *testing.T) {
	adapter := newTestAdapter(t)
	snap, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Turn != 0 || len(snap.NPCs) != 0 {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestPersistUpsertsRowsAndAppendsLogs(t *testing.T) {
	adapter := newTestAdapter(t)
	if err := adapter.Seed(context.Background(), fullSnapshot()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	closed := 10
	err := adapter.Persist(context.Background(), domain.CommitDelta{
		Turn: 10,
		Structures: []domain.Structure{
			{ID: "wall", Durability: 60, MaxDurability: 100, Status: domain.StructureDamaged, LastRepairedTurn: 10},
		},
		TradeRoutes: []domain.TradeRoute{
			{ID: "river", Status: domain.TradeRouteClosed, Risk: 2, Reward: 7, OpenedTurn: 3, ClosedTurn: &closed, LastReason: "flood"},
		},
		Timeline: []domain.TimelineEvent{
			{Turn: 10, Seq: 0, EventType: "repair_structure", Payload: json.RawMessage(`{"structure_id":"wall","amount":20}`)},
		},
		CombatLog: []domain.CombatLogEntry{
			{Turn: 10, Seq: 0, Attacker: "ana", Defender: "raider", Outcome: "rout"},
		},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	snap, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Turn != 10 {
		t.Fatalf("turn not updated: %d", snap.Turn)
	}
	if snap.Structures[0].Durability != 60 || snap.Structures[0].LastRepairedTurn != 10 {
		t.Fatalf("structure upsert wrong: %+v", snap.Structures[0])
	}
	var river domain.TradeRoute
	for _, r := range snap.TradeRoutes {
		if r.ID == "river" {
			river = r
		}
	}
	if river.Status != domain.TradeRouteClosed || river.ClosedTurn == nil || *river.ClosedTurn != 10 {
		t.Fatalf("route upsert wrong: %+v", river)
	}
	if len(snap.Timeline) != 2 || len(snap.CombatLog) != 2 {
		t.Fatalf("log appends wrong: %d timeline, %d combat", len(snap.Timeline), len(snap.CombatLog))
	}
	// Rows the delta did not mention are untouched.
	if len(snap.NPCs) != 1 || snap.NPCs[0].Trust != 20 {
		t.Fatalf("unrelated rows changed: %+v", snap.NPCs)
	}
}

func TestSeedReplacesPriorContents(t *testing.T) {
	adapter := newTestAdapter(t)
	if err := adapter.Seed(context.Background(), fullSnapshot()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := adapter.Seed(context.Background(), domain.Snapshot{Turn: 1}); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	snap, err := adapter.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Turn != 1 || len(snap.NPCs) != 0 || len(snap.Timeline) != 0 {
		t.Fatalf("reseed left prior rows behind: %+v", snap)
	}
}
