// Package domain defines the persistent world entities, proposed-call value
// types, and the adjudication and persistence contracts used by bastioncore.
package domain

import "encoding/json"

// EntityType identifies the kind of record stored in the world state.
type EntityType string

// Supported entity type identifiers used in timeline payloads and persistence tables.
const (
	// EntityNPC identifies a non-player character record.
	EntityNPC EntityType = "npc"
	// EntityStructure identifies a structure record.
	EntityStructure EntityType = "structure"
	// EntityStockpile identifies a resource stockpile record.
	EntityStockpile EntityType = "stockpile"
	// EntityTradeRoute identifies a trade route record.
	EntityTradeRoute EntityType = "trade_route"
	// EntityScheduledEvent identifies a scheduled event record.
	EntityScheduledEvent EntityType = "scheduled_event"
	// EntityStoryProgress identifies a story act progress record.
	EntityStoryProgress EntityType = "story_progress"
)

// NPCStatus enumerates canonical NPC states.
type NPCStatus string

// Canonical NPC statuses accepted by the mutation surface.
const (
	NPCStatusHealthy NPCStatus = "healthy"
	NPCStatusInjured NPCStatus = "injured"
	NPCStatusMissing NPCStatus = "missing"
	NPCStatusDead    NPCStatus = "dead"
)

// ValidNPCStatus reports whether s is one of the canonical NPC statuses.
func ValidNPCStatus(s NPCStatus) bool {
	switch s {
	case NPCStatusHealthy, NPCStatusInjured, NPCStatusMissing, NPCStatusDead:
		return true
	}
	return false
}

// NPC represents a simulated character tracked by the world state.
type NPC struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Template string    `json:"template"`
	Location string    `json:"location"`
	Status   NPCStatus `json:"status"`
	Trust    int       `json:"trust"`
}

// StructureStatus is derived deterministically from durability thresholds.
type StructureStatus string

// Structure condition bands.
const (
	StructureIntact    StructureStatus = "intact"
	StructureDamaged   StructureStatus = "damaged"
	StructureCritical  StructureStatus = "critical"
	StructureDestroyed StructureStatus = "destroyed"
)

// StructureStatusFor maps a durability value onto its condition band.
// Bands: >=70% intact, >=30% damaged, >0 critical, 0 destroyed.
func StructureStatusFor(durability, maxDurability int) StructureStatus {
	switch {
	case durability <= 0:
		return StructureDestroyed
	case durability*10 >= maxDurability*7:
		return StructureIntact
	case durability*10 >= maxDurability*3:
		return StructureDamaged
	default:
		return StructureCritical
	}
}

// Structure represents a built structure with bounded durability.
// Invariant: 0 <= Durability <= MaxDurability; Status is always
// StructureStatusFor(Durability, MaxDurability).
type Structure struct {
	ID                 string          `json:"id"`
	Durability         int             `json:"durability"`
	MaxDurability      int             `json:"max_durability"`
	Status             StructureStatus `json:"status"`
	LastRepairedTurn   int             `json:"last_repaired_turn"`
	LastReinforcedTurn int             `json:"last_reinforced_turn"`
}

// Stockpile tracks the on-hand quantity of a single resource.
// Invariant: Quantity >= 0.
type Stockpile struct {
	ResourceID      string `json:"resource_id"`
	Quantity        int    `json:"quantity"`
	LastUpdatedTurn int    `json:"last_updated_turn"`
}

// TradeRouteStatus enumerates trade route lifecycle states.
type TradeRouteStatus string

// Trade route statuses.
const (
	TradeRouteOpen   TradeRouteStatus = "open"
	TradeRouteClosed TradeRouteStatus = "closed"
)

// TradeRoute represents a named route with risk and reward ratings.
// Invariant: ClosedTurn is set iff Status is closed, and OpenedTurn <=
// *ClosedTurn when both are present.
type TradeRoute struct {
	ID         string           `json:"id"`
	Status     TradeRouteStatus `json:"status"`
	Risk       int              `json:"risk"`
	Reward     int              `json:"reward"`
	OpenedTurn int              `json:"opened_turn"`
	ClosedTurn *int             `json:"closed_turn"`
	LastReason string           `json:"last_reason"`
}

// EventStatus enumerates scheduled event lifecycle states.
type EventStatus string

// Scheduled event statuses. TriggerTurn is immutable once an event has fired.
const (
	EventScheduled EventStatus = "scheduled"
	EventFired     EventStatus = "fired"
	EventCancelled EventStatus = "cancelled"
)

// ScheduledEvent represents a deferred world event keyed by trigger turn.
type ScheduledEvent struct {
	ID          string      `json:"id"`
	TriggerTurn int         `json:"trigger_turn"`
	Status      EventStatus `json:"status"`
}

// TimelineEvent is an append-only audit row recorded for every applied
// mutation, ordered by turn then insertion sequence.
type TimelineEvent struct {
	Turn      int             `json:"turn"`
	Seq       int             `json:"seq"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// HazardLogEntry records one hazard occurrence, composite-keyed by
// (HazardID, Turn). Append-only.
type HazardLogEntry struct {
	HazardID string `json:"hazard_id"`
	Turn     int    `json:"turn"`
	Severity int    `json:"severity"`
	Duration int    `json:"duration"`
}

// CombatLogEntry records one combat resolution. Append-only.
type CombatLogEntry struct {
	Turn     int    `json:"turn"`
	Seq      int    `json:"seq"`
	Attacker string `json:"attacker"`
	Defender string `json:"defender"`
	Outcome  string `json:"outcome"`
}

// StoryProgress tracks fractional progress through a narrative act.
// Invariant: Progress is monotonically non-decreasing per act.
type StoryProgress struct {
	Act             string  `json:"act"`
	Progress        float64 `json:"progress"`
	LastUpdatedTurn int     `json:"last_updated_turn"`
}

// Topology declares the fixed world geography and numeric bounds that
// validators check proposed mutations against.
type Topology struct {
	Places   []string `json:"places"`
	TrustMin int      `json:"trust_min"`
	TrustMax int      `json:"trust_max"`
}

// HasPlace reports whether name is a valid place in the world topology.
func (t Topology) HasPlace(name string) bool {
	for _, p := range t.Places {
		if p == name {
			return true
		}
	}
	return false
}

// Snapshot is the full serialized world state exchanged with persistence
// adapters at load time.
type Snapshot struct {
	Turn            int              `json:"turn"`
	Topology        Topology         `json:"topology"`
	NPCs            []NPC            `json:"npcs"`
	Structures      []Structure      `json:"structures"`
	Stockpiles      []Stockpile      `json:"stockpiles"`
	TradeRoutes     []TradeRoute     `json:"trade_routes"`
	ScheduledEvents []ScheduledEvent `json:"scheduled_events"`
	Story           []StoryProgress  `json:"story"`
	Timeline        []TimelineEvent  `json:"timeline"`
	HazardLog       []HazardLogEntry `json:"hazard_log"`
	CombatLog       []CombatLogEntry `json:"combat_log"`
}
