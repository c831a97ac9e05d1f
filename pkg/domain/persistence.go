package domain

import "context"

// CommitDelta carries everything a persistence adapter needs to durably
// record one committed turn: the new turn number, upserted rows for every
// entity touched during the turn, and the log rows appended by it.
type CommitDelta struct {
	Turn            int              `json:"turn"`
	NPCs            []NPC            `json:"npcs,omitempty"`
	Structures      []Structure      `json:"structures,omitempty"`
	Stockpiles      []Stockpile      `json:"stockpiles,omitempty"`
	TradeRoutes     []TradeRoute     `json:"trade_routes,omitempty"`
	ScheduledEvents []ScheduledEvent `json:"scheduled_events,omitempty"`
	Story           []StoryProgress  `json:"story,omitempty"`
	Timeline        []TimelineEvent  `json:"timeline,omitempty"`
	HazardLog       []HazardLogEntry `json:"hazard_log,omitempty"`
	CombatLog       []CombatLogEntry `json:"combat_log,omitempty"`
}

// Empty reports whether the delta carries no row changes at all.
func (d CommitDelta) Empty() bool {
	return len(d.NPCs) == 0 && len(d.Structures) == 0 && len(d.Stockpiles) == 0 &&
		len(d.TradeRoutes) == 0 && len(d.ScheduledEvents) == 0 && len(d.Story) == 0 &&
		len(d.Timeline) == 0 && len(d.HazardLog) == 0 && len(d.CombatLog) == 0
}

// PersistenceAdapter translates the in-memory world model into durable
// row-oriented storage. Load hydrates the canonical state once at process
// start; Persist must complete (or fail) before a turn is considered
// settled — there is no fire-and-forget path.
type PersistenceAdapter interface {
	Load(ctx context.Context) (Snapshot, error)
	Persist(ctx context.Context, delta CommitDelta) error
	Close() error
}
