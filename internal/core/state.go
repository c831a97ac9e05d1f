package core

import (
	"encoding/json"
	"sort"

	"bastioncore/pkg/domain"
)

// worldState is the canonical in-memory aggregate of all mutable entities
// plus the append-only logs. It is mutated exclusively through registered
// functions, never directly by callers.
type worldState struct {
	turn     int
	topology domain.Topology

	npcs        map[string]domain.NPC
	structures  map[string]domain.Structure
	stockpiles  map[string]domain.Stockpile
	tradeRoutes map[string]domain.TradeRoute
	events      map[string]domain.ScheduledEvent
	story       map[string]domain.StoryProgress

	timeline  []domain.TimelineEvent
	hazardLog []domain.HazardLogEntry
	combatLog []domain.CombatLogEntry
}

func newWorldState() *worldState {
	return &worldState{
		npcs:        make(map[string]domain.NPC),
		structures:  make(map[string]domain.Structure),
		stockpiles:  make(map[string]domain.Stockpile),
		tradeRoutes: make(map[string]domain.TradeRoute),
		events:      make(map[string]domain.ScheduledEvent),
		story:       make(map[string]domain.StoryProgress),
	}
}

// clone produces the shadow copy staged mutations are applied to. It is a
// deep copy: the shadow and the canonical state share no mutable memory.
func (s *worldState) clone() *worldState {
	cloned := newWorldState()
	cloned.turn = s.turn
	cloned.topology = cloneTopology(s.topology)
	for k, v := range s.npcs {
		cloned.npcs[k] = v
	}
	for k, v := range s.structures {
		cloned.structures[k] = v
	}
	for k, v := range s.stockpiles {
		cloned.stockpiles[k] = v
	}
	for k, v := range s.tradeRoutes {
		cloned.tradeRoutes[k] = cloneTradeRoute(v)
	}
	for k, v := range s.events {
		cloned.events[k] = v
	}
	for k, v := range s.story {
		cloned.story[k] = v
	}
	cloned.timeline = make([]domain.TimelineEvent, len(s.timeline))
	for i, ev := range s.timeline {
		cloned.timeline[i] = cloneTimelineEvent(ev)
	}
	cloned.hazardLog = append([]domain.HazardLogEntry(nil), s.hazardLog...)
	cloned.combatLog = append([]domain.CombatLogEntry(nil), s.combatLog...)
	return cloned
}

func cloneTopology(t domain.Topology) domain.Topology {
	cp := t
	cp.Places = append([]string(nil), t.Places...)
	return cp
}

func cloneTradeRoute(r domain.TradeRoute) domain.TradeRoute {
	cp := r
	if r.ClosedTurn != nil {
		closed := *r.ClosedTurn
		cp.ClosedTurn = &closed
	}
	return cp
}

func cloneTimelineEvent(ev domain.TimelineEvent) domain.TimelineEvent {
	cp := ev
	if ev.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), ev.Payload...)
	}
	return cp
}

// fromSnapshot hydrates a world state from the persisted representation.
func fromSnapshot(snap domain.Snapshot) *worldState {
	s := newWorldState()
	s.turn = snap.Turn
	s.topology = cloneTopology(snap.Topology)
	for _, n := range snap.NPCs {
		s.npcs[n.ID] = n
	}
	for _, st := range snap.Structures {
		s.structures[st.ID] = st
	}
	for _, sp := range snap.Stockpiles {
		s.stockpiles[sp.ResourceID] = sp
	}
	for _, r := range snap.TradeRoutes {
		s.tradeRoutes[r.ID] = cloneTradeRoute(r)
	}
	for _, ev := range snap.ScheduledEvents {
		s.events[ev.ID] = ev
	}
	for _, sp := range snap.Story {
		s.story[sp.Act] = sp
	}
	s.timeline = make([]domain.TimelineEvent, len(snap.Timeline))
	for i, ev := range snap.Timeline {
		s.timeline[i] = cloneTimelineEvent(ev)
	}
	s.hazardLog = append([]domain.HazardLogEntry(nil), snap.HazardLog...)
	s.combatLog = append([]domain.CombatLogEntry(nil), snap.CombatLog...)
	return s
}

// toSnapshot serializes the state with deterministic ordering (sorted by
// primary key; logs keep insertion order).
func (s *worldState) toSnapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Turn:     s.turn,
		Topology: cloneTopology(s.topology),
	}
	for _, id := range sortedKeys(s.npcs) {
		snap.NPCs = append(snap.NPCs, s.npcs[id])
	}
	for _, id := range sortedKeys(s.structures) {
		snap.Structures = append(snap.Structures, s.structures[id])
	}
	for _, id := range sortedKeys(s.stockpiles) {
		snap.Stockpiles = append(snap.Stockpiles, s.stockpiles[id])
	}
	for _, id := range sortedKeys(s.tradeRoutes) {
		snap.TradeRoutes = append(snap.TradeRoutes, cloneTradeRoute(s.tradeRoutes[id]))
	}
	for _, id := range sortedKeys(s.events) {
		snap.ScheduledEvents = append(snap.ScheduledEvents, s.events[id])
	}
	for _, act := range sortedKeys(s.story) {
		snap.Story = append(snap.Story, s.story[act])
	}
	for _, ev := range s.timeline {
		snap.Timeline = append(snap.Timeline, cloneTimelineEvent(ev))
	}
	snap.HazardLog = append([]domain.HazardLogEntry(nil), s.hazardLog...)
	snap.CombatLog = append([]domain.CombatLogEntry(nil), s.combatLog...)
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
