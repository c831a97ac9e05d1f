package core

import (
	"encoding/json"
	"fmt"

	"bastioncore/pkg/domain"
)

// Domain-specific rejection reasons surfaced by Tier-1 validators.
const (
	reasonUnknownNPC            = "unknown_npc"
	reasonNPCDead               = "npc_dead"
	reasonUnknownLocation       = "unknown_location"
	reasonInvalidStatus         = "invalid_status"
	reasonTrustOutOfBounds      = "trust_out_of_bounds"
	reasonUnknownResource       = "unknown_resource"
	reasonInsufficientQuantity  = "insufficient_quantity"
	reasonUnknownStructure      = "unknown_structure"
	reasonStructureDestroyed    = "structure_destroyed"
	reasonExceedsMaxDurability  = "exceeds_max_durability"
	reasonRouteAlreadyOpen      = "route_already_open"
	reasonUnknownRoute          = "unknown_route"
	reasonRouteNotOpen          = "route_not_open"
	reasonEventAlreadyExists    = "event_already_exists"
	reasonEventNotScheduled     = "event_not_scheduled"
	reasonTriggerInPast         = "trigger_in_past"
	reasonTriggerNotReached     = "trigger_not_reached"
	reasonHazardAlreadyRecorded = "hazard_already_recorded"
	reasonSelfCombat            = "self_combat"
	reasonProgressRegression    = "progress_regression"
)

// NewWorldRegistry builds the closed function set that constitutes the only
// mutation surface over world state, then seals it.
func NewWorldRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range worldFunctions() {
		if err := r.Register(spec); err != nil {
			panic(fmt.Sprintf("register %s: %v", spec.Name, err))
		}
	}
	r.Seal()
	return r
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// Prior-value rollback tokens. Each captures a snapshot of what apply
// touched, never a recomputed inverse.
type (
	npcToken       struct{ prior domain.NPC }
	structureToken struct{ prior domain.Structure }
	stockpileToken struct {
		prior   domain.Stockpile
		existed bool
	}
	routeToken struct {
		prior   domain.TradeRoute
		existed bool
	}
	eventToken struct {
		prior   domain.ScheduledEvent
		existed bool
	}
	storyToken struct {
		prior   domain.StoryProgress
		existed bool
	}
	hazardLogToken struct{ length int }
	combatLogToken struct{ length int }
)

func rollbackNPC(token any, state *worldState) error {
	t, ok := token.(npcToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	state.npcs[t.prior.ID] = t.prior
	return nil
}

func rollbackStructure(token any, state *worldState) error {
	t, ok := token.(structureToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	state.structures[t.prior.ID] = t.prior
	return nil
}

func rollbackStockpile(token any, state *worldState) error {
	t, ok := token.(stockpileToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	if t.existed {
		state.stockpiles[t.prior.ResourceID] = t.prior
	} else {
		delete(state.stockpiles, t.prior.ResourceID)
	}
	return nil
}

func rollbackRoute(token any, state *worldState) error {
	t, ok := token.(routeToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	if t.existed {
		state.tradeRoutes[t.prior.ID] = cloneTradeRoute(t.prior)
	} else {
		delete(state.tradeRoutes, t.prior.ID)
	}
	return nil
}

func rollbackEvent(token any, state *worldState) error {
	t, ok := token.(eventToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	if t.existed {
		state.events[t.prior.ID] = t.prior
	} else {
		delete(state.events, t.prior.ID)
	}
	return nil
}

func rollbackStory(token any, state *worldState) error {
	t, ok := token.(storyToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	if t.existed {
		state.story[t.prior.Act] = t.prior
	} else {
		delete(state.story, t.prior.Act)
	}
	return nil
}

func rollbackHazardLog(token any, state *worldState) error {
	t, ok := token.(hazardLogToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	state.hazardLog = state.hazardLog[:t.length]
	return nil
}

func rollbackCombatLog(token any, state *worldState) error {
	t, ok := token.(combatLogToken)
	if !ok {
		return fmt.Errorf("unexpected token %T", token)
	}
	state.combatLog = state.combatLog[:t.length]
	return nil
}

type npcTargetArgs struct {
	NPCID    string `json:"npc_id"`
	Location string `json:"location"`
	Status   string `json:"status"`
	Delta    int    `json:"delta"`
}

type resourceArgs struct {
	ResourceID string `json:"resource_id"`
	Quantity   int    `json:"quantity"`
}

type structureArgs struct {
	StructureID string `json:"structure_id"`
	Amount      int    `json:"amount"`
}

type routeArgs struct {
	RouteID string `json:"route_id"`
	Risk    int    `json:"risk"`
	Reward  int    `json:"reward"`
	Reason  string `json:"reason"`
}

type eventArgs struct {
	EventID     string `json:"event_id"`
	TriggerTurn int    `json:"trigger_turn"`
}

type hazardArgs struct {
	HazardID string `json:"hazard_id"`
	Severity int    `json:"severity"`
	Duration int    `json:"duration"`
}

type combatArgs struct {
	Attacker string `json:"attacker"`
	Defender string `json:"defender"`
	Outcome  string `json:"outcome"`
}

type storyArgs struct {
	Act      string  `json:"act"`
	Progress float64 `json:"progress"`
}

func worldFunctions() []FunctionSpec {
	return []FunctionSpec{
		{
			Name: "move_npc",
			ArgsSchema: `{"type":"object","required":["npc_id","location"],
				"properties":{"npc_id":{"type":"string","minLength":1},"location":{"type":"string","minLength":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[npcTargetArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				npc, ok := state.npcs[args.NPCID]
				if !ok {
					return Rejection{Reason: reasonUnknownNPC}
				}
				if npc.Status == domain.NPCStatusDead {
					return Rejection{Reason: reasonNPCDead}
				}
				if !state.topology.HasPlace(args.Location) {
					return Rejection{Reason: reasonUnknownLocation}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, _ int) (any, error) {
				args, err := decodeArgs[npcTargetArgs](raw)
				if err != nil {
					return nil, err
				}
				npc := state.npcs[args.NPCID]
				token := npcToken{prior: npc}
				npc.Location = args.Location
				state.npcs[npc.ID] = npc
				return token, nil
			},
			Rollback: rollbackNPC,
		},
		{
			Name: "set_npc_status",
			ArgsSchema: `{"type":"object","required":["npc_id","status"],
				"properties":{"npc_id":{"type":"string","minLength":1},"status":{"type":"string","minLength":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[npcTargetArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				if _, ok := state.npcs[args.NPCID]; !ok {
					return Rejection{Reason: reasonUnknownNPC}
				}
				if !domain.ValidNPCStatus(domain.NPCStatus(args.Status)) {
					return Rejection{Reason: reasonInvalidStatus}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, _ int) (any, error) {
				args, err := decodeArgs[npcTargetArgs](raw)
				if err != nil {
					return nil, err
				}
				npc := state.npcs[args.NPCID]
				token := npcToken{prior: npc}
				npc.Status = domain.NPCStatus(args.Status)
				state.npcs[npc.ID] = npc
				return token, nil
			},
			Rollback: rollbackNPC,
		},
		{
			Name: "adjust_trust",
			ArgsSchema: `{"type":"object","required":["npc_id","delta"],
				"properties":{"npc_id":{"type":"string","minLength":1},"delta":{"type":"integer"}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[npcTargetArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				npc, ok := state.npcs[args.NPCID]
				if !ok {
					return Rejection{Reason: reasonUnknownNPC}
				}
				next := npc.Trust + args.Delta
				if next < state.topology.TrustMin || next > state.topology.TrustMax {
					return Rejection{Reason: reasonTrustOutOfBounds}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, _ int) (any, error) {
				args, err := decodeArgs[npcTargetArgs](raw)
				if err != nil {
					return nil, err
				}
				npc := state.npcs[args.NPCID]
				token := npcToken{prior: npc}
				npc.Trust += args.Delta
				state.npcs[npc.ID] = npc
				return token, nil
			},
			Rollback: rollbackNPC,
		},
		{
			Name: "consume_resource",
			ArgsSchema: `{"type":"object","required":["resource_id","quantity"],
				"properties":{"resource_id":{"type":"string","minLength":1},"quantity":{"type":"integer","minimum":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[resourceArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				sp, ok := state.stockpiles[args.ResourceID]
				if !ok {
					return Rejection{Reason: reasonUnknownResource}
				}
				if sp.Quantity < args.Quantity {
					return Rejection{Reason: reasonInsufficientQuantity}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[resourceArgs](raw)
				if err != nil {
					return nil, err
				}
				sp := state.stockpiles[args.ResourceID]
				token := stockpileToken{prior: sp, existed: true}
				sp.Quantity -= args.Quantity
				sp.LastUpdatedTurn = turn
				state.stockpiles[sp.ResourceID] = sp
				return token, nil
			},
			Rollback: rollbackStockpile,
		},
		{
			Name: "add_resource",
			ArgsSchema: `{"type":"object","required":["resource_id","quantity"],
				"properties":{"resource_id":{"type":"string","minLength":1},"quantity":{"type":"integer","minimum":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, _ *worldState) error {
				if _, err := decodeArgs[resourceArgs](raw); err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[resourceArgs](raw)
				if err != nil {
					return nil, err
				}
				sp, existed := state.stockpiles[args.ResourceID]
				token := stockpileToken{prior: sp, existed: existed}
				if !existed {
					sp = domain.Stockpile{ResourceID: args.ResourceID}
					token.prior.ResourceID = args.ResourceID
				}
				sp.Quantity += args.Quantity
				sp.LastUpdatedTurn = turn
				state.stockpiles[sp.ResourceID] = sp
				return token, nil
			},
			Rollback: rollbackStockpile,
		},
		{
			Name: "repair_structure",
			ArgsSchema: `{"type":"object","required":["structure_id","amount"],
				"properties":{"structure_id":{"type":"string","minLength":1},"amount":{"type":"integer","minimum":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[structureArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				st, ok := state.structures[args.StructureID]
				if !ok {
					return Rejection{Reason: reasonUnknownStructure}
				}
				if st.Status == domain.StructureDestroyed {
					return Rejection{Reason: reasonStructureDestroyed}
				}
				if st.Durability+args.Amount > st.MaxDurability {
					return Rejection{Reason: reasonExceedsMaxDurability}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[structureArgs](raw)
				if err != nil {
					return nil, err
				}
				st := state.structures[args.StructureID]
				token := structureToken{prior: st}
				st.Durability += args.Amount
				st.Status = domain.StructureStatusFor(st.Durability, st.MaxDurability)
				st.LastRepairedTurn = turn
				state.structures[st.ID] = st
				return token, nil
			},
			Rollback: rollbackStructure,
		},
		{
			Name: "reinforce_structure",
			ArgsSchema: `{"type":"object","required":["structure_id","amount"],
				"properties":{"structure_id":{"type":"string","minLength":1},"amount":{"type":"integer","minimum":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[structureArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				st, ok := state.structures[args.StructureID]
				if !ok {
					return Rejection{Reason: reasonUnknownStructure}
				}
				if st.Status == domain.StructureDestroyed {
					return Rejection{Reason: reasonStructureDestroyed}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[structureArgs](raw)
				if err != nil {
					return nil, err
				}
				st := state.structures[args.StructureID]
				token := structureToken{prior: st}
				st.MaxDurability += args.Amount
				st.Status = domain.StructureStatusFor(st.Durability, st.MaxDurability)
				st.LastReinforcedTurn = turn
				state.structures[st.ID] = st
				return token, nil
			},
			Rollback: rollbackStructure,
		},
		{
			Name: "damage_structure",
			ArgsSchema: `{"type":"object","required":["structure_id","amount"],
				"properties":{"structure_id":{"type":"string","minLength":1},"amount":{"type":"integer","minimum":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[structureArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				st, ok := state.structures[args.StructureID]
				if !ok {
					return Rejection{Reason: reasonUnknownStructure}
				}
				if st.Status == domain.StructureDestroyed {
					return Rejection{Reason: reasonStructureDestroyed}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, _ int) (any, error) {
				args, err := decodeArgs[structureArgs](raw)
				if err != nil {
					return nil, err
				}
				st := state.structures[args.StructureID]
				token := structureToken{prior: st}
				st.Durability -= args.Amount
				if st.Durability < 0 {
					st.Durability = 0
				}
				st.Status = domain.StructureStatusFor(st.Durability, st.MaxDurability)
				state.structures[st.ID] = st
				return token, nil
			},
			Rollback: rollbackStructure,
		},
		{
			Name: "open_trade_route",
			ArgsSchema: `{"type":"object","required":["route_id","risk","reward"],
				"properties":{"route_id":{"type":"string","minLength":1},"risk":{"type":"integer","minimum":0},"reward":{"type":"integer","minimum":0}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[routeArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				if route, ok := state.tradeRoutes[args.RouteID]; ok && route.Status == domain.TradeRouteOpen {
					return Rejection{Reason: reasonRouteAlreadyOpen}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[routeArgs](raw)
				if err != nil {
					return nil, err
				}
				route, existed := state.tradeRoutes[args.RouteID]
				token := routeToken{prior: cloneTradeRoute(route), existed: existed}
				if !existed {
					token.prior.ID = args.RouteID
				}
				route = domain.TradeRoute{
					ID:         args.RouteID,
					Status:     domain.TradeRouteOpen,
					Risk:       args.Risk,
					Reward:     args.Reward,
					OpenedTurn: turn,
				}
				state.tradeRoutes[route.ID] = route
				return token, nil
			},
			Rollback: rollbackRoute,
		},
		{
			Name: "close_trade_route",
			ArgsSchema: `{"type":"object","required":["route_id","reason"],
				"properties":{"route_id":{"type":"string","minLength":1},"reason":{"type":"string","minLength":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[routeArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				route, ok := state.tradeRoutes[args.RouteID]
				if !ok {
					return Rejection{Reason: reasonUnknownRoute}
				}
				if route.Status != domain.TradeRouteOpen {
					return Rejection{Reason: reasonRouteNotOpen}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[routeArgs](raw)
				if err != nil {
					return nil, err
				}
				route := state.tradeRoutes[args.RouteID]
				token := routeToken{prior: cloneTradeRoute(route), existed: true}
				closed := turn
				route.Status = domain.TradeRouteClosed
				route.ClosedTurn = &closed
				route.LastReason = args.Reason
				state.tradeRoutes[route.ID] = route
				return token, nil
			},
			Rollback: rollbackRoute,
		},
		{
			Name: "schedule_event",
			ArgsSchema: `{"type":"object","required":["event_id","trigger_turn"],
				"properties":{"event_id":{"type":"string","minLength":1},"trigger_turn":{"type":"integer","minimum":0}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[eventArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				if _, ok := state.events[args.EventID]; ok {
					return Rejection{Reason: reasonEventAlreadyExists}
				}
				// The turn being resolved is state.turn+1; triggers must land
				// strictly after it.
				if args.TriggerTurn <= state.turn+1 {
					return Rejection{Reason: reasonTriggerInPast}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, _ int) (any, error) {
				args, err := decodeArgs[eventArgs](raw)
				if err != nil {
					return nil, err
				}
				token := eventToken{prior: domain.ScheduledEvent{ID: args.EventID}, existed: false}
				state.events[args.EventID] = domain.ScheduledEvent{
					ID:          args.EventID,
					TriggerTurn: args.TriggerTurn,
					Status:      domain.EventScheduled,
				}
				return token, nil
			},
			Rollback: rollbackEvent,
		},
		{
			Name: "cancel_event",
			ArgsSchema: `{"type":"object","required":["event_id"],
				"properties":{"event_id":{"type":"string","minLength":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[eventArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				ev, ok := state.events[args.EventID]
				if !ok || ev.Status != domain.EventScheduled {
					return Rejection{Reason: reasonEventNotScheduled}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, _ int) (any, error) {
				args, err := decodeArgs[eventArgs](raw)
				if err != nil {
					return nil, err
				}
				ev := state.events[args.EventID]
				token := eventToken{prior: ev, existed: true}
				ev.Status = domain.EventCancelled
				state.events[ev.ID] = ev
				return token, nil
			},
			Rollback: rollbackEvent,
		},
		{
			Name: "fire_event",
			ArgsSchema: `{"type":"object","required":["event_id"],
				"properties":{"event_id":{"type":"string","minLength":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[eventArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				ev, ok := state.events[args.EventID]
				if !ok || ev.Status != domain.EventScheduled {
					return Rejection{Reason: reasonEventNotScheduled}
				}
				if ev.TriggerTurn > state.turn+1 {
					return Rejection{Reason: reasonTriggerNotReached}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, _ int) (any, error) {
				args, err := decodeArgs[eventArgs](raw)
				if err != nil {
					return nil, err
				}
				ev := state.events[args.EventID]
				token := eventToken{prior: ev, existed: true}
				ev.Status = domain.EventFired
				state.events[ev.ID] = ev
				return token, nil
			},
			Rollback: rollbackEvent,
		},
		{
			Name: "record_hazard",
			ArgsSchema: `{"type":"object","required":["hazard_id","severity","duration"],
				"properties":{"hazard_id":{"type":"string","minLength":1},"severity":{"type":"integer","minimum":0},"duration":{"type":"integer","minimum":0}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[hazardArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				turn := state.turn + 1
				for _, entry := range state.hazardLog {
					if entry.HazardID == args.HazardID && entry.Turn == turn {
						return Rejection{Reason: reasonHazardAlreadyRecorded}
					}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[hazardArgs](raw)
				if err != nil {
					return nil, err
				}
				token := hazardLogToken{length: len(state.hazardLog)}
				state.hazardLog = append(state.hazardLog, domain.HazardLogEntry{
					HazardID: args.HazardID,
					Turn:     turn,
					Severity: args.Severity,
					Duration: args.Duration,
				})
				return token, nil
			},
			Rollback: rollbackHazardLog,
		},
		{
			Name: "record_combat",
			ArgsSchema: `{"type":"object","required":["attacker","defender","outcome"],
				"properties":{"attacker":{"type":"string","minLength":1},"defender":{"type":"string","minLength":1},"outcome":{"type":"string","minLength":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, _ *worldState) error {
				args, err := decodeArgs[combatArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				if args.Attacker == args.Defender {
					return Rejection{Reason: reasonSelfCombat}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[combatArgs](raw)
				if err != nil {
					return nil, err
				}
				token := combatLogToken{length: len(state.combatLog)}
				seq := 0
				if n := len(state.combatLog); n > 0 && state.combatLog[n-1].Turn == turn {
					seq = state.combatLog[n-1].Seq + 1
				}
				state.combatLog = append(state.combatLog, domain.CombatLogEntry{
					Turn:     turn,
					Seq:      seq,
					Attacker: args.Attacker,
					Defender: args.Defender,
					Outcome:  args.Outcome,
				})
				return token, nil
			},
			Rollback: rollbackCombatLog,
		},
		{
			Name: "advance_story",
			ArgsSchema: `{"type":"object","required":["act","progress"],
				"properties":{"act":{"type":"string","minLength":1},"progress":{"type":"number","minimum":0,"maximum":1}},
				"additionalProperties":false}`,
			Validate: func(raw json.RawMessage, state *worldState) error {
				args, err := decodeArgs[storyArgs](raw)
				if err != nil {
					return Rejection{Reason: domain.ReasonInvalidArguments}
				}
				if current, ok := state.story[args.Act]; ok && args.Progress < current.Progress {
					return Rejection{Reason: reasonProgressRegression}
				}
				return nil
			},
			Apply: func(raw json.RawMessage, state *worldState, turn int) (any, error) {
				args, err := decodeArgs[storyArgs](raw)
				if err != nil {
					return nil, err
				}
				prior, existed := state.story[args.Act]
				token := storyToken{prior: prior, existed: existed}
				if !existed {
					token.prior.Act = args.Act
				}
				state.story[args.Act] = domain.StoryProgress{
					Act:             args.Act,
					Progress:        args.Progress,
					LastUpdatedTurn: turn,
				}
				return token, nil
			},
			Rollback: rollbackStory,
		},
	}
}
