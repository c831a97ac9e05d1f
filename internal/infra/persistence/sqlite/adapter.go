// Package sqlite persists the world in an embedded SQLite database whose
// tables mirror the in-memory model one to one, with the append-only logs as
// turn-indexed tables. This is the default durable backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"bastioncore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistenceAdapter = (*Adapter)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS world_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS npcs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	template TEXT NOT NULL,
	location TEXT NOT NULL,
	status TEXT NOT NULL,
	trust INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS structures (
	id TEXT PRIMARY KEY,
	durability INTEGER NOT NULL,
	max_durability INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_repaired_turn INTEGER NOT NULL,
	last_reinforced_turn INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stockpiles (
	resource_id TEXT PRIMARY KEY,
	quantity INTEGER NOT NULL,
	last_updated_turn INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_routes (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	risk INTEGER NOT NULL,
	reward INTEGER NOT NULL,
	opened_turn INTEGER NOT NULL,
	closed_turn INTEGER,
	last_reason TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scheduled_events (
	id TEXT PRIMARY KEY,
	trigger_turn INTEGER NOT NULL,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS story_progress (
	act TEXT PRIMARY KEY,
	progress REAL NOT NULL,
	last_updated_turn INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS timeline_events (
	turn INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload BLOB,
	PRIMARY KEY (turn, seq)
);
CREATE TABLE IF NOT EXISTS hazard_log (
	hazard_id TEXT NOT NULL,
	turn INTEGER NOT NULL,
	severity INTEGER NOT NULL,
	duration INTEGER NOT NULL,
	PRIMARY KEY (hazard_id, turn)
);
CREATE TABLE IF NOT EXISTS combat_log (
	turn INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	attacker TEXT NOT NULL,
	defender TEXT NOT NULL,
	outcome TEXT NOT NULL,
	PRIMARY KEY (turn, seq)
);
CREATE INDEX IF NOT EXISTS idx_hazard_log_turn ON hazard_log(turn);
`

// Adapter is a SQLite-backed persistence adapter.
type Adapter struct {
	db   *sql.DB
	path string
}

// NewAdapter opens (or creates) the database at path and applies the schema.
func NewAdapter(path string) (*Adapter, error) {
	if path == "" {
		path = "bastioncore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Adapter{db: db, path: path}, nil
}

// DB exposes the underlying handle for integration tests and the replay CLI.
func (a *Adapter) DB() *sql.DB { return a.db }

// Path returns the configured database path.
func (a *Adapter) Path() string { return a.path }

// Close releases the database handle.
func (a *Adapter) Close() error { return a.db.Close() }

// Seed writes a full snapshot, replacing any prior contents. Used once when
// provisioning a fresh world.
func (a *Adapter) Seed(ctx context.Context, snap domain.Snapshot) (retErr error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, table := range []string{
		"world_meta", "npcs", "structures", "stockpiles", "trade_routes",
		"scheduled_events", "story_progress", "timeline_events", "hazard_log", "combat_log",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	topo, err := json.Marshal(snap.Topology)
	if err != nil {
		return fmt.Errorf("encode topology: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO world_meta(key,value) VALUES('turn',?),('topology',?)`,
		fmt.Sprint(snap.Turn), string(topo)); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := writeRows(ctx, tx, domain.CommitDelta{
		NPCs:            snap.NPCs,
		Structures:      snap.Structures,
		Stockpiles:      snap.Stockpiles,
		TradeRoutes:     snap.TradeRoutes,
		ScheduledEvents: snap.ScheduledEvents,
		Story:           snap.Story,
		Timeline:        snap.Timeline,
		HazardLog:       snap.HazardLog,
		CombatLog:       snap.CombatLog,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Load hydrates a full snapshot from the database.
func (a *Adapter) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	rows, err := a.db.QueryContext(ctx, `SELECT key, value FROM world_meta`)
	if err != nil {
		return snap, fmt.Errorf("select meta: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return snap, fmt.Errorf("scan meta: %w", err)
		}
		switch key {
		case "turn":
			if _, err := fmt.Sscanf(value, "%d", &snap.Turn); err != nil {
				return snap, fmt.Errorf("decode turn: %w", err)
			}
		case "topology":
			if err := json.Unmarshal([]byte(value), &snap.Topology); err != nil {
				return snap, fmt.Errorf("decode topology: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	if err := a.loadNPCs(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadStructures(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadStockpiles(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadTradeRoutes(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadScheduledEvents(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadStory(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadTimeline(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadHazardLog(ctx, &snap); err != nil {
		return snap, err
	}
	if err := a.loadCombatLog(ctx, &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Persist durably records one committed turn: the new turn number, upserts
// for every changed entity row, and inserts for the appended log rows, all
// in a single database transaction.
func (a *Adapter) Persist(ctx context.Context, delta domain.CommitDelta) (retErr error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO world_meta(key,value) VALUES('turn',?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		fmt.Sprint(delta.Turn)); err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	if err := writeRows(ctx, tx, delta); err != nil {
		return err
	}
	return tx.Commit()
}

func writeRows(ctx context.Context, tx *sql.Tx, delta domain.CommitDelta) error {
	for _, n := range delta.NPCs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO npcs(id,name,template,location,status,trust) VALUES(?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET name=excluded.name, template=excluded.template,
			 location=excluded.location, status=excluded.status, trust=excluded.trust`,
			n.ID, n.Name, n.Template, n.Location, string(n.Status), n.Trust); err != nil {
			return fmt.Errorf("upsert npc %s: %w", n.ID, err)
		}
	}
	for _, s := range delta.Structures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO structures(id,durability,max_durability,status,last_repaired_turn,last_reinforced_turn)
			 VALUES(?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET durability=excluded.durability,
			 max_durability=excluded.max_durability, status=excluded.status,
			 last_repaired_turn=excluded.last_repaired_turn, last_reinforced_turn=excluded.last_reinforced_turn`,
			s.ID, s.Durability, s.MaxDurability, string(s.Status), s.LastRepairedTurn, s.LastReinforcedTurn); err != nil {
			return fmt.Errorf("upsert structure %s: %w", s.ID, err)
		}
	}
	for _, s := range delta.Stockpiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stockpiles(resource_id,quantity,last_updated_turn) VALUES(?,?,?)
			 ON CONFLICT(resource_id) DO UPDATE SET quantity=excluded.quantity,
			 last_updated_turn=excluded.last_updated_turn`,
			s.ResourceID, s.Quantity, s.LastUpdatedTurn); err != nil {
			return fmt.Errorf("upsert stockpile %s: %w", s.ResourceID, err)
		}
	}
	for _, r := range delta.TradeRoutes {
		var closed any
		if r.ClosedTurn != nil {
			closed = *r.ClosedTurn
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trade_routes(id,status,risk,reward,opened_turn,closed_turn,last_reason)
			 VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET status=excluded.status, risk=excluded.risk,
			 reward=excluded.reward, opened_turn=excluded.opened_turn,
			 closed_turn=excluded.closed_turn, last_reason=excluded.last_reason`,
			r.ID, string(r.Status), r.Risk, r.Reward, r.OpenedTurn, closed, r.LastReason); err != nil {
			return fmt.Errorf("upsert trade route %s: %w", r.ID, err)
		}
	}
	for _, e := range delta.ScheduledEvents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_events(id,trigger_turn,status) VALUES(?,?,?)
			 ON CONFLICT(id) DO UPDATE SET trigger_turn=excluded.trigger_turn, status=excluded.status`,
			e.ID, e.TriggerTurn, string(e.Status)); err != nil {
			return fmt.Errorf("upsert event %s: %w", e.ID, err)
		}
	}
	for _, s := range delta.Story {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO story_progress(act,progress,last_updated_turn) VALUES(?,?,?)
			 ON CONFLICT(act) DO UPDATE SET progress=excluded.progress,
			 last_updated_turn=excluded.last_updated_turn`,
			s.Act, s.Progress, s.LastUpdatedTurn); err != nil {
			return fmt.Errorf("upsert story %s: %w", s.Act, err)
		}
	}
	for _, ev := range delta.Timeline {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO timeline_events(turn,seq,event_type,payload) VALUES(?,?,?,?)`,
			ev.Turn, ev.Seq, ev.EventType, []byte(ev.Payload)); err != nil {
			return fmt.Errorf("append timeline %d/%d: %w", ev.Turn, ev.Seq, err)
		}
	}
	for _, h := range delta.HazardLog {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hazard_log(hazard_id,turn,severity,duration) VALUES(?,?,?,?)`,
			h.HazardID, h.Turn, h.Severity, h.Duration); err != nil {
			return fmt.Errorf("append hazard %s/%d: %w", h.HazardID, h.Turn, err)
		}
	}
	for _, c := range delta.CombatLog {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO combat_log(turn,seq,attacker,defender,outcome) VALUES(?,?,?,?,?)`,
			c.Turn, c.Seq, c.Attacker, c.Defender, c.Outcome); err != nil {
			return fmt.Errorf("append combat %d/%d: %w", c.Turn, c.Seq, err)
		}
	}
	return nil
}

func (a *Adapter) loadNPCs(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `SELECT id,name,template,location,status,trust FROM npcs ORDER BY id`)
	if err != nil {
		return fmt.Errorf("select npcs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var n domain.NPC
		var status string
		if err := rows.Scan(&n.ID, &n.Name, &n.Template, &n.Location, &status, &n.Trust); err != nil {
			return fmt.Errorf("scan npc: %w", err)
		}
		n.Status = domain.NPCStatus(status)
		snap.NPCs = append(snap.NPCs, n)
	}
	return rows.Err()
}

func (a *Adapter) loadStructures(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id,durability,max_durability,status,last_repaired_turn,last_reinforced_turn FROM structures ORDER BY id`)
	if err != nil {
		return fmt.Errorf("select structures: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var s domain.Structure
		var status string
		if err := rows.Scan(&s.ID, &s.Durability, &s.MaxDurability, &status, &s.LastRepairedTurn, &s.LastReinforcedTurn); err != nil {
			return fmt.Errorf("scan structure: %w", err)
		}
		s.Status = domain.StructureStatus(status)
		snap.Structures = append(snap.Structures, s)
	}
	return rows.Err()
}

func (a *Adapter) loadStockpiles(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `SELECT resource_id,quantity,last_updated_turn FROM stockpiles ORDER BY resource_id`)
	if err != nil {
		return fmt.Errorf("select stockpiles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var s domain.Stockpile
		if err := rows.Scan(&s.ResourceID, &s.Quantity, &s.LastUpdatedTurn); err != nil {
			return fmt.Errorf("scan stockpile: %w", err)
		}
		snap.Stockpiles = append(snap.Stockpiles, s)
	}
	return rows.Err()
}

func (a *Adapter) loadTradeRoutes(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id,status,risk,reward,opened_turn,closed_turn,last_reason FROM trade_routes ORDER BY id`)
	if err != nil {
		return fmt.Errorf("select trade routes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var r domain.TradeRoute
		var status string
		var closed sql.NullInt64
		if err := rows.Scan(&r.ID, &status, &r.Risk, &r.Reward, &r.OpenedTurn, &closed, &r.LastReason); err != nil {
			return fmt.Errorf("scan trade route: %w", err)
		}
		r.Status = domain.TradeRouteStatus(status)
		if closed.Valid {
			v := int(closed.Int64)
			r.ClosedTurn = &v
		}
		snap.TradeRoutes = append(snap.TradeRoutes, r)
	}
	return rows.Err()
}

func (a *Adapter) loadScheduledEvents(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `SELECT id,trigger_turn,status FROM scheduled_events ORDER BY id`)
	if err != nil {
		return fmt.Errorf("select scheduled events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var e domain.ScheduledEvent
		var status string
		if err := rows.Scan(&e.ID, &e.TriggerTurn, &status); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		e.Status = domain.EventStatus(status)
		snap.ScheduledEvents = append(snap.ScheduledEvents, e)
	}
	return rows.Err()
}

func (a *Adapter) loadStory(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `SELECT act,progress,last_updated_turn FROM story_progress ORDER BY act`)
	if err != nil {
		return fmt.Errorf("select story: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var s domain.StoryProgress
		if err := rows.Scan(&s.Act, &s.Progress, &s.LastUpdatedTurn); err != nil {
			return fmt.Errorf("scan story: %w", err)
		}
		snap.Story = append(snap.Story, s)
	}
	return rows.Err()
}

func (a *Adapter) loadTimeline(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `SELECT turn,seq,event_type,payload FROM timeline_events ORDER BY turn, seq`)
	if err != nil {
		return fmt.Errorf("select timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var ev domain.TimelineEvent
		var payload []byte
		if err := rows.Scan(&ev.Turn, &ev.Seq, &ev.EventType, &payload); err != nil {
			return fmt.Errorf("scan timeline: %w", err)
		}
		if len(payload) > 0 {
			ev.Payload = append([]byte(nil), payload...)
		}
		snap.Timeline = append(snap.Timeline, ev)
	}
	return rows.Err()
}

func (a *Adapter) loadHazardLog(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `SELECT hazard_id,turn,severity,duration FROM hazard_log ORDER BY turn, hazard_id`)
	if err != nil {
		return fmt.Errorf("select hazard log: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var h domain.HazardLogEntry
		if err := rows.Scan(&h.HazardID, &h.Turn, &h.Severity, &h.Duration); err != nil {
			return fmt.Errorf("scan hazard: %w", err)
		}
		snap.HazardLog = append(snap.HazardLog, h)
	}
	return rows.Err()
}

func (a *Adapter) loadCombatLog(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := a.db.QueryContext(ctx, `SELECT turn,seq,attacker,defender,outcome FROM combat_log ORDER BY turn, seq`)
	if err != nil {
		return fmt.Errorf("select combat log: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var c domain.CombatLogEntry
		if err := rows.Scan(&c.Turn, &c.Seq, &c.Attacker, &c.Defender, &c.Outcome); err != nil {
			return fmt.Errorf("scan combat: %w", err)
		}
		snap.CombatLog = append(snap.CombatLog, c)
	}
	return rows.Err()
}
