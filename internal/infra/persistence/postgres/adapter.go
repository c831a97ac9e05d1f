// Package postgres persists the world in a PostgreSQL database with the same
// table layout as the sqlite backend. Intended for server deployments where
// the engine host is not the storage host.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"bastioncore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistenceAdapter = (*Adapter)(nil)

const defaultDSN = "postgres://localhost/bastioncore?sslmode=disable"

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
	progress DOUBLE PRECISION NOT NULL,
	last_updated_turn INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS timeline_events (
	turn INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload BYTEA,
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

// Adapter is a PostgreSQL-backed persistence adapter.
type Adapter struct {
	db *sql.DB
}

// NewAdapter opens the database at dsn (falling back to a local default),
// pings it, and applies the schema.
func NewAdapter(ctx context.Context, dsn string) (*Adapter, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Adapter{db: db}, nil
}

// DB exposes the underlying handle for integration tests.
func (a *Adapter) DB() *sql.DB { return a.db }

// Close releases the database handle.
func (a *Adapter) Close() error { return a.db.Close() }

// Persist durably records one committed turn in a single transaction.
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
		`INSERT INTO world_meta(key,value) VALUES('turn',$1)
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
			`INSERT INTO npcs(id,name,template,location,status,trust) VALUES($1,$2,$3,$4,$5,$6)
			 ON CONFLICT(id) DO UPDATE SET name=excluded.name, template=excluded.template,
			 location=excluded.location, status=excluded.status, trust=excluded.trust`,
			n.ID, n.Name, n.Template, n.Location, string(n.Status), n.Trust); err != nil {
			return fmt.Errorf("upsert npc %s: %w", n.ID, err)
		}
	}
	for _, s := range delta.Structures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO structures(id,durability,max_durability,status,last_repaired_turn,last_reinforced_turn)
			 VALUES($1,$2,$3,$4,$5,$6)
			 ON CONFLICT(id) DO UPDATE SET durability=excluded.durability,
			 max_durability=excluded.max_durability, status=excluded.status,
			 last_repaired_turn=excluded.last_repaired_turn, last_reinforced_turn=excluded.last_reinforced_turn`,
			s.ID, s.Durability, s.MaxDurability, string(s.Status), s.LastRepairedTurn, s.LastReinforcedTurn); err != nil {
			return fmt.Errorf("upsert structure %s: %w", s.ID, err)
		}
	}
	for _, s := range delta.Stockpiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stockpiles(resource_id,quantity,last_updated_turn) VALUES($1,$2,$3)
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
			 VALUES($1,$2,$3,$4,$5,$6,$7)
			 ON CONFLICT(id) DO UPDATE SET status=excluded.status, risk=excluded.risk,
			 reward=excluded.reward, opened_turn=excluded.opened_turn,
			 closed_turn=excluded.closed_turn, last_reason=excluded.last_reason`,
			r.ID, string(r.Status), r.Risk, r.Reward, r.OpenedTurn, closed, r.LastReason); err != nil {
			return fmt.Errorf("upsert trade route %s: %w", r.ID, err)
		}
	}
	for _, e := range delta.ScheduledEvents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_events(id,trigger_turn,status) VALUES($1,$2,$3)
			 ON CONFLICT(id) DO UPDATE SET trigger_turn=excluded.trigger_turn, status=excluded.status`,
			e.ID, e.TriggerTurn, string(e.Status)); err != nil {
			return fmt.Errorf("upsert event %s: %w", e.ID, err)
		}
	}
	for _, s := range delta.Story {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO story_progress(act,progress,last_updated_turn) VALUES($1,$2,$3)
			 ON CONFLICT(act) DO UPDATE SET progress=excluded.progress,
			 last_updated_turn=excluded.last_updated_turn`,
			s.Act, s.Progress, s.LastUpdatedTurn); err != nil {
			return fmt.Errorf("upsert story %s: %w", s.Act, err)
		}
	}
	for _, ev := range delta.Timeline {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO timeline_events(turn,seq,event_type,payload) VALUES($1,$2,$3,$4)`,
			ev.Turn, ev.Seq, ev.EventType, []byte(ev.Payload)); err != nil {
			return fmt.Errorf("append timeline %d/%d: %w", ev.Turn, ev.Seq, err)
		}
	}
	for _, h := range delta.HazardLog {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hazard_log(hazard_id,turn,severity,duration) VALUES($1,$2,$3,$4)`,
			h.HazardID, h.Turn, h.Severity, h.Duration); err != nil {
			return fmt.Errorf("append hazard %s/%d: %w", h.HazardID, h.Turn, err)
		}
	}
	for _, c := range delta.CombatLog {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO combat_log(turn,seq,attacker,defender,outcome) VALUES($1,$2,$3,$4,$5)`,
			c.Turn, c.Seq, c.Attacker, c.Defender, c.Outcome); err != nil {
			return fmt.Errorf("append combat %d/%d: %w", c.Turn, c.Seq, err)
		}
	}
	return nil
}

// Load hydrates a full snapshot. The SELECT surface matches the sqlite
// backend so both hydrate identical snapshots from identical histories.
func (a *Adapter) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	metaRows, err := a.db.QueryContext(ctx, `SELECT key, value FROM world_meta`)
	if err != nil {
		return snap, fmt.Errorf("select meta: %w", err)
	}
	defer func() { _ = metaRows.Close() }()
	for metaRows.Next() {
		var key, value string
		if err := metaRows.Scan(&key, &value); err != nil {
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
	if err := metaRows.Err(); err != nil {
		return snap, err
	}

	if err := scanTable(ctx, a.db, `SELECT id,name,template,location,status,trust FROM npcs ORDER BY id`,
		func(rows *sql.Rows) error {
			var n domain.NPC
			var status string
			if err := rows.Scan(&n.ID, &n.Name, &n.Template, &n.Location, &status, &n.Trust); err != nil {
				return err
			}
			n.Status = domain.NPCStatus(status)
			snap.NPCs = append(snap.NPCs, n)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load npcs: %w", err)
	}
	if err := scanTable(ctx, a.db,
		`SELECT id,durability,max_durability,status,last_repaired_turn,last_reinforced_turn FROM structures ORDER BY id`,
		func(rows *sql.Rows) error {
			var s domain.Structure
			var status string
			if err := rows.Scan(&s.ID, &s.Durability, &s.MaxDurability, &status, &s.LastRepairedTurn, &s.LastReinforcedTurn); err != nil {
				return err
			}
			s.Status = domain.StructureStatus(status)
			snap.Structures = append(snap.Structures, s)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load structures: %w", err)
	}
	if err := scanTable(ctx, a.db, `SELECT resource_id,quantity,last_updated_turn FROM stockpiles ORDER BY resource_id`,
		func(rows *sql.Rows) error {
			var s domain.Stockpile
			if err := rows.Scan(&s.ResourceID, &s.Quantity, &s.LastUpdatedTurn); err != nil {
				return err
			}
			snap.Stockpiles = append(snap.Stockpiles, s)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load stockpiles: %w", err)
	}
	if err := scanTable(ctx, a.db,
		`SELECT id,status,risk,reward,opened_turn,closed_turn,last_reason FROM trade_routes ORDER BY id`,
		func(rows *sql.Rows) error {
			var r domain.TradeRoute
			var status string
			var closed sql.NullInt64
			if err := rows.Scan(&r.ID, &status, &r.Risk, &r.Reward, &r.OpenedTurn, &closed, &r.LastReason); err != nil {
				return err
			}
			r.Status = domain.TradeRouteStatus(status)
			if closed.Valid {
				v := int(closed.Int64)
				r.ClosedTurn = &v
			}
			snap.TradeRoutes = append(snap.TradeRoutes, r)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load trade routes: %w", err)
	}
	if err := scanTable(ctx, a.db, `SELECT id,trigger_turn,status FROM scheduled_events ORDER BY id`,
		func(rows *sql.Rows) error {
			var e domain.ScheduledEvent
			var status string
			if err := rows.Scan(&e.ID, &e.TriggerTurn, &status); err != nil {
				return err
			}
			e.Status = domain.EventStatus(status)
			snap.ScheduledEvents = append(snap.ScheduledEvents, e)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load scheduled events: %w", err)
	}
	if err := scanTable(ctx, a.db, `SELECT act,progress,last_updated_turn FROM story_progress ORDER BY act`,
		func(rows *sql.Rows) error {
			var s domain.StoryProgress
			if err := rows.Scan(&s.Act, &s.Progress, &s.LastUpdatedTurn); err != nil {
				return err
			}
			snap.Story = append(snap.Story, s)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load story: %w", err)
	}
	if err := scanTable(ctx, a.db, `SELECT turn,seq,event_type,payload FROM timeline_events ORDER BY turn, seq`,
		func(rows *sql.Rows) error {
			var ev domain.TimelineEvent
			var payload []byte
			if err := rows.Scan(&ev.Turn, &ev.Seq, &ev.EventType, &payload); err != nil {
				return err
			}
			if len(payload) > 0 {
				ev.Payload = append([]byte(nil), payload...)
			}
			snap.Timeline = append(snap.Timeline, ev)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load timeline: %w", err)
	}
	if err := scanTable(ctx, a.db, `SELECT hazard_id,turn,severity,duration FROM hazard_log ORDER BY turn, hazard_id`,
		func(rows *sql.Rows) error {
			var h domain.HazardLogEntry
			if err := rows.Scan(&h.HazardID, &h.Turn, &h.Severity, &h.Duration); err != nil {
				return err
			}
			snap.HazardLog = append(snap.HazardLog, h)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load hazard log: %w", err)
	}
	if err := scanTable(ctx, a.db, `SELECT turn,seq,attacker,defender,outcome FROM combat_log ORDER BY turn, seq`,
		func(rows *sql.Rows) error {
			var c domain.CombatLogEntry
			if err := rows.Scan(&c.Turn, &c.Seq, &c.Attacker, &c.Defender, &c.Outcome); err != nil {
				return err
			}
			snap.CombatLog = append(snap.CombatLog, c)
			return nil
		}); err != nil {
		return snap, fmt.Errorf("load combat log: %w", err)
	}
	return snap, nil
}

func scanTable(ctx context.Context, db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
