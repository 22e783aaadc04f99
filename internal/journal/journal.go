// Package journal records simulation events and periodic agent snapshots in
// SQL, so authoring tools can replay what happened during a run.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/engine"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Journal wraps a SQL connection holding one or more runs.
type Journal struct {
	conn   *sqlx.DB
	driver string
	run    uuid.UUID
}

// Open connects to the store and creates the schema if needed.
// A sqlite DSN is a file path.
func Open(ctx context.Context, driver, dsn string) (*Journal, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres, "postgresql":
		driver = DriverPostgres
		if dsn == "" {
			return nil, fmt.Errorf("empty postgres dsn")
		}
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if driver == DriverPostgres {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxLifetime(30 * time.Minute)
	} else {
		conn.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{conn: conn, driver: driver}
	if err := j.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

// Driver returns the driver name the journal was opened with.
func (j *Journal) Driver() string { return j.driver }

// Run returns the current run id, or uuid.Nil before BeginRun.
func (j *Journal) Run() uuid.UUID { return j.run }

func (j *Journal) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	stamp := "TEXT NOT NULL"
	if j.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
		stamp = "TIMESTAMPTZ NOT NULL"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at ` + stamp + `,
			seed BIGINT NOT NULL,
			scene TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id ` + serial + `,
			run_id TEXT NOT NULL,
			tick BIGINT NOT NULL,
			category TEXT NOT NULL,
			agent_id BIGINT NOT NULL,
			resource_id BIGINT NOT NULL,
			description TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id ` + serial + `,
			run_id TEXT NOT NULL,
			tick BIGINT NOT NULL,
			agent_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			need REAL NOT NULL,
			pos_x REAL NOT NULL,
			pos_y REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run_tick ON snapshots(run_id, tick)`,
	}
	for _, stmt := range schema {
		if _, err := j.conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// BeginRun stamps a new run id on every row written afterwards.
func (j *Journal) BeginRun(ctx context.Context, seed int64, scene string) (uuid.UUID, error) {
	id := uuid.New()
	started := any(time.Now().UTC().Format(time.RFC3339))
	if j.driver == DriverPostgres {
		started = time.Now().UTC()
	}
	_, err := j.conn.ExecContext(ctx,
		j.conn.Rebind("INSERT INTO runs (id, started_at, seed, scene) VALUES (?, ?, ?, ?)"),
		id.String(), started, seed, scene)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	j.run = id
	slog.Info("journal run started", "run", id, "driver", j.driver)
	return id, nil
}

// SaveEvents appends events to the current run.
func (j *Journal) SaveEvents(ctx context.Context, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := j.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO events
		(run_id, tick, category, agent_id, resource_id, description)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	run := j.run.String()
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, run, e.Tick, e.Category, e.Agent, e.Resource, e.Description); err != nil {
			return fmt.Errorf("insert event at tick %d: %w", e.Tick, err)
		}
	}
	return tx.Commit()
}

// SaveSnapshots records the position, state and need of every agent at tick.
func (j *Journal) SaveSnapshots(ctx context.Context, tick uint64, snaps []agents.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := j.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO snapshots
		(run_id, tick, agent_id, name, state, need, pos_x, pos_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	run := j.run.String()
	for _, s := range snaps {
		_, err := stmt.ExecContext(ctx, run, tick, s.ID, s.Name, s.State.String(), s.Need, s.Position.X, s.Position.Y)
		if err != nil {
			return fmt.Errorf("insert snapshot of agent %d: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// RecentEvents returns the most recent events of the current run, oldest first.
func (j *Journal) RecentEvents(ctx context.Context, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := j.conn.SelectContext(ctx, &events, j.conn.Rebind(`
		SELECT tick, category, agent_id, resource_id, description FROM (
			SELECT id, tick, category, agent_id, resource_id, description
			FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?
		) recent ORDER BY id ASC`), j.run.String(), limit)
	return events, err
}

// SnapshotRow is one journaled agent snapshot.
type SnapshotRow struct {
	Tick  uint64         `db:"tick"`
	Agent agents.AgentID `db:"agent_id"`
	Name  string         `db:"name"`
	State string         `db:"state"`
	Need  float64        `db:"need"`
	X     float64        `db:"pos_x"`
	Y     float64        `db:"pos_y"`
}

// AgentHistory returns every snapshot of one agent in the current run, in tick order.
func (j *Journal) AgentHistory(ctx context.Context, id agents.AgentID) ([]SnapshotRow, error) {
	var rows []SnapshotRow
	err := j.conn.SelectContext(ctx, &rows, j.conn.Rebind(`
		SELECT tick, agent_id, name, state, need, pos_x, pos_y
		FROM snapshots WHERE run_id = ? AND agent_id = ? ORDER BY tick ASC`), j.run.String(), id)
	return rows, err
}

// Recorder drains a simulation's event queue into the journal every FlushEvery ticks.
type Recorder struct {
	Journal    *Journal
	Sim        *engine.Simulation
	FlushEvery uint64
}

// OnTick flushes events and snapshots when tick is due.
func (r *Recorder) OnTick(ctx context.Context, tick uint64) {
	if r.FlushEvery == 0 || tick%r.FlushEvery != 0 {
		return
	}
	r.Flush(ctx, tick)
}

// Flush writes pending events and a snapshot of every agent.
func (r *Recorder) Flush(ctx context.Context, tick uint64) {
	events := r.Sim.DrainEvents()
	if err := r.Journal.SaveEvents(ctx, events); err != nil {
		slog.Error("journal events", "tick", tick, "count", len(events), "error", err)
	}
	if err := r.Journal.SaveSnapshots(ctx, tick, r.Sim.Agents()); err != nil {
		slog.Error("journal snapshots", "tick", tick, "error", err)
	}
}
