package trace

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/mvm/vm"
)

// DB records events in a SQLite database. Each DB is one run; events are
// written in a single transaction committed by Close.
type DB struct {
	mu   sync.Mutex
	db   *sql.DB
	tx   *sql.Tx
	stmt *sql.Stmt
	run  string
	seq  int64
}

// Record is one stored event.
type Record struct {
	Seq     int64
	Context string
	Index   int
	Op      string
	Acc     string
	Symbol  string
	Line    int
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	run TEXT NOT NULL REFERENCES runs(id),
	seq INTEGER NOT NULL,
	context TEXT NOT NULL,
	idx INTEGER NOT NULL,
	op TEXT NOT NULL,
	acc TEXT NOT NULL,
	symbol TEXT,
	line INTEGER,
	PRIMARY KEY (run, seq)
);`

// OpenDB opens or creates the database at path and starts a new run.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	d := &DB{db: db, run: uuid.NewString()}
	if _, err := db.Exec("INSERT INTO runs (id, started) VALUES (?, ?)",
		d.run, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording run: %w", err)
	}
	if d.tx, err = db.Begin(); err != nil {
		db.Close()
		return nil, err
	}
	d.stmt, err = d.tx.Prepare(`INSERT INTO events
		(run, seq, context, idx, op, acc, symbol, line) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		d.tx.Rollback()
		db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	log.Infof("tracing run %s to %s", d.run, path)
	return d, nil
}

// Run returns the ID of the run this DB records.
func (d *DB) Run() string { return d.run }

func (d *DB) Hook(ev vm.TraceEvent) error {
	var sym sql.NullString
	var line sql.NullInt64
	if ev.Symbol != nil {
		sym = sql.NullString{String: ev.Symbol.Name, Valid: true}
		line = sql.NullInt64{Int64: int64(ev.Symbol.Line), Valid: true}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stmt == nil {
		return fmt.Errorf("trace database is closed")
	}
	d.seq++
	_, err := d.stmt.Exec(d.run, d.seq, ev.Context, ev.Index, ev.Op.String(), ev.Acc.String(), sym, line)
	return err
}

// Close commits the run's events.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stmt == nil {
		return nil
	}
	d.stmt.Close()
	d.stmt = nil
	if err := d.tx.Commit(); err != nil {
		d.db.Close()
		return fmt.Errorf("committing trace: %w", err)
	}
	return d.db.Close()
}

// ReadRun returns the events of run from the database at path, in
// execution order.
func ReadRun(path, run string) ([]Record, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT seq, context, idx, op, acc, symbol, line
		FROM events WHERE run = ? ORDER BY seq`, run)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var sym sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&r.Seq, &r.Context, &r.Index, &r.Op, &r.Acc, &sym, &line); err != nil {
			return nil, err
		}
		r.Symbol, r.Line = sym.String, int(line.Int64)
		out = append(out, r)
	}
	return out, rows.Err()
}
