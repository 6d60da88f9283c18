// Package history implements the HistoryStore: a durable ticket-keyed map of
// every transfer ever seen, backed by SQLite. It is the crash-recovery
// source of truth the orchestrator rebuilds from on restart.
//
// Grounded on grokify-omniproxy's ui/store/store.go database/sql + sqlite3
// pattern (hand-rolled SQL, PRAGMA tuning, no ORM) rather than the teacher's
// own JSON-blob daemon state, since the secondary scans spec.md requires
// (by owner, by state, by interface, by state-and-interface) don't fit a
// flat JSON map at scale.
package history

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rescale/transferd/internal/constants"
	"github.com/rescale/transferd/internal/record"
)

// IoError wraps an underlying I/O failure from the durable medium.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("history: %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// IntegrityError indicates the consistency check failed and recreation of
// the table also failed. Resume across restart is lost in this state; the
// orchestrator may still run in degraded (history-less) mode.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string { return fmt.Sprintf("history: integrity check failed: %v", e.Err) }
func (e *IntegrityError) Unwrap() error { return e.Err }

// Row is the five-tuple contract from spec.md §4.1/§3: ticket, owner,
// interface, state, and the record serialized as a self-describing string.
type Row struct {
	Ticket    record.Ticket
	Owner     string
	Interface record.InterfaceName
	State     record.State
	Blob      string
}

// Store is a durable mapping from ticket to Row, with secondary lookups by
// owner (prefix match), by state, by interface, and by state-and-interface.
// No transactions are exposed; the store is a flat durable map, and a single
// writer (the controller) serializes concurrent upserts for the same ticket.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed history store at path.
// It verifies the schema sentinel and runs an integrity check; on failure it
// drops and recreates the table, since history is recoverable state, never
// authoritative business data.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, &IoError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // single-writer store; avoid SQLITE_BUSY under WAL

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	const createSQL = `
CREATE TABLE IF NOT EXISTS transfers (
	ticket    INTEGER PRIMARY KEY,
	owner     TEXT NOT NULL,
	interface TEXT NOT NULL,
	state     TEXT NOT NULL,
	record    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfers_owner ON transfers(owner);
CREATE INDEX IF NOT EXISTS idx_transfers_state ON transfers(state);
CREATE INDEX IF NOT EXISTS idx_transfers_interface ON transfers(interface);
CREATE INDEX IF NOT EXISTS idx_transfers_state_iface ON transfers(state, interface);
`
	if _, err := s.db.Exec(createSQL); err != nil {
		return &IoError{Op: "ensureSchema", Err: err}
	}

	var schemaBlob string
	err := s.db.QueryRow(`SELECT record FROM transfers WHERE ticket = 0`).Scan(&schemaBlob)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.Exec(`INSERT INTO transfers(ticket, owner, interface, state, record) VALUES (0, '', '', ?, ?)`,
			string(record.StateInit), constants.HistorySchemaVersion)
		if err != nil {
			return &IoError{Op: "writeSentinel", Err: err}
		}
		return nil
	case err != nil:
		return &IoError{Op: "readSentinel", Err: err}
	}

	if schemaBlob == constants.HistorySchemaVersion {
		if err := s.integrityCheck(); err != nil {
			return s.recreate(err)
		}
		return nil
	}

	return s.recreate(fmt.Errorf("schema version mismatch: have %q want %q", schemaBlob, constants.HistorySchemaVersion))
}

func (s *Store) integrityCheck() error {
	var result string
	if err := s.db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check reported %q", result)
	}
	return nil
}

func (s *Store) recreate(cause error) error {
	if _, err := s.db.Exec(`DROP TABLE IF EXISTS transfers`); err != nil {
		return &IntegrityError{Err: fmt.Errorf("drop after %v: %w", cause, err)}
	}
	const createSQL = `
CREATE TABLE transfers (
	ticket    INTEGER PRIMARY KEY,
	owner     TEXT NOT NULL,
	interface TEXT NOT NULL,
	state     TEXT NOT NULL,
	record    TEXT NOT NULL
);
CREATE INDEX idx_transfers_owner ON transfers(owner);
CREATE INDEX idx_transfers_state ON transfers(state);
CREATE INDEX idx_transfers_interface ON transfers(interface);
CREATE INDEX idx_transfers_state_iface ON transfers(state, interface);
`
	if _, err := s.db.Exec(createSQL); err != nil {
		return &IntegrityError{Err: fmt.Errorf("recreate after %v: %w", cause, err)}
	}
	_, err := s.db.Exec(`INSERT INTO transfers(ticket, owner, interface, state, record) VALUES (0, '', '', ?, ?)`,
		string(record.StateInit), constants.HistorySchemaVersion)
	if err != nil {
		return &IntegrityError{Err: fmt.Errorf("rewrite sentinel after %v: %w", cause, err)}
	}
	return nil
}

// Upsert is a replace-by-primary-key write.
func (s *Store) Upsert(row Row) error {
	_, err := s.db.Exec(`
		INSERT INTO transfers(ticket, owner, interface, state, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ticket) DO UPDATE SET
			owner = excluded.owner,
			interface = excluded.interface,
			state = excluded.state,
			record = excluded.record`,
		uint64(row.Ticket), row.Owner, string(row.Interface), string(row.State), row.Blob)
	if err != nil {
		return &IoError{Op: "upsert", Err: err}
	}
	return nil
}

// Get performs a point read by ticket.
func (s *Store) Get(ticket record.Ticket) (Row, bool, error) {
	var row Row
	var owner, iface, state, blob string
	err := s.db.QueryRow(`SELECT owner, interface, state, record FROM transfers WHERE ticket = ?`, uint64(ticket)).
		Scan(&owner, &iface, &state, &blob)
	switch {
	case err == sql.ErrNoRows:
		return Row{}, false, nil
	case err != nil:
		return Row{}, false, &IoError{Op: "get", Err: err}
	}
	row = Row{Ticket: ticket, Owner: owner, Interface: record.InterfaceName(iface), State: record.State(state), Blob: blob}
	return row, true, nil
}

// scanRows is a shared helper for the secondary-scan queries below. Results
// are snapshots: the caller must not assume the rows remain current.
func (s *Store) scanRows(query string, args ...any) ([]Row, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &IoError{Op: "scan", Err: err}
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var ticket uint64
		var owner, iface, state, blob string
		if err := rows.Scan(&ticket, &owner, &iface, &state, &blob); err != nil {
			return nil, &IoError{Op: "scan", Err: err}
		}
		out = append(out, Row{Ticket: record.Ticket(ticket), Owner: owner, Interface: record.InterfaceName(iface), State: record.State(state), Blob: blob})
	}
	if err := rows.Err(); err != nil {
		return nil, &IoError{Op: "scan", Err: err}
	}
	return out, nil
}

// ByOwnerPrefix returns all non-sentinel rows whose owner starts with prefix.
func (s *Store) ByOwnerPrefix(prefix string) ([]Row, error) {
	return s.scanRows(`SELECT ticket, owner, interface, state, record FROM transfers WHERE ticket != 0 AND owner LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
}

// ByState returns all non-sentinel rows in the given state.
func (s *Store) ByState(state record.State) ([]Row, error) {
	return s.scanRows(`SELECT ticket, owner, interface, state, record FROM transfers WHERE ticket != 0 AND state = ?`, string(state))
}

// ByInterface returns all non-sentinel rows bound to the given interface.
func (s *Store) ByInterface(iface record.InterfaceName) ([]Row, error) {
	return s.scanRows(`SELECT ticket, owner, interface, state, record FROM transfers WHERE ticket != 0 AND interface = ?`, string(iface))
}

// ByStateAndInterface returns all non-sentinel rows matching both.
func (s *Store) ByStateAndInterface(state record.State, iface record.InterfaceName) ([]Row, error) {
	return s.scanRows(`SELECT ticket, owner, interface, state, record FROM transfers WHERE ticket != 0 AND state = ? AND interface = ?`,
		string(state), string(iface))
}

// RewriteState performs a bulk state transition, used on restart to rewrite
// every running|queued|interrupted row to cancelled before any new
// admission succeeds.
func (s *Store) RewriteState(old, new record.State) (int64, error) {
	res, err := s.db.Exec(`UPDATE transfers SET state = ? WHERE ticket != 0 AND state = ?`, string(new), string(old))
	if err != nil {
		return 0, &IoError{Op: "rewriteState", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteByTicket removes a single row.
func (s *Store) DeleteByTicket(ticket record.Ticket) error {
	_, err := s.db.Exec(`DELETE FROM transfers WHERE ticket = ? AND ticket != 0`, uint64(ticket))
	if err != nil {
		return &IoError{Op: "deleteByTicket", Err: err}
	}
	return nil
}

// DeleteByOwnerPrefix removes every non-sentinel row whose owner starts with
// prefix, including an exact-owner match when prefix has no wildcard effect.
func (s *Store) DeleteByOwnerPrefix(prefix string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM transfers WHERE ticket != 0 AND owner LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return 0, &IoError{Op: "deleteByOwnerPrefix", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MaxTicket returns the highest ticket ever written, excluding the sentinel.
// The orchestrator seeds its ticket generator to MaxTicket()+1 on startup.
func (s *Store) MaxTicket() (record.Ticket, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(ticket) FROM transfers WHERE ticket != 0`).Scan(&max)
	if err != nil {
		return 0, &IoError{Op: "maxTicket", Err: err}
	}
	if !max.Valid {
		return 0, nil
	}
	return record.Ticket(max.Int64), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
