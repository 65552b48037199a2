package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// TurnRecord is the audit view of one session turn.
type TurnRecord struct {
	ID         string
	SessionID  string
	Utterance  string
	Reply      string
	Capability string
	Phase      string
	ResultType string
	Values     map[string]string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AuditFilter limits audit queries.
type AuditFilter struct {
	SessionID  string
	Capability string
	Limit      int
}

// AuditLog persists turn records.
type AuditLog interface {
	Record(ctx context.Context, rec TurnRecord) error
	List(ctx context.Context, filter AuditFilter) ([]TurnRecord, error)
}

// OpenSQLite opens (creating parent directories) a SQLite database file.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLiteAudit is an AuditLog backed by SQLite.
type SQLiteAudit struct {
	db *sql.DB
}

// NewSQLiteAudit wraps db and ensures the schema exists.
func NewSQLiteAudit(db *sql.DB) (*SQLiteAudit, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureTurnSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAudit{db: db}, nil
}

// Record implements AuditLog.
func (s *SQLiteAudit) Record(ctx context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	values := "{}"
	if len(rec.Values) > 0 {
		b, err := json.Marshal(rec.Values)
		if err != nil {
			return err
		}
		values = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO concierge_turns (
			turn_id, session_id, utterance, reply, capability, phase, result_type, values_json, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.SessionID,
		rec.Utterance,
		rec.Reply,
		rec.Capability,
		rec.Phase,
		rec.ResultType,
		values,
		rec.Error,
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
	)
	return err
}

// List implements AuditLog. Records come back oldest first.
func (s *SQLiteAudit) List(ctx context.Context, filter AuditFilter) ([]TurnRecord, error) {
	query := `
		SELECT turn_id, session_id, utterance, reply, capability, phase, result_type, values_json, error_text, started_at, finished_at
		FROM concierge_turns
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.SessionID != "" {
		addFilter("session_id = ?", filter.SessionID)
	}
	if filter.Capability != "" {
		addFilter("capability = ?", filter.Capability)
	}
	query += where + " ORDER BY started_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var (
			rec        TurnRecord
			valuesJSON string
			started    sql.NullTime
			finished   sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Utterance,
			&rec.Reply,
			&rec.Capability,
			&rec.Phase,
			&rec.ResultType,
			&valuesJSON,
			&rec.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if valuesJSON != "" && valuesJSON != "{}" {
			_ = json.Unmarshal([]byte(valuesJSON), &rec.Values)
		}
		if started.Valid {
			rec.StartedAt = started.Time
		}
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func ensureTurnSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS concierge_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			utterance TEXT NOT NULL,
			reply TEXT NOT NULL,
			capability TEXT,
			phase TEXT,
			result_type TEXT,
			values_json TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_concierge_turns_session ON concierge_turns(session_id);
		CREATE INDEX IF NOT EXISTS idx_concierge_turns_capability ON concierge_turns(capability);
	`)
	return err
}
