// ABOUTME: SQLite-backed security audit log for authentication events
// ABOUTME: Records who did what to which identity; advisory, never blocks auth

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Action identifies an auditable security event.
type Action string

const (
	ActionLogin         Action = "login"
	ActionLoginFailed   Action = "login_failed"
	ActionLockout       Action = "lockout"
	ActionCreateUser    Action = "create_user"
	ActionDeleteUser    Action = "delete_user"
	ActionIssueKey      Action = "issue_key"
	ActionRevokeKey     Action = "revoke_key"
	ActionRevokeSession Action = "revoke_session"
	ActionBootstrap     Action = "bootstrap"
)

// Entry is a single audit record.
type Entry struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"` // identity that performed the action, or "system"
	Action    Action         `json:"action"`
	Target    string         `json:"target"` // affected identity or resource
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Filter selects audit entries for listing.
type Filter struct {
	Since  *time.Time
	Actor  *string
	Action *Action
	Limit  int // default 100, capped at 1000
}

// Log is an append-only audit trail stored in SQLite.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at path, creating the schema and
// parent directories as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL,
			ts TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	logger := slog.Default().With("component", "audit")
	logger.Info("audit log opened", "path", path)
	return &Log{db: db, logger: logger}, nil
}

// Record appends an entry, generating ID and Timestamp if unset. A nil Log
// is a no-op so the audit trail stays optional for callers.
func (l *Log) Record(ctx context.Context, e *Entry) error {
	if l == nil {
		return nil
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		s := string(data)
		detailJSON = &s
	}

	query := `
		INSERT INTO audit_log (id, actor, action, target, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		e.ID,
		e.Actor,
		string(e.Action),
		e.Target,
		e.Timestamp.UTC().Format(time.RFC3339),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	l.logger.Debug("recorded audit entry", "actor", e.Actor, "action", e.Action, "target", e.Target)
	return nil
}

// normalizeLimit applies default (100) and cap (1000) to a filter limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// List returns entries matching the filter, newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	var sinceStr *string
	if f.Since != nil {
		s := f.Since.UTC().Format(time.RFC3339)
		sinceStr = &s
	}
	var actionStr *string
	if f.Action != nil {
		a := string(*f.Action)
		actionStr = &a
	}

	query := `
		SELECT id, actor, action, target, ts, detail_json
		FROM audit_log
		WHERE (? IS NULL OR ts >= ?)
		  AND (? IS NULL OR actor = ?)
		  AND (? IS NULL OR action = ?)
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query,
		sinceStr, sinceStr,
		f.Actor, f.Actor,
		actionStr, actionStr,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var actionStr, tsStr string
		var detailJSON *string

		if err := rows.Scan(&e.ID, &e.Actor, &actionStr, &e.Target, &tsStr, &detailJSON); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Action = Action(actionStr)
		e.Timestamp, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
