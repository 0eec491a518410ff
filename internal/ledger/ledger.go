// Package ledger provides an append-only history of orchestrated commands.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dokzlo13/tapoctl/internal/eventbus"
)

// Entry represents a single lifecycle step of a command.
type Entry struct {
	ID        int64          `json:"-"`
	CommandID string         `json:"command_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Target    string         `json:"target,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Intent    string         `json:"intent,omitempty"`
	Child     string         `json:"child,omitempty"`
	ElapsedMs int64          `json:"elapsed_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// stepOrder ranks lifecycle steps that share a timestamp.
const stepOrder = `CASE event_type WHEN 'command_started' THEN 0 ELSE 1 END`

// Ledger stores command history in SQLite.
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append records one entry. A second entry for the same command and event
// type is ignored.
func (l *Ledger) Append(e Entry) error {
	var payloadJSON []byte
	if len(e.Payload) > 0 {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO command_ledger
			(command_id, event_type, timestamp, target, endpoint, intent, child, elapsed_ms, error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.CommandID, e.EventType, e.Timestamp.UnixNano(), e.Target, e.Endpoint, e.Intent, e.Child,
		e.ElapsedMs, e.Error, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Record converts a bus event into an entry and appends it.
func (l *Ledger) Record(ev eventbus.Event) error {
	e := Entry{
		CommandID: ev.CommandID,
		EventType: string(ev.Type),
		Timestamp: ev.Time,
		Payload:   map[string]any{},
	}

	for k, v := range ev.Data {
		switch k {
		case "target":
			e.Target, _ = v.(string)
		case "endpoint":
			e.Endpoint, _ = v.(string)
		case "intent":
			e.Intent, _ = v.(string)
		case "child":
			e.Child, _ = v.(string)
		case "error":
			e.Error, _ = v.(string)
		case "elapsed_ms":
			e.ElapsedMs, _ = v.(int64)
		default:
			e.Payload[k] = v
		}
	}

	return l.Append(e)
}

// Command returns every entry of one command, oldest first.
func (l *Ledger) Command(commandID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, command_id, event_type, timestamp, target, endpoint, intent, child, elapsed_ms, error, payload
		FROM command_ledger
		WHERE command_id = ?
		ORDER BY timestamp ASC, `+stepOrder+` ASC
	`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Recent returns the newest entries, optionally limited to one target.
func (l *Ledger) Recent(target string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, command_id, event_type, timestamp, target, endpoint, intent, child, elapsed_ms, error, payload
		FROM command_ledger`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY timestamp DESC, ` + stepOrder + ` DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixNano()
	result, err := l.db.Exec(`DELETE FROM command_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var timestamp int64
		var target, endpoint, intent, child, errStr, payloadStr sql.NullString
		var elapsed sql.NullInt64

		err := rows.Scan(
			&entry.ID, &entry.CommandID, &entry.EventType, &timestamp,
			&target, &endpoint, &intent, &child, &elapsed, &errStr, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(0, timestamp).UTC()
		entry.Target = target.String
		entry.Endpoint = endpoint.String
		entry.Intent = intent.String
		entry.Child = child.String
		entry.ElapsedMs = elapsed.Int64
		entry.Error = errStr.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
