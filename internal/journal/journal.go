// Package journal records scan state transitions in SQLite for later
// inspection. Recognized payloads are reduced to a digest before storage.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/scan"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 0 - transitions table
// 1 - payload_digest index
const currentSchemaVersion = 1

// DomainPayload separates payload digests from any other SHA-256 use.
const DomainPayload = "qbar/payload/v1"

// Journal is an engine.Recorder backed by SQLite in WAL mode.
type Journal struct {
	db *sql.DB
}

var _ engine.Recorder = (*Journal)(nil)

// Open creates or opens the journal at path and migrates it.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_transitions_payload_digest
			ON transitions(payload_digest)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// PayloadDigest returns SHA256(DomainPayload + 0x00 + NFC(payload)) in hex.
// An empty payload has an empty digest.
func PayloadDigest(payload string) string {
	if payload == "" {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(DomainPayload))
	h.Write([]byte{0x00})
	h.Write([]byte(norm.NFC.String(payload)))
	return hex.EncodeToString(h.Sum(nil))
}

// Record stores t. Re-recording the same (session, seq) is a no-op.
func (j *Journal) Record(ctx context.Context, t engine.Transition) error {
	source := ""
	if t.Source != 0 {
		source = t.Source.String()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions
		(session, seq, from_state, to_state, cause, source, symbology, payload_digest, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, seq) DO NOTHING
	`,
		t.Session,
		t.Seq,
		string(t.From),
		string(t.To),
		t.Trigger,
		source,
		t.Symbology.String(),
		PayloadDigest(t.Payload),
		t.Message,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// Entry is a stored transition.
type Entry struct {
	Session       string         `json:"session"`
	Seq           int64          `json:"seq"`
	From          engine.Kind    `json:"from"`
	To            engine.Kind    `json:"to"`
	Trigger       string         `json:"trigger"`
	Source        string         `json:"source,omitempty"`
	Symbology     scan.Symbology `json:"symbology,omitempty"`
	PayloadDigest string         `json:"payload_digest,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// Transitions returns a session's transitions ordered by seq.
// Returns an empty slice, not nil, for unknown sessions.
func (j *Journal) Transitions(ctx context.Context, session string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session, seq, from_state, to_state, cause, source, symbology, payload_digest, message
		FROM transitions
		WHERE session = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			from, to string
			sym      string
		)
		if err := rows.Scan(&e.Session, &e.Seq, &from, &to, &e.Trigger, &e.Source, &sym, &e.PayloadDigest, &e.Message); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.From = engine.Kind(from)
		e.To = engine.Kind(to)
		e.Symbology = scan.Symbology(sym)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return entries, nil
}

// Session summarizes one recorded session.
type Session struct {
	ID          string `json:"id"`
	Transitions int    `json:"transitions"`
	LastSeq     int64  `json:"last_seq"`
}

// Sessions lists recorded sessions by id.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session, COUNT(*), MAX(seq)
		FROM transitions
		GROUP BY session
		ORDER BY session COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Transitions, &s.LastSeq); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Seen counts how often payload was accepted, across all sessions.
func (j *Journal) Seen(ctx context.Context, payload string) (int, error) {
	digest := PayloadDigest(payload)
	if digest == "" {
		return 0, nil
	}
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transitions
		WHERE payload_digest = ? AND to_state = ?
	`, digest, string(engine.KindProcessing)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count payload: %w", err)
	}
	return n, nil
}
