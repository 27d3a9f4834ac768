// Package audit persists the durable, append-only governance trail: one
// signed record per completed query, carrying the restored answer, verdict,
// tool usage, and cost breakdown. Writes happen off the caller's critical
// path via the async Logger.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRecordNotFound is returned when an event id has no audit row.
var ErrRecordNotFound = errors.New("audit record not found")

// Record is the write-once governance row for one query.
type Record struct {
	EventID        string    `json:"event_id"`
	CorrelationID  string    `json:"correlation_id"`
	SessionID      string    `json:"session_id"`
	MemberID       string    `json:"member_id"`
	Country        string    `json:"country"`
	QueryText      string    `json:"query_text"`
	State          string    `json:"state"`
	Answer         string    `json:"answer,omitempty"`
	Passed         bool      `json:"passed"`
	Confidence     float64   `json:"confidence"`
	Violations     []string  `json:"violations,omitempty"`
	ToolsCalled    []string  `json:"tools_called,omitempty"`
	Citations      []string  `json:"citations,omitempty"`
	ValidationMode string    `json:"validation_mode,omitempty"`
	Attempts       int       `json:"attempts"`
	TotalCostUSD   float64   `json:"total_cost_usd"`
	CostBreakdown  string    `json:"cost_breakdown,omitempty"`
	LatencyMS      float64   `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
	Signature      string    `json:"signature"`
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS governance (
	event_id        TEXT PRIMARY KEY,
	correlation_id  TEXT NOT NULL,
	session_id      TEXT NOT NULL DEFAULT '',
	member_id       TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	query_text      TEXT NOT NULL,
	state           TEXT NOT NULL,
	answer          TEXT NOT NULL DEFAULT '',
	passed          INTEGER NOT NULL DEFAULT 0,
	confidence      REAL NOT NULL DEFAULT 0,
	violations      TEXT NOT NULL DEFAULT '[]',
	tools_called    TEXT NOT NULL DEFAULT '[]',
	citations       TEXT NOT NULL DEFAULT '[]',
	validation_mode TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	total_cost_usd  REAL NOT NULL DEFAULT 0,
	cost_breakdown  TEXT NOT NULL DEFAULT '{}',
	latency_ms      REAL NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	signature       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_governance_correlation ON governance(correlation_id);
CREATE INDEX IF NOT EXISTS idx_governance_country ON governance(country);
CREATE INDEX IF NOT EXISTS idx_governance_created ON governance(created_at);
`

// Store is the SQLite-backed governance sink. Rows are append-only: there is
// no update or delete path.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore opens (or creates) the audit database and applies the schema.
func NewStore(dbPath string, signer *Signer) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit store: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying audit schema: %w", err)
	}
	return &Store{db: db, signer: signer}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append assigns identity and signature, then inserts the record. The
// signature covers the canonical payload so later tampering is detectable.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.EventID == "" {
		rec.EventID = "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Signature = s.signer.Sign(canonicalPayload(rec))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO governance (
			event_id, correlation_id, session_id, member_id, country,
			query_text, state, answer, passed, confidence, violations,
			tools_called, citations, validation_mode, attempts,
			total_cost_usd, cost_breakdown, latency_ms, created_at, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.CorrelationID, rec.SessionID, rec.MemberID,
		rec.Country, rec.QueryText, rec.State, rec.Answer,
		boolToInt(rec.Passed), rec.Confidence, mustJSON(rec.Violations),
		mustJSON(rec.ToolsCalled), mustJSON(rec.Citations),
		rec.ValidationMode, rec.Attempts, rec.TotalCostUSD,
		rec.CostBreakdown, rec.LatencyMS,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.Signature)
	if err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// Get returns one record by event id.
func (s *Store) Get(ctx context.Context, eventID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM governance WHERE event_id = ?`, eventID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, eventID)
	}
	return rec, err
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM governance ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Verify re-signs the record's canonical payload and compares signatures.
func (s *Store) Verify(rec *Record) bool {
	return s.signer.Verify(canonicalPayload(rec), rec.Signature)
}

// CostSummary aggregates spend per jurisdiction since the given time.
type CostSummary struct {
	Country      string  `json:"country"`
	Queries      int     `json:"queries"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Blocked      int     `json:"blocked"`
}

// Costs reports per-jurisdiction query counts and spend since a cutoff.
func (s *Store) Costs(ctx context.Context, since time.Time) ([]CostSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT country,
		       COUNT(*),
		       COALESCE(SUM(total_cost_usd), 0),
		       COALESCE(SUM(CASE WHEN state = 'BLOCKED' THEN 1 ELSE 0 END), 0)
		FROM governance
		WHERE created_at >= ?
		GROUP BY country
		ORDER BY country`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("summarizing audit costs: %w", err)
	}
	defer rows.Close()

	var out []CostSummary
	for rows.Next() {
		var cs CostSummary
		if err := rows.Scan(&cs.Country, &cs.Queries, &cs.TotalCostUSD, &cs.Blocked); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

const recordColumns = `event_id, correlation_id, session_id, member_id, country,
	query_text, state, answer, passed, confidence, violations, tools_called,
	citations, validation_mode, attempts, total_cost_usd, cost_breakdown,
	latency_ms, created_at, signature`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var passed int
	var violations, toolsCalled, citations, createdAt string
	err := row.Scan(
		&rec.EventID, &rec.CorrelationID, &rec.SessionID, &rec.MemberID,
		&rec.Country, &rec.QueryText, &rec.State, &rec.Answer, &passed,
		&rec.Confidence, &violations, &toolsCalled, &citations,
		&rec.ValidationMode, &rec.Attempts, &rec.TotalCostUSD,
		&rec.CostBreakdown, &rec.LatencyMS, &createdAt, &rec.Signature)
	if err != nil {
		return nil, err
	}
	rec.Passed = passed != 0
	_ = json.Unmarshal([]byte(violations), &rec.Violations)
	_ = json.Unmarshal([]byte(toolsCalled), &rec.ToolsCalled)
	_ = json.Unmarshal([]byte(citations), &rec.Citations)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

// canonicalPayload is the byte sequence the signature covers: the stable
// fields, excluding the signature itself.
func canonicalPayload(rec *Record) []byte {
	return []byte(strings.Join([]string{
		rec.EventID,
		rec.CorrelationID,
		rec.QueryText,
		rec.State,
		rec.Answer,
		mustJSON(rec.Violations),
		fmt.Sprintf("%.9f", rec.TotalCostUSD),
		rec.CreatedAt.Format(time.RFC3339Nano),
	}, "|"))
}

func mustJSON(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
