package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AuditEntry is one served (or refused) recommendation.
type AuditEntry struct {
	ID                  int64     `json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	Regime              string    `json:"regime"`
	ReleaseID           string    `json:"release_id,omitempty"`
	Code                string    `json:"code"`
	RequestJSON         string    `json:"request,omitempty"`
	Price               float64   `json:"price"`
	ExpectedProfit      float64   `json:"expected_profit"`
	PolicyExpectedValue float64   `json:"policy_expected_value"`
	VaR5                float64   `json:"var_5"`
	CVaR5               float64   `json:"cvar_5"`
	LatencyMS           float64   `json:"latency_ms"`
}

// AuditLog appends recommendations to a SQLite table.
type AuditLog struct {
	mu sync.Mutex
	db *sql.DB
}

func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureAuditSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &AuditLog{db: db}, nil
}

func ensureAuditSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recommendations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			regime TEXT NOT NULL,
			release_id TEXT,
			code TEXT NOT NULL,
			request_json TEXT,
			price REAL NOT NULL DEFAULT 0,
			expected_profit REAL NOT NULL DEFAULT 0,
			policy_expected_value REAL NOT NULL DEFAULT 0,
			var_5 REAL NOT NULL DEFAULT 0,
			cvar_5 REAL NOT NULL DEFAULT 0,
			latency_ms REAL NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recommendations_created ON recommendations(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *AuditLog) Append(ctx context.Context, e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return fmt.Errorf("audit log closed")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx, `INSERT INTO recommendations
		(created_at, regime, release_id, code, request_json, price, expected_profit, policy_expected_value, var_5, cvar_5, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CreatedAt.UnixMilli(), e.Regime, e.ReleaseID, e.Code, e.RequestJSON,
		e.Price, e.ExpectedProfit, e.PolicyExpectedValue, e.VaR5, e.CVaR5, e.LatencyMS)
	return err
}

// Recent returns the newest entries first.
func (a *AuditLog) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil, fmt.Errorf("audit log closed")
	}
	rows, err := a.db.QueryContext(ctx, `SELECT id, created_at, regime, COALESCE(release_id, ''), code, COALESCE(request_json, ''),
		price, expected_profit, policy_expected_value, var_5, cvar_5, latency_ms
		FROM recommendations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created int64
		if err := rows.Scan(&e.ID, &created, &e.Regime, &e.ReleaseID, &e.Code, &e.RequestJSON,
			&e.Price, &e.ExpectedProfit, &e.PolicyExpectedValue, &e.VaR5, &e.CVaR5, &e.LatencyMS); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByCode groups entries by outcome code.
func (a *AuditLog) CountByCode(ctx context.Context) (map[string]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil, fmt.Errorf("audit log closed")
	}
	rows, err := a.db.QueryContext(ctx, `SELECT code, COUNT(*) FROM recommendations GROUP BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var code string
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		out[code] = n
	}
	return out, rows.Err()
}
