// Package telemetry keeps a local history of searches and index builds.
// Nothing leaves the machine; `clipbridge stats` reads it back.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

// zeroResultCapacity bounds the zero-result ring.
const zeroResultCapacity = 100

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket maps a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one recorded search.
type QueryEvent struct {
	Time      time.Time
	Prompt    string
	TopK      int
	Threshold float64
	Results   int
	Cached    bool
	Latency   time.Duration
	// Error is the error code, or the message for uncoded errors.
	Error string
}

// BuildRun is one recorded index build.
type BuildRun struct {
	StartedAt time.Time     `json:"started_at"`
	SourceDir string        `json:"source_dir"`
	IndexPath string        `json:"index_path"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Success   bool          `json:"success"`
	Killed    bool          `json:"killed"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// TermCount is a prompt term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Stats summarizes recorded activity.
type Stats struct {
	TotalQueries        int64                   `json:"total_queries"`
	FailedQueries       int64                   `json:"failed_queries"`
	CachedQueries       int64                   `json:"cached_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	RecentBuilds        []BuildRun              `json:"recent_builds"`
}

// ZeroResultPercentage returns the share of successful queries with no results.
func (s Stats) ZeroResultPercentage() float64 {
	ok := s.TotalQueries - s.FailedQueries
	if ok <= 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(ok) * 100
}

// Store persists telemetry in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN pragmas, so set them explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		top_k INTEGER NOT NULL,
		threshold REAL NOT NULL,
		results INTEGER NOT NULL,
		cached INTEGER NOT NULL DEFAULT 0,
		latency_bucket TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Ring of the latest zero-result prompts.
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt TEXT NOT NULL,
		ts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS build_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at INTEGER NOT NULL,
		source_dir TEXT NOT NULL,
		index_path TEXT NOT NULL,
		total INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		success INTEGER NOT NULL,
		killed INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// ExtractTerms lowercases a prompt and keeps words of three or more bytes.
func ExtractTerms(prompt string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// RecordQuery stores one search event with its derived aggregates.
func (s *Store) RecordQuery(ctx context.Context, ev QueryEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO query_events (ts, prompt, top_k, threshold, results, cached, latency_bucket, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Time.UnixMilli(), ev.Prompt, ev.TopK, ev.Threshold, ev.Results, ev.Cached,
		string(LatencyToBucket(ev.Latency)), ev.Error); err != nil {
		return fmt.Errorf("insert query event: %w", err)
	}

	for _, term := range ExtractTerms(ev.Prompt) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET
				count = count + 1,
				last_seen = CURRENT_TIMESTAMP
		`, term); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if ev.Error == "" && ev.Results == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO zero_result_queries (prompt, ts) VALUES (?, ?)
		`, ev.Prompt, ev.Time.UnixMilli()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries
			WHERE id NOT IN (
				SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?
			)
		`, zeroResultCapacity); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordBuild stores one build run.
func (s *Store) RecordBuild(ctx context.Context, run BuildRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_runs (started_at, source_dir, index_path, total, processed, success, killed, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.StartedAt.UnixMilli(), run.SourceDir, run.IndexPath, run.Total, run.Processed,
		run.Success, run.Killed, run.Error, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert build run: %w", err)
	}
	return nil
}

// Stats aggregates everything recorded since since. Lists are capped at limit.
func (s *Store) Stats(ctx context.Context, since time.Time, limit int) (*Stats, error) {
	if limit <= 0 {
		limit = 10
	}
	st := &Stats{LatencyDistribution: make(map[LatencyBucket]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(cached), 0),
			COALESCE(SUM(CASE WHEN error = '' AND results = 0 THEN 1 ELSE 0 END), 0)
		FROM query_events WHERE ts >= ?
	`, since.UnixMilli()).Scan(&st.TotalQueries, &st.FailedQueries, &st.CachedQueries, &st.ZeroResultCount)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT latency_bucket, COUNT(*) FROM query_events
		WHERE ts >= ? GROUP BY latency_bucket
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		st.LatencyDistribution[LatencyBucket(bucket)] = count
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if st.TopTerms, err = s.TopTerms(ctx, limit); err != nil {
		return nil, err
	}
	if st.ZeroResultQueries, err = s.ZeroResultQueries(ctx, limit); err != nil {
		return nil, err
	}
	if st.RecentBuilds, err = s.RecentBuilds(ctx, limit); err != nil {
		return nil, err
	}
	return st, nil
}

// TopTerms returns the most searched terms.
func (s *Store) TopTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term, count FROM query_terms ORDER BY count DESC, term ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// ZeroResultQueries returns recent prompts that matched nothing, newest first.
func (s *Store) ZeroResultQueries(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prompt FROM zero_result_queries ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// RecentBuilds returns the latest build runs, newest first.
func (s *Store) RecentBuilds(ctx context.Context, limit int) ([]BuildRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT started_at, source_dir, index_path, total, processed, success, killed, error, duration_ms
		FROM build_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query build runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []BuildRun
	for rows.Next() {
		var run BuildRun
		var started, ms int64
		if err := rows.Scan(&started, &run.SourceDir, &run.IndexPath, &run.Total,
			&run.Processed, &run.Success, &run.Killed, &run.Error, &ms); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		run.StartedAt = time.UnixMilli(started)
		run.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
