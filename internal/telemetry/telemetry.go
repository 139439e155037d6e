// Package telemetry records pipeline and search latencies in a local
// SQLite database. All data stays on the host - nothing is reported
// externally.
package telemetry

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/amanrag/internal/search"
)

// LatencyBucket is a histogram bucket label.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
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

// Collector persists daily aggregates: per-stage job durations, and
// per-stage search latencies with a whole-query histogram. It
// satisfies both the pipeline's stage recorder and the search engine's
// recorder.
type Collector struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the telemetry database and ensures the schema.
func Open(path string) (*Collector, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	// SQLite tolerates one writer at a time.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Collector{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	-- Per-stage pipeline durations (aggregated daily)
	CREATE TABLE IF NOT EXISTS job_stage_stats (
		date TEXT NOT NULL,
		stage TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		total_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, stage)
	);

	-- Per-stage search latencies by mode (aggregated daily)
	CREATE TABLE IF NOT EXISTS search_stage_stats (
		date TEXT NOT NULL,
		mode TEXT NOT NULL,
		stage TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		total_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, mode, stage)
	);

	-- Whole-query latency histogram
	CREATE TABLE IF NOT EXISTS search_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	-- Zero-result searches feed relevance debugging
	CREATE TABLE IF NOT EXISTS zero_result_searches (
		date TEXT NOT NULL,
		mode TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, mode)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// RecordJobStage accumulates one pipeline stage duration.
func (c *Collector) RecordJobStage(_ string, stage string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.db.Exec(`
		INSERT INTO job_stage_stats (date, stage, count, total_ms)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(date, stage) DO UPDATE SET
			count = count + 1,
			total_ms = total_ms + excluded.total_ms
	`, today(), stage, d.Milliseconds())
}

// RecordSearch accumulates one search call's stage latencies.
func (c *Collector) RecordSearch(mode search.Mode, timings search.StageTimings, results int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	date := today()
	stages := []struct {
		name string
		d    time.Duration
	}{
		{"embed", timings.Embed},
		{"stage1", timings.Stage1},
		{"stage2", timings.Stage2},
		{"fusion", timings.Fusion},
	}
	for _, st := range stages {
		_, _ = c.db.Exec(`
			INSERT INTO search_stage_stats (date, mode, stage, count, total_ms)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(date, mode, stage) DO UPDATE SET
				count = count + 1,
				total_ms = total_ms + excluded.total_ms
		`, date, string(mode), st.name, st.d.Milliseconds())
	}

	total := timings.Embed + timings.Stage1 + timings.Stage2 + timings.Fusion
	_, _ = c.db.Exec(`
		INSERT INTO search_latency_stats (date, bucket, count)
		VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1
	`, date, string(LatencyToBucket(total)))

	if results == 0 {
		_, _ = c.db.Exec(`
			INSERT INTO zero_result_searches (date, mode, count)
			VALUES (?, ?, 1)
			ON CONFLICT(date, mode) DO UPDATE SET count = count + 1
		`, date, string(mode))
	}
}

// StageSummary is the daily aggregate for one stage.
type StageSummary struct {
	Stage     string  `json:"stage"`
	Count     int64   `json:"count"`
	AvgMS     float64 `json:"avg_ms"`
	TotalMS   int64   `json:"total_ms"`
	SearchKey string  `json:"mode,omitempty"`
}

// JobStageSummary returns today's pipeline stage aggregates.
func (c *Collector) JobStageSummary() ([]StageSummary, error) {
	rows, err := c.db.Query(`
		SELECT stage, count, total_ms FROM job_stage_stats
		WHERE date = ? ORDER BY stage
	`, today())
	if err != nil {
		return nil, fmt.Errorf("query job stage stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSummaries(rows, false)
}

// SearchStageSummary returns today's search stage aggregates.
func (c *Collector) SearchStageSummary() ([]StageSummary, error) {
	rows, err := c.db.Query(`
		SELECT mode, stage, count, total_ms FROM search_stage_stats
		WHERE date = ? ORDER BY mode, stage
	`, today())
	if err != nil {
		return nil, fmt.Errorf("query search stage stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSummaries(rows, true)
}

func scanSummaries(rows *sql.Rows, withMode bool) ([]StageSummary, error) {
	var out []StageSummary
	for rows.Next() {
		var s StageSummary
		var err error
		if withMode {
			err = rows.Scan(&s.SearchKey, &s.Stage, &s.Count, &s.TotalMS)
		} else {
			err = rows.Scan(&s.Stage, &s.Count, &s.TotalMS)
		}
		if err != nil {
			return nil, err
		}
		if s.Count > 0 {
			s.AvgMS = float64(s.TotalMS) / float64(s.Count)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatencyHistogram returns today's whole-query latency buckets.
func (c *Collector) LatencyHistogram() (map[LatencyBucket]int64, error) {
	rows, err := c.db.Query(`
		SELECT bucket, count FROM search_latency_stats WHERE date = ?
	`, today())
	if err != nil {
		return nil, fmt.Errorf("query latency stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, err
		}
		out[LatencyBucket(bucket)] = count
	}
	return out, rows.Err()
}

// Close closes the database.
func (c *Collector) Close() error {
	return c.db.Close()
}
