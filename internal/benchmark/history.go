package benchmark

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// HistoryStore persists benchmark results across processes
type HistoryStore interface {
	Save(ctx context.Context, result *LoadTestResult) error
	// Load returns up to limit of the most recent results, oldest first
	Load(ctx context.Context, limit int) ([]*LoadTestResult, error)
}

// FileStore keeps one JSON file per result in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes result to <start>_<id>.json
func (s *FileStore) Save(_ context.Context, result *LoadTestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, resultFileName(result)), data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// resultFileName sorts lexically in start order
func resultFileName(result *LoadTestResult) string {
	return fmt.Sprintf("%s_%s.json", result.Summary.StartTime.UTC().Format("20060102T150405.000000000"), result.ID)
}

// Load reads the newest limit results. Files that fail to parse are skipped.
func (s *FileStore) Load(_ context.Context, limit int) ([]*LoadTestResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read history dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[len(names)-limit:]
	}

	results := make([]*LoadTestResult, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var r LoadTestResult
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		results = append(results, &r)
	}
	return results, nil
}

// PostgresStore keeps results as JSONB rows
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects with the lib/pq driver
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the results table
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS benchmark_results (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		payload JSONB NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Save inserts result
func (s *PostgresStore) Save(ctx context.Context, result *LoadTestResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := `INSERT INTO benchmark_results (id, name, created_at, payload) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, query, result.ID, result.Config.Name, result.Summary.StartTime, payload); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Load selects the newest limit rows
func (s *PostgresStore) Load(ctx context.Context, limit int) ([]*LoadTestResult, error) {
	query := `SELECT payload FROM benchmark_results ORDER BY created_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*LoadTestResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var r LoadTestResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// Close closes the database handle
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
