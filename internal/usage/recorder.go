// Package usage records per-request accounting: which model and provider
// served a request, token counts, duration, and whether the cache or the
// fallback hop was involved.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one request's usage record.
type Entry struct {
	RequestID    string    `json:"request_id"`
	Route        string    `json:"route"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Status       string    `json:"status"`
	CacheHit     bool      `json:"cache_hit"`
	Fallback     bool      `json:"fallback"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recorder persists usage entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// PostgresRecorder writes entries to the usage_log table.
type PostgresRecorder struct {
	db *pgxpool.Pool
}

func NewPostgresRecorder(db *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_log (request_id, route, model, provider, status, cache_hit, fallback,
		                       input_tokens, output_tokens, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.RequestID, e.Route, e.Model, e.Provider, e.Status, e.CacheHit, e.Fallback,
		e.InputTokens, e.OutputTokens, e.DurationMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage entry: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) Close() error { return nil }

// FileRecorder appends JSON-lines entries, the fallback when no database
// is configured.
type FileRecorder struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create usage log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open usage log: %w", err)
	}
	return &FileRecorder{file: f}, nil
}

func (r *FileRecorder) Record(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal usage entry: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write usage entry: %w", err)
	}
	return nil
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// Nop discards all entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }
