package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JSONLWriter appends one JSON object per line to a file, the simplest of
// the three Store implementations and the one named explicitly in the
// external-interfaces contract.
type JSONLWriter struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewJSONLWriter opens path for append, creating it if necessary.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("trace: open jsonl file: %w", err)
	}
	return &JSONLWriter{f: f, path: path}, nil
}

// PutRun appends rt as one line. JSONLWriter is write-only: GetRun and
// ListRuns always report not-found, since a JSONL file is not indexed for
// random access.
func (w *JSONLWriter) PutRun(ctx context.Context, rt RunTrace) error {
	data, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("trace: marshal run: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("trace: append run: %w", err)
	}
	return w.f.Sync()
}

func (w *JSONLWriter) GetRun(ctx context.Context, runID string) (RunTrace, bool, error) {
	return RunTrace{}, false, nil
}

func (w *JSONLWriter) ListRuns(ctx context.Context, limit, offset int) ([]RunTrace, error) {
	return nil, nil
}

// Close closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
