package reqlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink appends entries as JSON lines to a per-day log file
// (application-YYYY-MM-DD.log) under the configured directory.
type FileSink struct {
	mu  sync.Mutex
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Write appends one entry. Best effort by contract: callers log failures but
// never treat them as fatal.
func (s *FileSink) Write(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	name := fmt.Sprintf("application-%s.log", time.Now().UTC().Format("2006-01-02"))
	path := filepath.Join(s.dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}

	return nil
}
