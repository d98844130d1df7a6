package usagelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AstarVienna/irdb/internal/model"
)

// DefaultPath is the log file used when nothing else is configured,
// relative to the working directory of the server
const DefaultPath = "scopesim.log"

// Sink is an append-only destination for usage records
type Sink interface {
	Append(rec model.UsageRecord) error
}

// Encode serializes a record as one JSON line without the trailing newline
func Encode(rec model.UsageRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// FileSink appends records to a JSON-lines file. The file is opened and
// closed for every record and held under an exclusive lock while writing,
// so lines from concurrent requests (or other processes using the same
// file) never interleave.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a sink writing to path
func NewFileSink(path string) *FileSink {
	if path == "" {
		path = DefaultPath
	}
	return &FileSink{path: path}
}

// Path returns the file the sink writes to
func (s *FileSink) Path() string {
	return s.path
}

// Append writes rec followed by a newline to the end of the log file
func (s *FileSink) Append(rec model.UsageRecord) error {
	line, err := Encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("failed to lock log file: %w", err)
	}
	defer unlockFile(f)

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write log file: %w", err)
	}
	return nil
}

// Check verifies the log file can be opened for appending without writing
// anything to it
func (s *FileSink) Check() error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("log directory unavailable: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("log file not writable: %w", err)
	}
	return f.Close()
}
