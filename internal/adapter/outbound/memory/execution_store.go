// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

const defaultRecentCap = 1000

// MemoryExecutionStore implements automation.ExecutionRecorder. Records are
// written as JSON lines to a writer (stdout, a file, or a rotating log) and
// the most recent ones are kept in a bounded ring buffer for queries.
type MemoryExecutionStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []automation.ExecutionRecord
	cap     int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewExecutionStore creates an execution store that only keeps records in memory.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewExecutionStore(capacity ...int) *MemoryExecutionStore {
	return NewExecutionStoreWithWriter(nil, capacity...)
}

// NewExecutionStoreWithWriter creates an execution store that also writes
// each record to w. A nil w disables the JSON output.
func NewExecutionStoreWithWriter(w io.Writer, capacity ...int) *MemoryExecutionStore {
	c := resolveCapacity(capacity...)
	s := &MemoryExecutionStore{
		writer: w,
		recent: make([]automation.ExecutionRecord, 0, c),
		cap:    c,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Record writes records and appends them to the ring buffer.
func (s *MemoryExecutionStore) Record(ctx context.Context, records ...automation.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		if len(s.recent) >= s.cap {
			// Shift left, drop oldest.
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Recent returns the newest records matching filter, newest first.
// Limit defaults to 100 and is capped there.
func (s *MemoryExecutionStore) Recent(filter automation.ExecutionFilter) []automation.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var result []automation.ExecutionRecord
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		rec := s.recent[i]
		if filter.TenantID != "" && rec.TenantID != filter.TenantID {
			continue
		}
		if filter.RuleID != "" && rec.Result.RuleID != filter.RuleID {
			continue
		}
		result = append(result, rec)
	}
	return result
}

// Close closes the underlying writer unless it is stdout/stderr.
func (s *MemoryExecutionStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		return nil
	}
	if c, ok := s.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Compile-time interface verification.
var _ automation.ExecutionRecorder = (*MemoryExecutionStore)(nil)
