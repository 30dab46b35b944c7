package abac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/abac/logger"
	"github.com/oarkflow/abac/utils"
)

// ============================================================================
// AUDIT TRAIL
// ============================================================================

// AuditStore persists decisions. Implementations must be safe for concurrent use.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditEntry is the immutable record of one decision. The ids of the entities
// that could not be resolved are nil; ResourceURI and ActionName keep what the
// caller asked for.
type AuditEntry struct {
	ID          string         `json:"id"`
	Decision    Effect         `json:"decision"`
	PolicyID    *int64         `json:"policy_id,omitempty"`
	SubjectID   *int64         `json:"user_id,omitempty"`
	ResourceID  *int64         `json:"resource_id,omitempty"`
	ActionID    *int64         `json:"action_id,omitempty"`
	ResourceURI string         `json:"resource_uri,omitempty"`
	ActionName  string         `json:"action_name,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Reason      string         `json:"reason"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AuditFilter selects entries from an AuditStore. Zero fields match anything.
type AuditFilter struct {
	SubjectID  *int64
	ResourceID *int64
	ActionID   *int64
	Decision   Effect
	// ResourceGlob is matched with utils.MatchURI against ResourceURI
	ResourceGlob string
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
}

// Match reports whether e passes the filter
func (f AuditFilter) Match(e *AuditEntry) bool {
	switch {
	case !sameID(f.SubjectID, e.SubjectID),
		!sameID(f.ResourceID, e.ResourceID),
		!sameID(f.ActionID, e.ActionID):
		return false
	case f.Decision != "" && e.Decision != f.Decision:
		return false
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime):
		return false
	case !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime):
		return false
	case f.ResourceGlob != "" && !utils.MatchURI(e.ResourceURI, f.ResourceGlob):
		return false
	}
	return true
}

func sameID(want, got *int64) bool {
	if want == nil {
		return true
	}
	return got != nil && *got == *want
}

// NewAuditEntry stamps a fresh entry with a random id
func NewAuditEntry(ts time.Time) *AuditEntry {
	return &AuditEntry{ID: uuid.NewString(), Timestamp: ts.UTC()}
}

// MemoryAuditStore appends entries to a slice
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(_ context.Context, entry *AuditEntry) error {
	if entry == nil {
		return errors.New("log decision: nil entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(_ context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, entry := range s.entries {
		if !filter.Match(entry) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// Len returns the number of stored entries
func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// NopAuditStore discards every entry
type NopAuditStore struct{}

func (NopAuditStore) LogDecision(context.Context, *AuditEntry) error { return nil }

func (NopAuditStore) GetAccessLog(context.Context, AuditFilter) ([]*AuditEntry, error) {
	return nil, nil
}

// ErrAuditQueueFull is reported when an entry is dropped because the queue is full
var ErrAuditQueueFull = errors.New("audit queue full")

// AuditLogger decouples decision latency from the store. With a positive
// queue size entries are handed to a single worker and dropped when the queue
// is full; with size 0 every entry is written synchronously. Store failures
// are logged and never reach the caller of Record.
type AuditLogger struct {
	store   AuditStore
	log     logger.Logger
	metrics *Metrics
	timeout time.Duration

	queue     chan *AuditEntry
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAuditLogger starts the worker when queueSize > 0
func NewAuditLogger(store AuditStore, queueSize int, log logger.Logger, metrics *Metrics) *AuditLogger {
	if store == nil {
		store = NopAuditStore{}
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	a := &AuditLogger{
		store:   store,
		log:     log,
		metrics: metrics,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	if queueSize > 0 {
		a.queue = make(chan *AuditEntry, queueSize)
		go a.run()
	} else {
		close(a.done)
	}
	return a
}

// Store returns the underlying store
func (a *AuditLogger) Store() AuditStore { return a.store }

// Record enqueues (or writes) entry. It never blocks on a full queue.
func (a *AuditLogger) Record(ctx context.Context, entry *AuditEntry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return a.write(ctx, entry)
	}
	if a.queue == nil {
		return a.write(ctx, entry)
	}
	select {
	case a.queue <- entry:
		return nil
	default:
		a.metrics.auditDropped()
		a.log.Error("audit entry dropped", "id", entry.ID, "decision", string(entry.Decision))
		return ErrAuditQueueFull
	}
}

func (a *AuditLogger) run() {
	defer close(a.done)
	for entry := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		_ = a.write(ctx, entry)
		cancel()
	}
}

func (a *AuditLogger) write(ctx context.Context, entry *AuditEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit store panic: %v", r)
		}
		if err != nil {
			a.metrics.auditFailed()
			a.log.Error("audit write failed", "id", entry.ID, "error", err.Error())
		}
	}()
	return a.store.LogDecision(ctx, entry)
}

// Close stops accepting queued entries and waits for the worker to drain
func (a *AuditLogger) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		if a.queue != nil {
			close(a.queue)
		}
		a.mu.Unlock()
	})
	<-a.done
}
