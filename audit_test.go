package abac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/oarkflow/abac/logger"
)

func TestAuditFilterMatch(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &AuditEntry{
		Decision:    EffectAllow,
		SubjectID:   int64Ptr(3),
		ResourceID:  int64Ptr(5),
		ActionID:    int64Ptr(2),
		ResourceURI: "/abac/policies",
		Timestamp:   ts,
	}
	cases := []struct {
		name   string
		filter AuditFilter
		want   bool
	}{
		{"empty", AuditFilter{}, true},
		{"subject", AuditFilter{SubjectID: int64Ptr(3)}, true},
		{"other subject", AuditFilter{SubjectID: int64Ptr(4)}, false},
		{"resource and action", AuditFilter{ResourceID: int64Ptr(5), ActionID: int64Ptr(2)}, true},
		{"decision", AuditFilter{Decision: EffectDeny}, false},
		{"window", AuditFilter{StartTime: ts.Add(-time.Minute), EndTime: ts.Add(time.Minute)}, true},
		{"before window", AuditFilter{StartTime: ts.Add(time.Second)}, false},
		{"after window", AuditFilter{EndTime: ts.Add(-time.Second)}, false},
		{"glob", AuditFilter{ResourceGlob: "/abac/*"}, true},
		{"glob miss", AuditFilter{ResourceGlob: "/api/**"}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Match(e); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}

	unresolved := &AuditEntry{SubjectID: int64Ptr(99)}
	if (AuditFilter{ResourceID: int64Ptr(5)}).Match(unresolved) {
		t.Fatalf("an entry without a resource id must not match a resource filter")
	}
}

func TestMemoryAuditStoreLimit(t *testing.T) {
	store := NewMemoryAuditStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := NewAuditEntry(time.Now())
		e.Decision = EffectDeny
		if err := store.LogDecision(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := store.GetAccessLog(ctx, AuditFilter{Limit: 3})
	if len(got) != 3 {
		t.Fatalf("limit ignored: %d", len(got))
	}
	if err := store.LogDecision(ctx, nil); err == nil {
		t.Fatalf("expected error for nil entry")
	}
}

// blockingStore holds every write until release is closed
type blockingStore struct {
	MemoryAuditStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore() *blockingStore {
	return &blockingStore{started: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingStore) LogDecision(ctx context.Context, e *AuditEntry) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.MemoryAuditStore.LogDecision(ctx, e)
}

func TestAuditLoggerDropsWhenFull(t *testing.T) {
	store := newBlockingStore()
	metrics := NewMetrics("test")
	log := logger.NewMemoryLogger()
	a := NewAuditLogger(store, 1, log, metrics)
	ctx := context.Background()

	if err := a.Record(ctx, NewAuditEntry(time.Now())); err != nil {
		t.Fatal(err)
	}
	<-store.started // the worker holds the first entry
	if err := a.Record(ctx, NewAuditEntry(time.Now())); err != nil {
		t.Fatalf("second entry should fit in the queue: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.Record(ctx, NewAuditEntry(time.Now())) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrAuditQueueFull) {
			t.Fatalf("expected ErrAuditQueueFull, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Record blocked on a full queue")
	}
	if got := testutil.ToFloat64(metrics.auditDrops); got != 1 {
		t.Fatalf("dropped = %v", got)
	}

	close(store.release)
	a.Close()
	if n := store.Len(); n != 2 {
		t.Fatalf("expected 2 persisted entries, got %d", n)
	}
	if log.Count("error") != 1 {
		t.Fatalf("the drop should be logged")
	}
}

func TestAuditLoggerCloseDrains(t *testing.T) {
	store := NewMemoryAuditStore()
	a := NewAuditLogger(store, 64, nil, nil)
	for i := 0; i < 50; i++ {
		if err := a.Record(context.Background(), NewAuditEntry(time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	a.Close()
	a.Close()
	if store.Len() != 50 {
		t.Fatalf("expected 50 entries after Close, got %d", store.Len())
	}
	// after Close entries are written inline
	if err := a.Record(context.Background(), NewAuditEntry(time.Now())); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 51 {
		t.Fatalf("record after close was lost")
	}
}

type failingStore struct{ panics bool }

func (s failingStore) LogDecision(context.Context, *AuditEntry) error {
	if s.panics {
		panic("disk on fire")
	}
	return errors.New("disk full")
}

func (failingStore) GetAccessLog(context.Context, AuditFilter) ([]*AuditEntry, error) {
	return nil, nil
}

func TestAuditLoggerCountsFailures(t *testing.T) {
	for _, panics := range []bool{false, true} {
		metrics := NewMetrics("test")
		log := logger.NewMemoryLogger()
		a := NewAuditLogger(failingStore{panics: panics}, 0, log, metrics)
		if err := a.Record(context.Background(), NewAuditEntry(time.Now())); err == nil {
			t.Fatalf("synchronous write should report the failure")
		}
		a.Close()
		if got := testutil.ToFloat64(metrics.auditFailures); got != 1 {
			t.Fatalf("panics=%v: failures = %v", panics, got)
		}
		if log.Count("error") != 1 {
			t.Fatalf("panics=%v: failure not logged", panics)
		}
	}
}

func TestEngineSurvivesAuditFailure(t *testing.T) {
	f := newFixture(t)
	engine, err := NewEngine(f.dir, failingStore{panics: true}, WithAuditQueueSize(0))
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()
	resp := engine.EvaluateAccess(context.Background(), AuthorizationRequest{SubjectID: 1, ResourceURI: "/api/users", ActionName: "read"})
	if resp.Decision != EffectAllow {
		t.Fatalf("audit failure changed the decision: %+v", resp)
	}
}
