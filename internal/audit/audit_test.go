package audit

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

func setupEventDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE bridge_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			handle INTEGER NOT NULL DEFAULT 0,
			value TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// ===== Repository =====

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(setupEventDB(t))
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	seed := []*Entry{
		{Type: "connected", Address: "AA:AA:AA:AA:AA:01", CreatedAt: base},
		{Type: "write_failed", Address: "AA:AA:AA:AA:AA:01", Handle: 0x17, Value: "01", Detail: "link closed", CreatedAt: base.Add(time.Minute)},
		{Type: "connected", Address: "AA:AA:AA:AA:AA:02", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range seed {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if !strings.HasPrefix(e.ID, "evt-") {
			t.Errorf("ID = %q, want evt- prefix", e.ID)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 || all.Limit != DefaultLimit {
		t.Fatalf("List() = total %d len %d limit %d", all.Total, len(all.Entries), all.Limit)
	}
	if all.Entries[0].Address != "AA:AA:AA:AA:AA:02" {
		t.Errorf("first entry = %+v, want newest first", all.Entries[0])
	}
	failed := all.Entries[1]
	if failed.Handle != 0x17 || failed.Detail != "link closed" || !failed.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("write_failed entry = %+v", failed)
	}

	tests := []struct {
		name   string
		filter Filter
		total  int
		len    int
	}{
		{"by type", Filter{Type: "connected"}, 2, 2},
		{"by address", Filter{Address: "AA:AA:AA:AA:AA:01"}, 2, 2},
		{"since", Filter{Since: base.Add(time.Minute)}, 2, 2},
		{"paged", Filter{Limit: 1, Offset: 1}, 3, 1},
		{"offset past end", Filter{Offset: 10}, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if got.Total != tt.total || len(got.Entries) != tt.len {
				t.Errorf("total = %d len = %d, want %d and %d", got.Total, len(got.Entries), tt.total, tt.len)
			}
		})
	}
}

func TestClampFilter(t *testing.T) {
	f := clampFilter(Filter{Limit: 10000, Offset: -3})
	if f.Limit != MaxLimit || f.Offset != 0 {
		t.Errorf("clampFilter() = %+v", f)
	}
}

func TestSQLiteRepository_Prune(t *testing.T) {
	repo := NewSQLiteRepository(setupEventDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		if err := repo.Create(ctx, &Entry{Type: "connected", CreatedAt: now.Add(-age)}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	n, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}
	left, _ := repo.List(ctx, Filter{}) //nolint:errcheck // checked via Total
	if left.Total != 1 {
		t.Errorf("remaining = %d, want 1", left.Total)
	}
}

// ===== Recorder =====

// memRepo is an in-memory Repository.
type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	pruned  int
	block   chan struct{}
	err     error
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &ListResult{Entries: append([]Entry(nil), m.entries...), Total: len(m.entries)}, nil
}

func (m *memRepo) Prune(context.Context, time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned++
	return 0, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type errorLog struct {
	mu   sync.Mutex
	msgs []string
}

func (l *errorLog) Info(string, ...any) {}
func (l *errorLog) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func TestRecorder_WritesEvents(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(RecorderOptions{Repository: repo, Retention: time.Hour})
	r.Start()
	r.Start()

	ts := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	r.RecordEvent(ble.Event{Type: ble.EventConnected, Address: "AA:AA:AA:AA:AA:01", Timestamp: ts})
	r.RecordEvent(ble.Event{Type: ble.EventWriteFailed, Address: "AA:AA:AA:AA:AA:01", Handle: 0x17, Detail: "busy"})

	if !waitFor(time.Second, func() bool { return repo.count() == 2 }) {
		t.Fatalf("entries = %d, want 2", repo.count())
	}
	r.Stop()
	r.Stop()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.entries[0].Type != "connected" || !repo.entries[0].CreatedAt.Equal(ts) {
		t.Errorf("first = %+v", repo.entries[0])
	}
	if repo.entries[1].Handle != 0x17 || repo.entries[1].Detail != "busy" {
		t.Errorf("second = %+v", repo.entries[1])
	}
	if repo.pruned == 0 {
		t.Error("retention set but prune never ran")
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	repo := &memRepo{block: make(chan struct{})}
	r := NewRecorder(RecorderOptions{Repository: repo, QueueSize: 2})
	r.Start()

	// The writer takes the first event and blocks; two more fill the queue.
	r.RecordEvent(ble.Event{Type: ble.EventConnected})
	if !waitFor(time.Second, func() bool { return len(r.queue) == 0 }) {
		t.Fatal("writer did not take the first event")
	}
	for i := 0; i < 5; i++ {
		r.RecordEvent(ble.Event{Type: ble.EventDisconnected})
	}
	if r.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", r.Dropped())
	}

	close(repo.block)
	r.Stop()
	if repo.count() != 3 {
		t.Errorf("entries = %d, want 3 (queued events drained on Stop)", repo.count())
	}
}

func TestRecorder_LogsWriteErrors(t *testing.T) {
	repo := &memRepo{err: errors.New("disk full")}
	log := &errorLog{}
	r := NewRecorder(RecorderOptions{Repository: repo, Logger: log})
	r.Start()
	r.RecordEvent(ble.Event{Type: ble.EventConnected})
	r.Stop()

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.msgs) != 1 {
		t.Errorf("logged %v, want one error", log.msgs)
	}
}

func TestRecorder_IgnoresEventsAfterStop(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(RecorderOptions{Repository: repo})
	r.Start()
	r.Stop()
	r.RecordEvent(ble.Event{Type: ble.EventConnected})
	if len(r.queue) != 0 || repo.count() != 0 {
		t.Error("event accepted after Stop")
	}
}

func TestRecorder_PersistsToSQLite(t *testing.T) {
	repo := NewSQLiteRepository(setupEventDB(t))
	r := NewRecorder(RecorderOptions{Repository: repo})
	r.Start()
	r.RecordEvent(ble.Event{Type: ble.EventDiscoveryDone, Address: "AA:AA:AA:AA:AA:03", Timestamp: time.Now().UTC()})
	r.Stop()

	got, err := repo.List(context.Background(), Filter{Type: string(ble.EventDiscoveryDone)})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got.Total != 1 || got.Entries[0].Address != "AA:AA:AA:AA:AA:03" {
		t.Errorf("List() = %+v", got)
	}
}
