package ble

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupAttributeDB creates an in-memory SQLite database with the required tables.
func setupAttributeDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS peer_attributes (
			address TEXT NOT NULL,
			value_handle INTEGER NOT NULL,
			ccc_handle INTEGER NOT NULL DEFAULT 0,
			last_value TEXT,
			notification_count INTEGER NOT NULL DEFAULT 0,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			PRIMARY KEY (address, value_handle)
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// captureLogger records Error calls.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Warn(string, ...any)  {}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *captureLogger) errorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

func TestAttributeStore_LogsRecordingFailures(t *testing.T) {
	db := setupAttributeDB(t)
	store := NewAttributeStore(db)
	logger := &captureLogger{}
	store.SetLogger(logger)
	if err := store.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer store.Stop()

	if _, err := db.Exec(`DROP TABLE peer_attributes`); err != nil {
		t.Fatalf("dropping table: %v", err)
	}

	store.RecordSubscription(testAddr, 0x11, 0x12)
	store.RecordNotification(testAddr, 0x11, []byte{1})

	got := logger.errorMessages()
	want := []string{"recording subscription", "recording notification"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("logged errors = %v, want %v", got, want)
	}
}

func TestAttributeStore_StartStop(t *testing.T) {
	db := setupAttributeDB(t)
	store := NewAttributeStore(db)

	if err := store.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := store.Start(); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	store.Stop()

	// Recording after Stop is ignored.
	store.RecordNotification(testAddr, 0x12, []byte{1})
	attrs, err := store.Attributes(context.Background(), Address{})
	if err != nil {
		t.Fatalf("Attributes() error: %v", err)
	}
	if len(attrs) != 0 {
		t.Errorf("Attributes() = %+v, want none", attrs)
	}
}

func TestAttributeStore_RecordsSubscriptionsAndValues(t *testing.T) {
	db := setupAttributeDB(t)
	store := NewAttributeStore(db)
	if err := store.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer store.Stop()

	other := MustParseAddress("11:22:33:44:55:66")

	store.RecordSubscription(testAddr, 0x0013, 0x0014)
	store.RecordSubscription(testAddr, 0x0016, 0x0017)
	store.RecordNotification(testAddr, 0x0013, []byte{0x01, 0x02})
	store.RecordNotification(testAddr, 0x0013, []byte{0x03, 0x04})
	store.RecordNotification(other, 0x0020, []byte{0xff})

	ctx := context.Background()
	attrs, err := store.Attributes(ctx, testAddr)
	if err != nil {
		t.Fatalf("Attributes() error: %v", err)
	}
	if len(attrs) != 2 {
		t.Fatalf("Attributes() len = %d, want 2", len(attrs))
	}

	first := attrs[0]
	if first.ValueHandle != 0x0013 || first.CCCHandle != 0x0014 {
		t.Errorf("first = %+v", first)
	}
	if first.LastValue != "0304" || first.NotificationCount != 2 {
		t.Errorf("first value = %q count = %d, want 0304 and 2", first.LastValue, first.NotificationCount)
	}
	if attrs[1].NotificationCount != 0 || attrs[1].LastValue != "" {
		t.Errorf("second = %+v, want no notifications", attrs[1])
	}

	all, err := store.Attributes(ctx, Address{})
	if err != nil {
		t.Fatalf("Attributes(all) error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Attributes(all) len = %d, want 3", len(all))
	}
}
