package ble

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// AttributeStore records the notifiable attributes of every peer the bridge
// has served, with the last value seen. It backs the peer attribute listing
// of the API and survives restarts.
//
// Thread Safety: All methods are safe for concurrent use.
type AttributeStore struct {
	db     *sql.DB
	logger Logger

	// Prepared statements for upserts (created once, reused)
	subscriptionStmt *sql.Stmt
	notificationStmt *sql.Stmt
	stmtMu           sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// RecordedAttribute is one row of the attribute store.
type RecordedAttribute struct {
	Address           string    `json:"address"`
	ValueHandle       uint16    `json:"value_handle"`
	CCCHandle         uint16    `json:"ccc_handle"`
	LastValue         string    `json:"last_value,omitempty"`
	NotificationCount int64     `json:"notification_count"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
}

// NewAttributeStore creates a store. The database must have the
// peer_attributes table created.
func NewAttributeStore(db *sql.DB) *AttributeStore {
	return &AttributeStore{db: db}
}

// SetLogger sets the logger for the store.
func (r *AttributeStore) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the store for use. Must be called before recording.
func (r *AttributeStore) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.subscriptionStmt != nil {
		return nil
	}

	subStmt, err := r.db.Prepare(`
		INSERT INTO peer_attributes (address, value_handle, ccc_handle, notification_count, first_seen, last_seen)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(address, value_handle) DO UPDATE SET
			ccc_handle = excluded.ccc_handle,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("preparing subscription upsert statement: %w", err)
	}

	notifyStmt, err := r.db.Prepare(`
		INSERT INTO peer_attributes (address, value_handle, ccc_handle, last_value, notification_count, first_seen, last_seen)
		VALUES (?, ?, 0, ?, 1, ?, ?)
		ON CONFLICT(address, value_handle) DO UPDATE SET
			last_value = excluded.last_value,
			notification_count = notification_count + 1,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		subStmt.Close()
		return fmt.Errorf("preparing notification upsert statement: %w", err)
	}

	r.subscriptionStmt = subStmt
	r.notificationStmt = notifyStmt
	r.log("attribute store started")
	return nil
}

// Stop closes the prepared statements. Recording after Stop is a no-op.
func (r *AttributeStore) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.subscriptionStmt != nil {
		r.subscriptionStmt.Close()
		r.subscriptionStmt = nil
	}
	if r.notificationStmt != nil {
		r.notificationStmt.Close()
		r.notificationStmt = nil
	}
}

// RecordSubscription implements AttributeRecorder.
func (r *AttributeStore) RecordSubscription(addr Address, valueHandle, cccHandle uint16) {
	stmt := r.stmt(func() *sql.Stmt { return r.subscriptionStmt })
	if stmt == nil {
		return
	}
	now := time.Now().Unix()
	if _, err := stmt.Exec(addr.String(), valueHandle, cccHandle, now, now); err != nil {
		r.logError("recording subscription", err)
	}
}

// RecordNotification implements AttributeRecorder.
func (r *AttributeStore) RecordNotification(addr Address, valueHandle uint16, value []byte) {
	stmt := r.stmt(func() *sql.Stmt { return r.notificationStmt })
	if stmt == nil {
		return
	}
	now := time.Now().Unix()
	if _, err := stmt.Exec(addr.String(), valueHandle, hex.EncodeToString(value), now, now); err != nil {
		r.logError("recording notification", err)
	}
}

func (r *AttributeStore) stmt(pick func() *sql.Stmt) *sql.Stmt {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil
	}

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	return pick()
}

// Attributes returns the recorded attributes of addr, or of every peer
// when addr is the zero address, ordered by address and handle.
func (r *AttributeStore) Attributes(ctx context.Context, addr Address) ([]RecordedAttribute, error) {
	query := `
		SELECT address, value_handle, ccc_handle, COALESCE(last_value, ''), notification_count, first_seen, last_seen
		FROM peer_attributes`
	var args []any
	if !addr.IsZero() {
		query += ` WHERE address = ?`
		args = append(args, addr.String())
	}
	query += ` ORDER BY address, value_handle`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attributes: %w", err)
	}
	defer rows.Close()

	var out []RecordedAttribute
	for rows.Next() {
		var (
			a                   RecordedAttribute
			firstSeen, lastSeen int64
		)
		if err := rows.Scan(&a.Address, &a.ValueHandle, &a.CCCHandle, &a.LastValue, &a.NotificationCount, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning attribute: %w", err)
		}
		a.FirstSeen = time.Unix(firstSeen, 0).UTC()
		a.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// log logs an info message if logger is set.
func (r *AttributeStore) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (r *AttributeStore) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
