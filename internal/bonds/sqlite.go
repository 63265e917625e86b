package bonds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// SQLiteRepository stores bonds in the bonds table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed bond repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Bonds returns every bonded address.
func (r *SQLiteRepository) Bonds(ctx context.Context) ([]ble.Address, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return addresses(list), nil
}

// List returns all bonds ordered by address.
func (r *SQLiteRepository) List(ctx context.Context) ([]Bond, error) {
	const query = `SELECT address, name, created_at FROM bonds ORDER BY address`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying bonds: %w", err)
	}
	defer rows.Close()

	var out []Bond
	for rows.Next() {
		var (
			addr    string
			b       Bond
			created int64
		)
		if err := rows.Scan(&addr, &b.Name, &created); err != nil {
			return nil, fmt.Errorf("scanning bond: %w", err)
		}
		if b.Address, err = ble.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("bond %q: %w", addr, err)
		}
		b.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// Add inserts a bond. CreatedAt is set if zero.
func (r *SQLiteRepository) Add(ctx context.Context, bond *Bond) error {
	if bond.Address.IsZero() {
		return fmt.Errorf("bond: %w", ble.ErrInvalidAddress)
	}
	if bond.CreatedAt.IsZero() {
		bond.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO bonds (address, name, created_at) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, bond.Address.String(), bond.Name, bond.CreatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrBondExists, bond.Address)
		}
		return fmt.Errorf("inserting bond %s: %w", bond.Address, err)
	}
	return nil
}

// Remove deletes a bond. A connected peer stays connected until it drops.
func (r *SQLiteRepository) Remove(ctx context.Context, addr ble.Address) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bonds WHERE address = ?`, addr.String())
	if err != nil {
		return fmt.Errorf("deleting bond %s: %w", addr, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting bond %s: %w", addr, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrBondNotFound, addr)
	}
	return nil
}

// Get returns a single bond.
func (r *SQLiteRepository) Get(ctx context.Context, addr ble.Address) (*Bond, error) {
	const query = `SELECT name, created_at FROM bonds WHERE address = ?`
	b := Bond{Address: addr}
	var created int64
	err := r.db.QueryRowContext(ctx, query, addr.String()).Scan(&b.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBondNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("querying bond %s: %w", addr, err)
	}
	b.CreatedAt = time.Unix(created, 0).UTC()
	return &b, nil
}
