package bonds

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// Bond is one authorised peer.
type Bond struct {
	Address   ble.Address `json:"address"`
	Name      string      `json:"name,omitempty"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

// Source lists bonds. Bonds returns only the addresses and is what the
// scanner calls; List returns the full records for the API.
type Source interface {
	Bonds(ctx context.Context) ([]ble.Address, error)
	List(ctx context.Context) ([]Bond, error)
}

// Editor is implemented by sources that can be changed at runtime.
type Editor interface {
	Add(ctx context.Context, bond *Bond) error
	Remove(ctx context.Context, addr ble.Address) error
}

func addresses(bonds []Bond) []ble.Address {
	out := make([]ble.Address, len(bonds))
	for i, b := range bonds {
		out[i] = b.Address
	}
	return out
}
