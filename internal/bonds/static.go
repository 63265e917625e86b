package bonds

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// StaticSource is a bond list fixed at startup.
type StaticSource struct {
	bonds []Bond
}

// NewStaticSource parses a list of addresses. Duplicates are dropped.
func NewStaticSource(addrs []string) (*StaticSource, error) {
	s := &StaticSource{}
	seen := make(map[ble.Address]bool, len(addrs))
	for _, a := range addrs {
		addr, err := ble.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("bond %q: %w", a, err)
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		s.bonds = append(s.bonds, Bond{Address: addr})
	}
	return s, nil
}

// Bonds returns the configured addresses.
func (s *StaticSource) Bonds(context.Context) ([]ble.Address, error) {
	return addresses(s.bonds), nil
}

// List returns the configured bonds.
func (s *StaticSource) List(context.Context) ([]Bond, error) {
	out := make([]Bond, len(s.bonds))
	copy(out, s.bonds)
	return out, nil
}
