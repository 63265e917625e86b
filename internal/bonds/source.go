package bonds

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/config"
)

// New builds the source selected by cfg. db is required for the sqlite
// source; adapter names the HCI adapter for the bluez source.
func New(cfg config.BondsConfig, db *sql.DB, adapter string) (Source, error) {
	switch cfg.Source {
	case config.BondSourceConfig, "":
		s, err := NewStaticSource(cfg.Addresses)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BondSourceSQLite:
		if db == nil {
			return nil, errors.New("sqlite bond source requires a database")
		}
		return NewSQLiteRepository(db), nil
	case config.BondSourceBlueZ:
		s, err := NewBlueZSource(adapter)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
	}
}
