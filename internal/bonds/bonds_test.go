package bonds

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
	"github.com/nerrad567/gray-logic-blebridge/internal/infrastructure/config"
)

var (
	addrA = ble.MustParseAddress("AA:BB:CC:DD:EE:01")
	addrB = ble.MustParseAddress("AA:BB:CC:DD:EE:02")
)

// setupTestDB creates an in-memory SQLite database with the bonds table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE bonds (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ===== Static =====

func TestStaticSource(t *testing.T) {
	s, err := NewStaticSource([]string{"aa:bb:cc:dd:ee:01", "AA-BB-CC-DD-EE-02", "AA:BB:CC:DD:EE:01"})
	if err != nil {
		t.Fatalf("NewStaticSource() error = %v", err)
	}
	got, _ := s.Bonds(context.Background())
	if len(got) != 2 || got[0] != addrA || got[1] != addrB {
		t.Errorf("Bonds() = %v, want [%s %s]", got, addrA, addrB)
	}

	if _, err := NewStaticSource([]string{"not-a-mac"}); !errors.Is(err, ble.ErrInvalidAddress) {
		t.Errorf("NewStaticSource(invalid) error = %v, want ErrInvalidAddress", err)
	}
}

// ===== SQLite =====

func TestSQLiteRepository_AddListRemove(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Add(ctx, &Bond{Address: addrB, Name: "dehumidifier"}); err != nil {
		t.Fatalf("Add(B) error = %v", err)
	}
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := repo.Add(ctx, &Bond{Address: addrA, Name: "co2", CreatedAt: created}); err != nil {
		t.Fatalf("Add(A) error = %v", err)
	}
	if err := repo.Add(ctx, &Bond{Address: addrA}); !errors.Is(err, ErrBondExists) {
		t.Errorf("Add(duplicate) error = %v, want ErrBondExists", err)
	}
	if err := repo.Add(ctx, &Bond{}); !errors.Is(err, ble.ErrInvalidAddress) {
		t.Errorf("Add(zero) error = %v, want ErrInvalidAddress", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Address != addrA || list[0].Name != "co2" || !list[0].CreatedAt.Equal(created) {
		t.Errorf("List() = %+v", list)
	}

	got, err := repo.Get(ctx, addrB)
	if err != nil || got.Name != "dehumidifier" {
		t.Errorf("Get() = %+v, %v", got, err)
	}

	if err := repo.Remove(ctx, addrA); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := repo.Remove(ctx, addrA); !errors.Is(err, ErrBondNotFound) {
		t.Errorf("Remove(missing) error = %v, want ErrBondNotFound", err)
	}
	if _, err := repo.Get(ctx, addrA); !errors.Is(err, ErrBondNotFound) {
		t.Errorf("Get(removed) error = %v, want ErrBondNotFound", err)
	}

	addrs, err := repo.Bonds(ctx)
	if err != nil || len(addrs) != 1 || addrs[0] != addrB {
		t.Errorf("Bonds() = %v, %v", addrs, err)
	}
}

// ===== BlueZ =====

type fakeLister struct {
	objs managedObjects
	err  error
}

func (f fakeLister) ManagedObjects(context.Context) (managedObjects, error) {
	return f.objs, f.err
}

func device(addr string, paired bool, alias string) map[string]map[string]dbus.Variant {
	props := map[string]dbus.Variant{
		"Address": dbus.MakeVariant(addr),
		"Paired":  dbus.MakeVariant(paired),
	}
	if alias != "" {
		props["Alias"] = dbus.MakeVariant(alias)
	}
	return map[string]map[string]dbus.Variant{bluezDevice: props}
}

func TestBlueZSource_ListsPairedDevices(t *testing.T) {
	s := &BlueZSource{objects: fakeLister{objs: managedObjects{
		"/org/bluez/hci0":                       {"org.bluez.Adapter1": {}},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_02": device("AA:BB:CC:DD:EE:02", true, "dehumidifier"),
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_01": device("AA:BB:CC:DD:EE:01", true, ""),
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_03": device("AA:BB:CC:DD:EE:03", false, "stranger"),
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_04": device("AA:BB:CC:DD:EE:04", true, ""),
	}}, adapter: "hci0"}

	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Address != addrA || list[1].Address != addrB {
		t.Fatalf("List() = %+v, want paired hci0 devices A and B", list)
	}
	if list[1].Name != "dehumidifier" {
		t.Errorf("Name = %q, want alias", list[1].Name)
	}

	s.adapter = ""
	addrs, _ := s.Bonds(context.Background())
	if len(addrs) != 3 {
		t.Errorf("Bonds() without adapter filter = %v, want 3", addrs)
	}
}

func TestBlueZSource_PropagatesBusErrors(t *testing.T) {
	busErr := errors.New("bluez: GetManagedObjects: org.freedesktop.DBus.Error.ServiceUnknown")
	s := &BlueZSource{objects: fakeLister{err: busErr}}
	if _, err := s.Bonds(context.Background()); !errors.Is(err, busErr) {
		t.Errorf("Bonds() error = %v, want bus error", err)
	}
}

// ===== Factory =====

func TestNew(t *testing.T) {
	db := setupTestDB(t)

	src, err := New(config.BondsConfig{Source: config.BondSourceConfig, Addresses: []string{"AA:BB:CC:DD:EE:01"}}, nil, "")
	if err != nil {
		t.Fatalf("New(config) error = %v", err)
	}
	if _, ok := src.(*StaticSource); !ok {
		t.Errorf("New(config) = %T", src)
	}

	src, err = New(config.BondsConfig{Source: config.BondSourceSQLite}, db, "")
	if err != nil {
		t.Fatalf("New(sqlite) error = %v", err)
	}
	if _, ok := src.(Editor); !ok {
		t.Error("sqlite source is not editable")
	}

	if _, err := New(config.BondsConfig{Source: config.BondSourceSQLite}, nil, ""); err == nil {
		t.Error("New(sqlite) without database should fail")
	}
	if _, err := New(config.BondsConfig{Source: "ldap"}, nil, ""); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("New(ldap) error = %v, want ErrUnknownSource", err)
	}
}
