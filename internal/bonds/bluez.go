package bonds

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

const (
	bluezService    = "org.bluez"
	bluezDevice     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// objectLister fetches the BlueZ object tree.
type objectLister interface {
	ManagedObjects(ctx context.Context) (managedObjects, error)
}

// BlueZSource lists devices the BlueZ daemon reports as paired (and
// optionally only those on one adapter).
type BlueZSource struct {
	objects objectLister
	adapter string
}

// NewBlueZSource connects to the system bus. Adapter filters devices by
// adapter name ("hci0"); empty accepts every adapter.
func NewBlueZSource(adapter string) (*BlueZSource, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	return &BlueZSource{objects: busLister{conn: conn}, adapter: adapter}, nil
}

// Bonds returns the addresses of paired devices.
func (s *BlueZSource) Bonds(ctx context.Context) ([]ble.Address, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return addresses(list), nil
}

// List returns paired devices ordered by address.
func (s *BlueZSource) List(ctx context.Context) ([]Bond, error) {
	objs, err := s.objects.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}

	var out []Bond
	for path, ifaces := range objs {
		if s.adapter != "" && !strings.HasPrefix(string(path), "/org/bluez/"+s.adapter+"/") {
			continue
		}
		if b, ok := bondFromDevice(ifaces[bluezDevice]); ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out, nil
}

// bondFromDevice extracts a bond from Device1 properties. Devices that are
// not paired or have an unparseable address are skipped.
func bondFromDevice(props map[string]dbus.Variant) (Bond, bool) {
	if props == nil {
		return Bond{}, false
	}
	if paired, _ := props["Paired"].Value().(bool); !paired {
		return Bond{}, false
	}
	s, _ := props["Address"].Value().(string)
	addr, err := ble.ParseAddress(s)
	if err != nil {
		return Bond{}, false
	}
	b := Bond{Address: addr}
	if alias, ok := props["Alias"].Value().(string); ok {
		b.Name = alias
	} else if name, ok := props["Name"].Value().(string); ok {
		b.Name = name
	}
	return b, true
}

type busLister struct {
	conn *dbus.Conn
}

func (l busLister) ManagedObjects(ctx context.Context) (managedObjects, error) {
	var objs managedObjects
	call := l.conn.Object(bluezService, dbus.ObjectPath("/")).CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}
