// Package bonds provides the list of peers the bridge may connect to.
//
// Pairing is out of scope: this package only reads bonds created elsewhere.
// Three sources are available, selected by bluetooth.bonds.source:
//
//   - config: a static address list from the YAML file
//   - sqlite: the bonds table, editable through the status API
//   - bluez: paired devices known to the BlueZ daemon, read over D-Bus
//
// Every source satisfies ble.BondSource. The scanner re-reads the list on
// every scan, so changes take effect without a restart.
package bonds
