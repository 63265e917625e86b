// Package goble adapts the go-ble HCI stack to the bridge's Central and Link
// interfaces.
//
// # Discovery
//
// go-ble has no ranged ATT discovery primitive. The first Discover call on a
// link walks the whole GATT profile once (DiscoverProfile) and every ranged
// request, including the CCC-filtered descriptor lookups, is answered from
// that cached profile in handle order. The discovery state machine above is
// unaware of this and still issues one request at a time.
//
// # Platform
//
// Only Linux is supported. On other platforms NewCentral returns
// ErrUnsupportedPlatform so the bridge can fall back to the simulator.
package goble
