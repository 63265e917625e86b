// Package ble implements the Bluetooth LE to MQTT bridge.
//
// The bridge connects to previously bonded peers, subscribes to every
// attribute that supports notifications and republishes the values as
// retained MQTT state. Control messages published to the bus are written
// back to the peers.
//
// # Architecture
//
//	┌─────────────┐   MQTT   ┌─────────────────┐   GATT   ┌──────────┐
//	│   Broker    │◄────────►│   BLE Bridge    │◄────────►│  Peers   │
//	└─────────────┘          │   (this pkg)    │          └──────────┘
//	                         └─────────────────┘
//
// # Components
//
//   - Pool: fixed table of peer connections addressed by generation-checked
//     SlotRef handles
//   - Step / RunDiscovery: attribute discovery as a pure transition
//     function plus a driver that keeps one request outstanding per peer
//   - Relay: notification subscriptions and state publishing
//   - Dispatcher: asynchronous attribute writes with bounded entries
//   - Scanner: passive scan for bonded advertisers, one dial at a time
//   - Topics: topic and payload codec
//
// # Topics
//
//	bridge/<addr>/<handle>/state   retained, QoS 1, lowercase hex value
//	bridge/<addr>/connected        retained, QoS 1, "01" or "00"
//	bridge/<addr>/<handle>/set     inbound, hex payload up to 5 bytes
//	bridge/_bridge/health          retained JSON health document
//
// <addr> is the colon form "AA:BB:CC:DD:EE:FF"; <handle> is four lowercase
// hex digits.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Slot state is guarded by
// a single pool mutex and no link call is made while it is held.
package ble
