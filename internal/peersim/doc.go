// Package peersim simulates bonded BLE peripherals in process.
//
// It implements the bridge's Central and Link interfaces on top of an
// in-memory GATT database so the whole bridge can run without a radio, both
// in tests and with `blebridge -simulate`.
//
// Two device models are provided:
//
//   - CO2Sensor: four read/notify characteristics (meter status, alarm
//     status, output status, space CO2) carrying little-endian uint16 values.
//   - Dehumidifier: ionizer, fan and compressor (read/write/notify, one byte)
//     and a read-only waterbox level switch. Writes are validated and a full
//     waterbox blocks every actuator.
//
// # Handle Layout
//
// Each service starts at a base handle with its primary service
// declaration. Every characteristic then takes three handles: declaration,
// value, CCC descriptor.
package peersim
