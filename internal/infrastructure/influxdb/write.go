package influxdb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAttribute is the measurement holding notification values.
const MeasurementAttribute = "ble_attribute"

// WriteAttributeValue records one notification.
//
// The point is tagged with the peer address and the value handle (four
// hex digits, as in the state topic). The raw value is always stored as
// hex; two-byte values are additionally decoded as little-endian uint16,
// the encoding every known peer uses for its registers.
func (c *Client) WriteAttributeValue(addr string, handle uint16, value []byte) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(attributePoint(addr, handle, value, time.Now()))
}

func attributePoint(addr string, handle uint16, value []byte, ts time.Time) *write.Point {
	fields := map[string]any{
		"raw":    hex.EncodeToString(value),
		"length": int64(len(value)),
	}
	if len(value) == 2 { //nolint:mnd // u16 register
		fields["value"] = int64(binary.LittleEndian.Uint16(value))
	}
	return write.NewPoint(
		MeasurementAttribute,
		map[string]string{
			"address": addr,
			"handle":  fmt.Sprintf("%04x", handle),
		},
		fields,
		ts,
	)
}
