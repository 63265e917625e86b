// Package influxdb stores relayed attribute values in InfluxDB v2.
//
// Each notification becomes one ble_attribute point:
//
//	ble_attribute,address=AA:BB:CC:DD:EE:FF,handle=0013 length=2i,raw="d007",value=2000i
//
// The sink is optional and never blocks the relay: points are batched
// (batch_size, flush_interval) and write errors are reported through a
// callback rather than returned.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
package influxdb
