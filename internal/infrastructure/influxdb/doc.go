// Package influxdb records lighting telemetry (channel levels, room scenes
// and hub connection changes) in InfluxDB v2.
//
// Telemetry is optional. Connect returns ErrDisabled when the influxdb
// section is not enabled, and the bridge runs without it.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteLevel(3, 2, 128)
//	client.WriteScene(3, 1)
package influxdb
