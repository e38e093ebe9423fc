// Package influxdb exports simulated sensor readings to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Only numeric READ
// results (temperature and voltage) are written; LED and expander readings
// are textual and skipped.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("TEMP", "0X02", reading)
//
// *Client satisfies dispatch.Telemetry.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// errors are delivered to the SetOnError callback.
package influxdb
