// Package influxdb provides the InfluxDB write path for fluxquery.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, point writing and health monitoring. Reading goes through the
// query package, which decodes annotated CSV itself.
//
// # Purpose
//
// This package handles:
//   - Writing line protocol from files or stdin (fluxquery write)
//   - Rebuilding points from decoded records to copy query results or
//     restore snapshots into a bucket
//   - Ping based health checks (fluxquery ping, /health)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WriteLines(ctx, "cpu,host=a usage=1.5")
//
//	n, err := client.WriteTables(tables)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// WriteLines is synchronous and returns server rejections wrapped in
// ErrWriteFailed. Points queued with WritePoint or WriteTables are batched;
// their failures reach the callback set with SetOnError.
package influxdb
