// Package query provides the Flux query client for InfluxDB v2.
//
// Queries are sent to POST /api/v2/query with a CSV dialect and the response
// is decoded by the flux package while it streams in.
//
// # Purpose
//
// This package is the network half of the query path:
//   - Request building (dialect, org, token, gzip)
//   - Structured HTTP errors with Retry-After
//   - Collected, streamed, raw and line-by-line results
//   - Generic mapping of records onto structs via flux/mapper
//   - Prometheus metrics per operation
//
// # Usage
//
//	client, err := query.Connect(ctx, cfg.InfluxDB, cfg.Query)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	tables, err := client.Query(ctx, `from(bucket:"telegraf") |> range(start: -1h)`)
//
//	type cpu struct {
//	    Host  string    `flux:"host"`
//	    Value float64   `flux:"_value"`
//	    Time  time.Time `flux:",timestamp"`
//	}
//	rows, err := query.QueryTo[cpu](ctx, client, nil, flux)
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Consumers passed to
// QueryStream are called on the calling goroutine.
//
// # Error Handling
//
// Non-2xx responses are returned as *HTTPError. Decoding failures surface as
// *flux.ParseError, server-side failures embedded in the CSV as
// *flux.QueryError, and mapping failures as *mapper.MappingError.
package query
