// Package api implements the HTTP gateway in front of the Flux query client.
//
// This package provides:
//   - POST /api/v1/query: run a query and return decoded tables as JSON
//   - POST /api/v1/query/raw: run a query and return the annotated CSV
//   - /api/v1/snapshots: store, list, load and delete query results
//   - a WebSocket stream (websocket.path) that pushes tables and records
//     while the response is still being parsed
//   - GET /api/v1/health, GET /api/v1/system and a Prometheus /metrics endpoint
//
// # WebSocket protocol
//
// Clients send
//
//	{"type": "query", "id": "q1", "payload": {"query": "from(bucket:\"b\") |> range(start:-1h)"}}
//
// and receive one "table" message per table, one "record" message per
// record, then "done" with the totals. A failed query ends with "error".
// {"type": "cancel", "id": "q1"} stops a running query.
//
// # Graceful Degradation
//
// The snapshot store is optional. Without it the snapshot routes answer 503
// and everything else keeps working.
package api
