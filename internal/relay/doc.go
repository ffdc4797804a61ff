// Package relay publishes Flux query results over MQTT.
//
// A Service runs a configured query once or on an interval and publishes
// every record as a JSON object to {prefix}/records/{table}. After each run
// a Summary is published, retained, to {prefix}/run/status.
//
// # On-demand queries
//
// When Listen is called the service also accepts Request payloads on
// {prefix}/request:
//
//	{"id": "dashboard-1", "query": "from(bucket:\"b\") |> range(start: -5m)"}
//
// Records for the request go to {prefix}/response/{id}/records/{table} and
// its summary to {prefix}/response/{id}/status. A missing id is replaced by
// a generated UUID.
package relay
