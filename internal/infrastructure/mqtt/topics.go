package mqtt

import (
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "fluxquery"

// Topics builds the fluxquery topic tree under a common prefix:
//
//	{prefix}/system/status                        retained online/offline status (LWT)
//	{prefix}/records/{table}                      records of scheduled relay runs
//	{prefix}/run/status                           summary of the last scheduled run
//	{prefix}/request                              on-demand query requests
//	{prefix}/response/{id}/records/{table}        records answering a request
//	{prefix}/response/{id}/status                 summary answering a request
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder. Leading and trailing slashes are
// trimmed; an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// SystemStatus returns the retained status topic.
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// Records returns the topic for records of the table with the given index.
//
// Example: fluxquery/records/0
func (t Topics) Records(table int) string {
	return t.join("records", strconv.Itoa(table))
}

// AllRecords returns a wildcard matching every Records topic.
func (t Topics) AllRecords() string {
	return t.join("records", "+")
}

// RunStatus returns the topic summarising scheduled runs.
func (t Topics) RunStatus() string {
	return t.join("run", "status")
}

// Request returns the topic on-demand queries are sent to.
func (t Topics) Request() string {
	return t.join("request")
}

// ResponseRecords returns the records topic for a request.
//
// Example: fluxquery/response/7d0c.../records/1
func (t Topics) ResponseRecords(requestID string, table int) string {
	return t.join("response", requestID, "records", strconv.Itoa(table))
}

// ResponseStatus returns the status topic for a request.
func (t Topics) ResponseStatus(requestID string) string {
	return t.join("response", requestID, "status")
}

// ValidateTopicSegment reports whether s can be used as a single topic
// level: non-empty and free of separators and wildcards.
func ValidateTopicSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
