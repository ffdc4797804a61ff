package query

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Sentinel errors for query client operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, query.ErrNotConnected) {
//	    // Handle closed client
//	}
var (
	// ErrNotConnected indicates the client was closed or never connected.
	ErrNotConnected = errors.New("query: not connected")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("query: connection failed")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("query: disabled in configuration")

	// ErrEmptyQuery indicates a blank Flux query was supplied.
	ErrEmptyQuery = errors.New("query: flux query is required")

	// ErrResponseTooLarge indicates a raw response exceeded the configured cap.
	ErrResponseTooLarge = errors.New("query: response too large")
)

// Headers consulted, in order, when the error body carries no message.
var errorHeaders = []string{
	"X-Platform-Error-Code",
	"X-Influx-Error",
	"X-InfluxDb-Error",
}

// maxErrorBodySize caps how much of a failed response is kept.
const maxErrorBodySize = 10 << 20 // 10 MB

// HTTPError is returned when the server answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Message    string

	// Code is the InfluxDB error code from the JSON body, if any.
	Code string

	// RetryAfter is the parsed Retry-After header. Zero when absent.
	RetryAfter time.Duration

	Body string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("query: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("query: HTTP %d: %s", e.StatusCode, e.Message)
}

// newHTTPError reads body and builds an HTTPError for resp.
func newHTTPError(resp *http.Response, body io.Reader) *HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBodySize))

	e := &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &payload) == nil {
		e.Code = payload.Code
		e.Message = payload.Message
	}
	if e.Message == "" {
		for _, h := range errorHeaders {
			if v := resp.Header.Get(h); v != "" {
				e.Message = v
				break
			}
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(e.Body)
	}

	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}
