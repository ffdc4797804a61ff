package query

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/flux/mapper"
	"github.com/nerrad567/fluxquery/internal/infrastructure/logging"
)

// Query runs flux and returns every table with its records.
//
// On a parse or query error the tables decoded so far are returned together
// with the error.
func (c *Client) Query(ctx context.Context, q string) ([]*flux.Table, error) {
	collector := &flux.TableCollector{}
	err := c.stream(ctx, "query", q, collector)
	return collector.Tables, err
}

// QueryStream runs flux and reports tables and records to consumer as the
// response is read. The body is never buffered in full.
//
// Parameters:
//   - ctx: Context for cancellation; checked between rows
//   - q: Flux query
//   - consumer: Receives tables and records in response order
//
// Returns:
//   - error: nil when the response ends or the consumer cancels, otherwise
//     *HTTPError, *flux.ParseError, *flux.QueryError or the consumer's error
func (c *Client) QueryStream(ctx context.Context, q string, consumer flux.Consumer) error {
	return c.stream(ctx, "stream", q, consumer)
}

// QueryRaw runs flux and returns the response body unparsed.
// A nil dialect selects DefaultDialect.
func (c *Client) QueryRaw(ctx context.Context, q string, dialect *Dialect) (string, error) {
	start := time.Now()
	metrics, _ := c.observers()

	body, err := c.post(ctx, q, dialect)
	if err != nil {
		metrics.observe("raw", start, err)
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, c.maxRawSize+1))
	if err == nil && int64(len(raw)) > c.maxRawSize {
		err = fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxRawSize)
	}
	if err != nil && !errors.Is(err, ErrResponseTooLarge) {
		err = fmt.Errorf("reading response: %w", err)
	}
	metrics.observe("raw", start, err)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// QueryLines runs flux and hands each line of the raw response to fn,
// without the line terminator. Returning an error from fn stops reading and
// QueryLines returns it.
func (c *Client) QueryLines(ctx context.Context, q string, dialect *Dialect, fn func(line string) error) (err error) {
	start := time.Now()
	metrics, _ := c.observers()
	defer func() { metrics.observe("lines", start, err) }()

	body, err := c.post(ctx, q, dialect)
	if err != nil {
		return err
	}
	defer body.Close()

	br := bufio.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := br.ReadString('\n')
		if line != "" {
			if err := fn(strings.TrimRight(line, "\r\n")); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("reading response: %w", readErr)
		}
	}
}

// QueryTo runs flux and maps every record to T. A nil mapper uses the
// package default.
func QueryTo[T any](ctx context.Context, c *Client, m *mapper.Mapper, q string) ([]T, error) {
	var out []T
	err := StreamTo(ctx, c, m, q, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// StreamTo runs flux and hands each record, mapped to T, to fn.
func StreamTo[T any](ctx context.Context, c *Client, m *mapper.Mapper, q string, fn func(T) error) error {
	return c.QueryStream(ctx, q, flux.ConsumerFuncs{
		Record: func(_ int, _ *flux.Canceller, rec *flux.Record) error {
			v, err := mapper.To[T](m, rec)
			if err != nil {
				return err
			}
			return fn(v)
		},
	})
}

// stream posts q and feeds the response through the client's parser.
func (c *Client) stream(ctx context.Context, operation, q string, consumer flux.Consumer) (err error) {
	start := time.Now()
	metrics, logger := c.observers()
	if consumer == nil {
		consumer = flux.ConsumerFuncs{}
	}
	counter := &countingConsumer{next: consumer}
	defer func() {
		metrics.addRecords(counter.records)
		metrics.observe(operation, start, err)
		logger.Debug("flux query finished",
			"operation", operation,
			logging.Flux(q),
			"tables", counter.tables,
			"records", counter.records,
			"duration", time.Since(start),
			"error", err,
		)
	}()

	dialect := DefaultDialect()
	if c.parser.Mode() == flux.ModeOnlyNames {
		dialect = namesOnlyDialect()
	}

	body, err := c.post(ctx, q, dialect)
	if err != nil {
		return err
	}
	defer body.Close()

	return c.parser.Parse(ctx, body, counter)
}

// post sends the query request and returns the decoded response body.
// Non-2xx responses are turned into *HTTPError.
func (c *Client) post(ctx context.Context, q string, dialect *Dialect) (io.ReadCloser, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}

	payload, err := json.Marshal(newRequestBody(q, dialect))
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	endpoint := c.url + "/api/v2/query"
	if c.org != "" {
		endpoint += "?" + url.Values{"org": []string{c.org}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/csv")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	if c.gzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	body := resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := newGzipBody(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decompressing response: %w", err)
		}
		body = gz
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer body.Close()
		return nil, newHTTPError(resp, body)
	}
	return body, nil
}

// countingConsumer tallies what passes through to next.
type countingConsumer struct {
	next    flux.Consumer
	tables  int
	records int
}

func (cc *countingConsumer) OnTable(index int, c *flux.Canceller, table *flux.Table) error {
	cc.tables++
	return cc.next.OnTable(index, c, table)
}

func (cc *countingConsumer) OnRecord(index int, c *flux.Canceller, record *flux.Record) error {
	cc.records++
	return cc.next.OnRecord(index, c, record)
}
