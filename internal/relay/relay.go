package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/mqtt"
)

// defaultRequestTimeout bounds on-demand queries received over MQTT.
const defaultRequestTimeout = 2 * time.Minute

var (
	// ErrNoQuery indicates a run or request without a Flux query.
	ErrNoQuery = errors.New("relay: query is required")

	// ErrInvalidRequestID indicates a request ID that cannot be a topic level.
	ErrInvalidRequestID = errors.New("relay: invalid request id")

	// ErrNotStarted indicates a request arrived before Run was called.
	ErrNotStarted = errors.New("relay: not started")
)

// Querier streams a Flux query. *query.Client satisfies it.
type Querier interface {
	QueryStream(ctx context.Context, q string, consumer flux.Consumer) error
}

// Publisher sends MQTT messages. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber registers MQTT handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Request is the payload accepted on Topics.Request.
type Request struct {
	// ID names the response topics. A UUID is generated when empty.
	ID    string `json:"id,omitempty"`
	Query string `json:"query"`
}

// Summary is published after every run on the run or response status topic.
type Summary struct {
	RunID      string    `json:"run_id"`
	Query      string    `json:"query"`
	Tables     int       `json:"tables"`
	Records    int       `json:"records"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Service runs Flux queries and publishes every record as JSON over MQTT.
//
// Records go to one topic per table so subscribers can follow a single
// series. A Summary follows the last record of each run.
type Service struct {
	querier   Querier
	publisher Publisher
	topics    mqtt.Topics
	qos       byte
	retained  bool
	query     string
	interval  time.Duration
	logger    Logger

	mu      sync.Mutex
	baseCtx context.Context
}

// New creates a relay service.
//
// Parameters:
//   - querier: Source of query results
//   - publisher: MQTT publisher
//   - cfg: Relay section of config.yaml
//   - qos: QoS used for every message
//
// Returns:
//   - *Service: Service ready for Run or RunOnce
func New(querier Querier, publisher Publisher, cfg config.RelayConfig, qos byte) *Service {
	return &Service{
		querier:   querier,
		publisher: publisher,
		topics:    mqtt.NewTopics(cfg.TopicPrefix),
		qos:       qos,
		retained:  cfg.Retained,
		query:     cfg.Query,
		interval:  time.Duration(cfg.Interval) * time.Second,
		logger:    slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the logger for run results.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Topics returns the topic tree the service publishes to.
func (s *Service) Topics() mqtt.Topics {
	return s.topics
}

// Run executes the configured query every interval until ctx is done.
// With a zero interval the query runs once. Failed runs are logged and
// published in the summary; they do not stop the loop.
//
// Returns:
//   - error: The error of a single run when interval is zero, otherwise nil
//     once ctx is done
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.interval <= 0 {
		_, err := s.RunOnce(ctx)
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("relay run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes the configured query and publishes its records.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	return s.relay(ctx, uuid.NewString(), s.query, s.topics.Records, s.topics.RunStatus(), s.retained)
}

// Listen subscribes to the request topic so queries can be run on demand.
// Requests are executed under the context passed to Run.
func (s *Service) Listen(sub Subscriber) error {
	return sub.Subscribe(s.topics.Request(), s.qos, s.HandleRequest)
}

// HandleRequest runs the query carried by a Request payload and answers on
// the response topics of its ID. It implements mqtt.MessageHandler.
func (s *Service) HandleRequest(_ string, payload []byte) error {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	if base == nil {
		return ErrNotStarted
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("relay: decoding request: %w", err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !mqtt.ValidateTopicSegment(req.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidRequestID, req.ID)
	}

	ctx, cancel := context.WithTimeout(base, defaultRequestTimeout)
	defer cancel()

	recordTopic := func(table int) string { return s.topics.ResponseRecords(req.ID, table) }
	_, err := s.relay(ctx, req.ID, req.Query, recordTopic, s.topics.ResponseStatus(req.ID), false)
	return err
}

// relay streams q, publishing each record, then publishes the summary.
func (s *Service) relay(ctx context.Context, runID, q string, recordTopic func(int) string, statusTopic string, retained bool) (Summary, error) {
	summary := Summary{RunID: runID, Query: q, StartedAt: time.Now().UTC()}

	var err error
	if strings.TrimSpace(q) == "" {
		err = ErrNoQuery
	} else {
		err = s.querier.QueryStream(ctx, q, flux.ConsumerFuncs{
			Table: func(_ int, _ *flux.Canceller, _ *flux.Table) error {
				summary.Tables++
				return nil
			},
			Record: func(index int, _ *flux.Canceller, rec *flux.Record) error {
				payload, err := json.Marshal(rec)
				if err != nil {
					return fmt.Errorf("relay: encoding record: %w", err)
				}
				if err := s.publisher.Publish(recordTopic(index), payload, s.qos, retained); err != nil {
					return err
				}
				summary.Records++
				return nil
			},
		})
	}

	summary.FinishedAt = time.Now().UTC()
	if err != nil {
		summary.Error = err.Error()
	}

	status, mErr := json.Marshal(summary)
	if mErr == nil {
		if pErr := s.publisher.Publish(statusTopic, status, s.qos, true); pErr != nil && err == nil {
			err = pErr
		}
	}

	if err != nil {
		s.logger.Warn("relay run finished with error", "run_id", runID, "records", summary.Records, "error", err)
	} else {
		s.logger.Info("relay run finished", "run_id", runID, "tables", summary.Tables, "records", summary.Records)
	}
	return summary, err
}
