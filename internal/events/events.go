// Package events publishes best-effort notifications about detected gaps
// and persisted imputations.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/johnayoung/go-health-series/internal/imputation"
	"github.com/johnayoung/go-health-series/internal/models"
)

// Event types.
const (
	TypeGapsDetected        = "gaps.detected"
	TypeImputationPersisted = "imputation.persisted"
)

// Event is the payload written to the stream.
type Event struct {
	ID         string                     `json:"id"`
	Type       string                     `json:"type"`
	UserID     string                     `json:"user_id"`
	Metric     models.MetricType          `json:"metric"`
	OccurredAt time.Time                  `json:"occurred_at"`
	Gaps       []models.GapReport         `json:"gaps,omitempty"`
	GapCounts  map[models.GapCategory]int `json:"gap_counts,omitempty"`
	Imputation *ImputationOutcome         `json:"imputation,omitempty"`
}

// ImputationOutcome describes one persistence attempt.
type ImputationOutcome struct {
	Attempted int                 `json:"attempted"`
	Written   int64               `json:"written"`
	Status    models.ResultStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// EventRecorder counts publish attempts. metrics.MetricsCollector
// satisfies it.
type EventRecorder interface {
	RecordEvent(eventType string, err error)
}

// NewPublisher returns a Kafka publisher when events are enabled and a
// no-op publisher otherwise.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		logger.Info("Event publishing disabled")
		return NewNoopPublisher()
	}
	logger.Info("Publishing events to kafka", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewKafkaPublisher(cfg)
}

// Notifier turns pipeline outcomes into events.
type Notifier struct {
	publisher Publisher
	recorder  EventRecorder
	now       func() time.Time
	logger    *slog.Logger
}

// NewNotifier creates a notifier. recorder may be nil.
func NewNotifier(publisher Publisher, recorder EventRecorder) *Notifier {
	return &Notifier{
		publisher: publisher,
		recorder:  recorder,
		now:       time.Now,
		logger:    slog.Default().With("component", "event_notifier"),
	}
}

// NotifyGapsDetected publishes the gaps found in one series.
func (n *Notifier) NotifyGapsDetected(ctx context.Context, userID string, metric models.MetricType, gaps []models.Gap) error {
	counts := make(map[models.GapCategory]int, 3)
	for _, g := range gaps {
		counts[g.Category]++
	}

	event := n.newEvent(TypeGapsDetected, userID, metric)
	event.Gaps = models.GapReports(gaps)
	event.GapCounts = counts
	return n.publish(ctx, event)
}

// NotifyImputationPersisted publishes the outcome of writing imputed
// points for one series.
func (n *Notifier) NotifyImputationPersisted(ctx context.Context, userID string, metric models.MetricType, result imputation.PersistResult) error {
	outcome := &ImputationOutcome{
		Attempted: result.Attempted,
		Written:   result.Written,
		Status:    result.Status,
	}
	if result.Err != nil {
		outcome.Error = result.Err.Error()
	}

	event := n.newEvent(TypeImputationPersisted, userID, metric)
	event.Imputation = outcome
	return n.publish(ctx, event)
}

// Close closes the publisher.
func (n *Notifier) Close() error {
	return n.publisher.Close()
}

func (n *Notifier) newEvent(eventType, userID string, metric models.MetricType) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		Metric:     metric,
		OccurredAt: n.now().UTC(),
	}
}

func (n *Notifier) publish(ctx context.Context, event Event) error {
	err := n.publisher.Publish(ctx, event)
	if n.recorder != nil {
		n.recorder.RecordEvent(event.Type, err)
	}
	if err != nil {
		n.logger.Warn("Failed to publish event",
			"event_id", event.ID,
			"type", event.Type,
			"user_id", event.UserID,
			"metric", event.Metric,
			"error", err,
		)
	}
	return err
}

// NoopPublisher discards events.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that only logs at debug level.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{logger: slog.Default().With("component", "noop_publisher")}
}

func (p *NoopPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Debug("Dropping event", "type", event.Type, "user_id", event.UserID, "metric", event.Metric)
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
