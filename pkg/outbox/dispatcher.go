package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"collabhub/pkg/circuitbreaker"
	"collabhub/pkg/metrics"
	"collabhub/pkg/trace"
	"collabhub/pkg/util"
)

var errInvalidPayload = errors.New("outbox: payload is not valid json")

// Store is the subset of Repository the Dispatcher needs.
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) (string, error)
	MarkAsDead(ctx context.Context, eventID int64) error
}

// Publisher is implemented by *mq.Publisher.
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

// WithBreaker 替换默认熔断器
func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// Start blocks until ctx is cancelled, draining the outbox every interval.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessPending(ctx)
		}
	}
}

// ProcessPending publishes one batch and returns how many events were sent.
func (d *Dispatcher) ProcessPending(ctx context.Context) int {
	events, err := d.store.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	sent := 0
	for _, event := range events {
		if !json.Valid(event.Payload) {
			d.handlePublishError(ctx, event, errInvalidPayload)
			continue
		}
		err := d.breaker.Execute(func() error {
			return d.publishEvent(ctx, event)
		})
		if err == nil {
			sent++
			metrics.IncrementOutboxPublish(event.RoutingKey, "sent")
			if markErr := d.store.MarkAsSent(ctx, event.ID); markErr != nil {
				d.logger.Error("Failed to mark event as sent",
					zap.Int64("event_id", event.ID),
					zap.Error(markErr),
				)
			}
			continue
		}

		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			// broker 不可用，本批剩余事件留待下次扫描
			d.logger.Warn("Circuit breaker open, deferring outbox batch",
				zap.Int("remaining", len(events)-sent),
			)
			metrics.IncrementOutboxPublish(event.RoutingKey, "deferred")
			return sent
		}

		d.handlePublishError(ctx, event, err)
	}
	return sent
}

func (d *Dispatcher) handlePublishError(ctx context.Context, event *Event, err error) {
	retryable, errType := util.IsRetryableError(err)
	d.logger.Error("Failed to publish event",
		zap.Int64("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey),
		zap.String("error_type", errType),
		zap.Error(err),
	)

	status := StatusFailed
	if retryable {
		var markErr error
		status, markErr = d.store.MarkAsFailed(ctx, event.ID, d.maxRetries)
		if markErr != nil {
			d.logger.Error("Failed to record retry", zap.Int64("event_id", event.ID), zap.Error(markErr))
			return
		}
	} else if markErr := d.store.MarkAsDead(ctx, event.ID); markErr != nil {
		d.logger.Error("Failed to mark event as dead", zap.Int64("event_id", event.ID), zap.Error(markErr))
		return
	}

	if status != StatusFailed {
		metrics.IncrementOutboxPublish(event.RoutingKey, "retry")
		return
	}
	metrics.IncrementOutboxPublish(event.RoutingKey, "dead")
	if dlqErr := d.publisher.PublishToDLQ(ctx, event.RoutingKey, event.Payload, err.Error()); dlqErr != nil {
		d.logger.Warn("Failed to park event in DLQ",
			zap.Int64("event_id", event.ID),
			zap.Error(dlqErr),
		)
	}
}

func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	ctx = withPayloadTrace(ctx, event.Payload)
	return d.publisher.PublishRaw(ctx, event.RoutingKey, event.Payload)
}

// withPayloadTrace 从 payload 中提取 trace_id（如果存在）
func withPayloadTrace(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.TraceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, envelope.TraceID)
}
