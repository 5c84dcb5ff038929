package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/tenantbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/tenantbook/libs/otel"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox deduplicates deliveries by event id. Events are marked only after their
// handler succeeded, so a failed event is retried on redelivery.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkApplied(ctx context.Context, eventID, eventType string) (bool, error)
}

// Reader is the part of *kafka.Reader the consumer uses. Offsets are committed
// explicitly once a message has been processed.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader      Reader
	logger      *slog.Logger
	inbox       Inbox
	handler     Handler
	retryDelay  time.Duration
	maxAttempts int
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inboxRepo Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewWithReader(logger, inboxRepo, reader, handler)
}

func NewWithReader(logger *slog.Logger, inboxRepo Inbox, reader Reader, handler Handler) *Consumer {
	return &Consumer{
		reader:      reader,
		logger:      logger,
		inbox:       inboxRepo,
		handler:     handler,
		retryDelay:  time.Second,
		maxAttempts: 3,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			if !c.wait(ctx) {
				return
			}
			continue
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			meta := kafkax.ExtractEventMeta(msg)
			c.logger.Error("event dropped after retries", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

func (c *Consumer) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

// process retries handle up to maxAttempts times.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt >= c.maxAttempts {
			return err
		}
		if !c.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otelx.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "" {
		seen, err := c.inbox.Seen(ctxSpan, meta.EventID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "inbox")
			return err
		}
		if seen {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			return nil
		}
	}

	if err := c.handler(ctxSpan, msg); err != nil {
		c.logger.Warn("handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
		return err
	}

	if meta.EventID != "" {
		// The handler already ran; a lost mark only means a redelivery repeats it.
		if _, err := c.inbox.MarkApplied(ctxSpan, meta.EventID, meta.EventType); err != nil {
			c.logger.Warn("inbox mark failed", "err", err, "event_id", meta.EventID)
		}
	}
	return nil
}
