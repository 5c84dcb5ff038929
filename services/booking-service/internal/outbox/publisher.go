package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/tenantbook/libs/otel"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) error {
	return p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}

		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, Message(ctx, r))
			ids = append(ids, r.ID)
		}
		// Rows stay unpublished when the write fails.
		if err := writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		return p.repo.MarkPublished(ctx, tx, ids)
	})
}

// Message converts an outbox row into a Kafka message carrying the producer's trace.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	meta := kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}
	msg := kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: meta.Headers(),
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
