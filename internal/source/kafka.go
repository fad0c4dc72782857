package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"efpmachine/internal/ingest"
	"efpmachine/internal/parse"
)

// KafkaConsumer reads chat events from a topic, parses their messages and
// enqueues the resulting candidate orders.
type KafkaConsumer struct {
	reader *kafka.Reader
	parser *parse.Parser
	queue  *ingest.Queue
	logger *slog.Logger
}

// NewKafkaConsumer creates a consumer on the given brokers/topic/group.
func NewKafkaConsumer(brokers []string, topic, groupID string, parser *parse.Parser, queue *ingest.Queue, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
		parser: parser,
		queue:  queue,
		logger: logger,
	}
}

// Run consumes until ctx is cancelled. Bad payloads are logged and skipped;
// a full queue applies back-pressure by blocking the read loop.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var event ChatEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("bad chat event payload", "error", err)
			continue
		}
		if err := c.handle(ctx, event); err != nil {
			return err
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, event ChatEvent) error {
	for _, m := range event.Messages {
		legs := c.parser.Parse(ctx, event.EventID, m.Message, m.senderUUID())
		for _, leg := range legs {
			if err := c.queue.Enqueue(ctx, leg); err != nil {
				return err
			}
		}
		if len(legs) > 0 {
			c.logger.Debug("chat event parsed", "eventId", event.EventID, "legs", len(legs))
		}
	}
	return nil
}
