package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultTopic = "pipeline-events"

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, topic string) Config {
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}
	if topic == "" {
		topic = DefaultTopic
	}

	return Config{
		Brokers: brokerList,
		Topic:   topic,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by entity id, so every
// event for one entity lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(cfg Config, logger ectologger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// dev clusters may not have the topic yet
		AllowAutoTopicCreation: true,
	}

	return newKafkaPublisher(writer, cfg.Topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger ectologger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the publisher
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Publish writes all events in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.Int("messaging.batch_size", len(events)),
	)

	messages := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		msg, err := NewMessage(ctx, evt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to marshal event")
			metrics.RecordEventPublished(string(evt.Type), "error")
			return err
		}
		messages = append(messages, msg)
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish events")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish %d events to Kafka topic %s", len(events), p.topic)
		for _, evt := range events {
			metrics.RecordEventPublished(string(evt.Type), "error")
		}
		return err
	}

	for _, evt := range events {
		metrics.RecordEventPublished(string(evt.Type), "ok")
	}
	span.SetStatus(codes.Ok, "events published")
	p.logger.WithContext(ctx).Debugf("Published %d pipeline events to Kafka topic %s", len(events), p.topic)

	return nil
}

// NewMessage encodes an event as a Kafka message with W3C trace headers.
func NewMessage(ctx context.Context, evt Event) (kafka.Message, error) {
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal %s event: %w", evt.Type, err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(evt.Type)},
		{Key: "event_id", Value: []byte(evt.ID.String())},
		{Key: "entity_id", Value: []byte(evt.EntityID.String())},
	}
	if evt.Actor != "" {
		headers = append(headers, kafka.Header{Key: "actor", Value: []byte(evt.Actor)})
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	return kafka.Message{
		Key:     []byte(evt.EntityID.String()),
		Value:   data,
		Headers: headers,
	}, nil
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = Noop{}
)
