package relay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/config"
	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/events"
)

// Sink delivers encoded events to one external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev events.Event, body []byte) error
	Close() error
}

// amqpPriority maps event classes onto AMQP message priority (0-9).
var amqpPriority = map[events.Priority]uint8{
	events.PriorityCritical: 9,
	events.PriorityHigh:     6,
	events.PriorityNormal:   3,
	events.PriorityLow:      0,
}

// amqpPublisher is the part of *amqp.Channel the sink uses.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes to a fanout exchange.
type AMQPSink struct {
	pub      amqpPublisher
	exchange string
	closer   func() error
}

// DialAMQP connects to cfg.URL and declares a durable fanout exchange.
func DialAMQP(cfg config.AMQP) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	return &AMQPSink{
		pub:      ch,
		exchange: cfg.Exchange,
		closer: func() error {
			_ = ch.Close()
			return conn.Close()
		},
	}, nil
}

// Name implements Sink.
func (s *AMQPSink) Name() string { return "amqp:" + s.exchange }

// Send implements Sink. The routing key is the event type; fanout
// exchanges ignore it but bindings downstream may not.
func (s *AMQPSink) Send(ctx context.Context, ev events.Event, body []byte) error {
	return s.pub.PublishWithContext(ctx, s.exchange, string(ev.Type), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Priority:     amqpPriority[ev.Priority],
		MessageId:    ev.ID,
		Timestamp:    ev.CreatedAt.UTC(),
		Type:         string(ev.Type),
		ContentType:  "application/json",
		Headers:      amqp.Table{"seq": ev.Seq, "priority": ev.Priority.String()},
		Body:         body,
	})
}

// Close implements Sink.
func (s *AMQPSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// kafkaWriter is the part of *kafka.Writer the sink uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes to a topic. Messages are keyed by the event's first
// entity so one entity's events stay in one partition, in order.
type KafkaSink struct {
	w     kafkaWriter
	topic string
}

// NewKafkaWriter returns a synchronous, hash-balanced writer for cfg.
func NewKafkaWriter(cfg config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaSink wraps w.
func NewKafkaSink(w kafkaWriter, topic string) *KafkaSink {
	return &KafkaSink{w: w, topic: topic}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

// Send implements Sink.
func (s *KafkaSink) Send(ctx context.Context, ev events.Event, body []byte) error {
	var key []byte
	if len(ev.Entities) > 0 {
		key = []byte(ev.Entities[0].Key())
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: body,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "priority", Value: []byte(ev.Priority.String())},
			{Key: "seq", Value: []byte(strconv.FormatInt(ev.Seq, 10))},
		},
	})
}

// Close implements Sink.
func (s *KafkaSink) Close() error { return s.w.Close() }
