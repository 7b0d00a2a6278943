package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// DefaultKafkaTopic is the topic events are appended to.
const DefaultKafkaTopic = "blitz.events"

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink appends events to a Kafka topic keyed by round id, so every
// round's events land on one partition in ledger order.
type KafkaSink struct {
	w     messageWriter
	topic string
}

// NewKafkaSink creates a writer for brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return newKafkaSink(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}, topic)
}

func newKafkaSink(w messageWriter, topic string) *KafkaSink {
	return &KafkaSink{w: w, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

func (s *KafkaSink) Publish(ctx context.Context, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events.KafkaSink: marshal: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.RoundID, 10)),
		Value: value,
		Time:  time.Unix(ev.Time, 0),
		Headers: []kafka.Header{
			{Key: "event-key", Value: []byte(ev.Key())},
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	return s.w.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error { return s.w.Close() }
