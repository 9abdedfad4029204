// Package publish forwards ingested readings to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/i474232898/station-dashboard/internal/weather"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each reading as a JSON message keyed by its
// datetime, so re-published buckets land on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	station string
}

// NewKafkaPublisher creates a synchronous producer. station tags every
// message (the Netatmo device id, or empty).
func NewKafkaPublisher(brokers []string, topic, station string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
		station: station,
	}
}

type readingMessage struct {
	Station string `json:"station,omitempty"`
	weather.Reading
	Key string `json:"key"`
}

func (p *KafkaPublisher) PublishReading(ctx context.Context, r weather.Reading) error {
	value, err := json.Marshal(readingMessage{Station: p.station, Reading: r, Key: r.Key()})
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.Key()),
		Value: value,
		Time:  r.DateTime,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
