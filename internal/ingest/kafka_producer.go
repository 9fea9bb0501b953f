// Package ingest publishes dispatch events to Kafka for the downstream
// consumers that maintain the durable geo mirror and availability flags.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// Event types carried on the dispatch-events topic.
const (
	TypePresence = "presence"
	TypeRide     = "ride"
)

// Event is the envelope written to Kafka. Exactly one of Presence or Ride is
// set, discriminated by Type.
type Event struct {
	Type     string                 `json:"type"`
	Presence *models.DriverPresence `json:"presence,omitempty"`
	Ride     *models.RideRequest    `json:"ride,omitempty"`
	At       time.Time              `json:"at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishPresence records a presence upsert. Keyed by driver so per-driver
// ordering survives partitioning.
func (k *KafkaProducer) PublishPresence(p models.DriverPresence) error {
	return k.publish(p.DriverID, Event{Type: TypePresence, Presence: &p, At: time.Now()})
}

// PublishRideOutcome records a terminal ride state.
func (k *KafkaProducer) PublishRideOutcome(r models.RideRequest) error {
	return k.publish(r.RideID, Event{Type: TypeRide, Ride: &r, At: time.Now()})
}

func (k *KafkaProducer) publish(key string, ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
