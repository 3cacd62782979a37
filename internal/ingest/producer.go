// Package ingest is the secondary driver-telemetry path: a
// mobile client can post a raw GPS fix over plain HTTP instead of the
// websocket, and this producer queues it onto Kafka for an independent
// consumer to fold into the geo index. Fully decoupled from the auction
// path — a Kafka outage here never touches matching.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// LocationFixMessage is the wire shape published to Kafka; it is decoded
// back into a models.LocationFix-shaped update by the consumer.
type LocationFixMessage struct {
	ConnID string  `json:"connId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	AtMs   int64   `json:"atMs"`
}

// Producer publishes driver location fixes onto a Kafka topic.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

func (p *Producer) Publish(msg LocationFixMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.ConnID), Value: b})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
