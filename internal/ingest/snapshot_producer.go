package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/roadside-assist/internal/models"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SnapshotProducer forwards tracking snapshots to a topic keyed by request
// id, so every snapshot of one request lands on the same partition.
type SnapshotProducer struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewSnapshotProducer(brokers []string, topic string) *SnapshotProducer {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}, Async: false}
	return NewSnapshotProducerWithWriter(w)
}

func NewSnapshotProducerWithWriter(w MessageWriter) *SnapshotProducer {
	return &SnapshotProducer{writer: w, timeout: 2 * time.Second}
}

func (k *SnapshotProducer) PublishSnapshot(ctx context.Context, s models.TrackingSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(strconv.Itoa(s.RequestID)), Value: b, Time: s.FetchedAt})
}

func (k *SnapshotProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
