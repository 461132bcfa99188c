package realtime

import (
	"context"
	"log"
	"time"

	"github.com/mahaj/chatcore/pkg/model"
	"github.com/segmentio/kafka-go"
)

type KafkaOptions struct {
	GroupID string
	Logger  *log.Logger
}

// Kafka consumes events published on a topic by the messaging service.
type Kafka struct {
	reader *kafka.Reader
	logger *log.Logger
	events chan model.Event
}

func NewKafka(brokers []string, topic string, opts KafkaOptions) *Kafka {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  opts.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Kafka{reader: r, logger: logger, events: make(chan model.Event, eventBuffer)}
}

func (k *Kafka) Events() <-chan model.Event { return k.events }

func (k *Kafka) Run(ctx context.Context) error {
	defer close(k.events)
	for {
		m, err := k.reader.ReadMessage(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			k.logger.Printf("realtime: error reading from kafka: %v. Retrying in 1s...", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		events, err := Decode(m.Value)
		if err != nil {
			k.logger.Printf("realtime: skipping malformed record at offset %d: %v", m.Offset, err)
		}
		for _, ev := range events {
			if !emit(ctx, k.events, ev) {
				return nil
			}
		}
	}
}

func (k *Kafka) Close() error {
	return k.reader.Close()
}
