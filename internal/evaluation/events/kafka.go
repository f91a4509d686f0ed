// Package events publishes evaluation domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"evalledger/internal/evaluation/models"
	"evalledger/internal/platform/config"
)

const (
	HeaderEventType          = "event_type"
	EventTypeResultsIngested = "results.ingested"
)

// Kafka publishes ResultsIngested events keyed by run, so events for one run
// stay ordered within a partition.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka returns nil, nil when no brokers are configured.
func NewKafka(cfg config.KafkaConfig, opts ...kgo.Opt) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, topic: cfg.Topic}, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (k *Kafka) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopic(ctx, partitions, replicationFactor, nil, k.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", k.topic, resp.Err)
	}
	return nil
}

func (k *Kafka) PublishResultsIngested(ctx context.Context, event models.ResultsIngested) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.RunID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventType, Value: []byte(EventTypeResultsIngested)},
		},
	}
	if err := k.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", EventTypeResultsIngested, err)
	}
	return nil
}

// Ping checks that at least one broker answers.
func (k *Kafka) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

func (k *Kafka) Close() {
	k.client.Close()
}
