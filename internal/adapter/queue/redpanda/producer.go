// Package redpanda provides Redpanda/Kafka queue integration for evaluation
// tasks: the server produces one record per requested evaluation and workers
// consume them.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/observability"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// TopicEvaluate is the Kafka topic carrying evaluation tasks.
const TopicEvaluate = "evaluate-applications"

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	// Serializes transactions; kgo allows one in flight per producer.
	txCh chan struct{}
}

// NewProducer constructs a transactional Producer and ensures the task topic
// exists.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "scoring-engine-producer")
}

// NewProducerWithTransactionalID allows tests to isolate producers from each
// other.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, TopicEvaluate, 1, 1); err != nil {
		// Topic may already exist or be created by another instance.
		slog.Warn("failed to create topic",
			slog.String("topic", TopicEvaluate), slog.Any("error", err))
	}

	return &Producer{
		client: client,
		txCh:   make(chan struct{}, 1),
	}, nil
}

// EnqueueEvaluate publishes one evaluation task, keyed by application id so
// re-evaluations of the same application stay ordered on one partition.
func (p *Producer) EnqueueEvaluate(ctx domain.Context, payload domain.EvaluateTaskPayload) (string, error) {
	select {
	case p.txCh <- struct{}{}:
		defer func() { <-p.txCh }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}

	record := &kgo.Record{
		Topic: TopicEvaluate,
		Key:   []byte(payload.ApplicationID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "application_id", Value: []byte(payload.ApplicationID)},
			{Key: "request_id", Value: []byte(payload.RequestID)},
		},
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	observability.EnqueueTask("evaluate")
	slog.Info("evaluation task enqueued",
		slog.String("application_id", payload.ApplicationID),
		slog.Bool("reevaluate", payload.Reevaluate))
	return payload.ApplicationID, nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
