package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// TaskHandler executes one evaluation task. The lifecycle service satisfies
// this through a small adapter in cmd/worker.
type TaskHandler func(ctx context.Context, payload domain.EvaluateTaskPayload) error

// Consumer polls the evaluation topic and dispatches tasks to the handler
// with bounded concurrency.
type Consumer struct {
	client  *kgo.Client
	handler TaskHandler
	groupID string
	topic   string
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer constructs a Consumer. maxConcurrency bounds how many tasks
// one worker process evaluates at once; per-batch call fan-out is governed
// separately by the orchestrator.
func NewConsumer(brokers []string, groupID string, maxConcurrency int, handler TaskHandler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(
			kotel.TracerProvider(otel.GetTracerProvider()),
		)),
	)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicEvaluate),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, TopicEvaluate, 1, 1); err != nil {
		slog.Warn("failed to create topic",
			slog.String("topic", TopicEvaluate), slog.Any("error", err))
	}

	return &Consumer{
		client:  client,
		handler: handler,
		groupID: groupID,
		topic:   TopicEvaluate,
		sem:     make(chan struct{}, maxConcurrency),
	}, nil
}

// Start polls until the context is cancelled. It returns the context's error
// after in-flight tasks drain.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("redpanda consumer started",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("max_concurrency", cap(c.sem)))

	for {
		if ctx.Err() != nil {
			break
		}
		fetches := c.client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			fatal := false
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					fatal = true
					continue
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			if fatal {
				break
			}
			time.Sleep(2 * time.Second)
			continue
		}
		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			c.wg.Add(1)
			go func(rec *kgo.Record) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				if err := c.processRecord(ctx, rec); err != nil {
					slog.Error("failed to process record",
						slog.Int64("offset", rec.Offset),
						slog.Int("partition", int(rec.Partition)),
						slog.Any("error", err))
				}
				c.client.MarkCommitRecords(rec)
			}(record)
		})
	}

	c.wg.Wait()
	return ctx.Err()
}

// processRecord decodes one task and hands it to the handler. A conflict
// means another worker holds the application's in-flight lock; the record is
// dropped rather than retried since that run supersedes this one.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessEvaluateTask")
	defer span.End()

	var payload domain.EvaluateTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	slog.Info("processing evaluation task",
		slog.String("application_id", payload.ApplicationID),
		slog.Bool("reevaluate", payload.Reevaluate),
		slog.String("request_id", payload.RequestID))

	if err := c.handler(ctx, payload); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Warn("evaluation already in flight, dropping task",
				slog.String("application_id", payload.ApplicationID))
			return nil
		}
		return err
	}
	return nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
