package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig contains configurable parameters for the Kafka sink.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string
	Topic   string

	// MaxAttempts is how many times a write is retried on error. Defaults to 3.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 5s.
	WriteTimeout time.Duration

	// OnlyEvents skips batches without outcome events, commands or incidents.
	OnlyEvents bool
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one JSON message per batch, keyed by run id so a run's
// batches stay ordered on one partition.
type KafkaSink struct {
	writer      messageWriter
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
	onlyEvents  bool
}

// NewKafkaSink constructs a KafkaSink.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaSink(w, cfg), nil
}

func newKafkaSink(w messageWriter, cfg KafkaConfig) *KafkaSink {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaSink{
		writer:      w,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.WriteTimeout,
		backoff:     100 * time.Millisecond,
		onlyEvents:  cfg.OnlyEvents,
	}
}

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, b Batch) error {
	if k.onlyEvents && b.Empty() {
		return nil
	}
	return k.ProduceJSON(ctx, []byte(b.RunID), b)
}

// ProduceJSON marshals v and writes it with retries and exponential backoff.
func (k *KafkaSink) ProduceJSON(ctx context.Context, key []byte, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	msg := kafka.Message{Key: key, Value: value, Time: time.Now().UTC()}

	var lastErr error
	backoff := k.backoff
	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, k.timeout)
		err := k.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		logrus.Debugf("kafka write attempt %d/%d failed: %v", attempt, k.maxAttempts, err)
		if attempt == k.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", k.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
