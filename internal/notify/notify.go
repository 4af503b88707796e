// ABOUTME: Notifier delivers device alerts (needs attention, re-auth required).
// ABOUTME: LogNotifier writes to zap; KafkaNotifier publishes JSON events to a topic.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/healthsync/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AlertKind names why a device needs the user.
type AlertKind string

const (
	AlertNeedsAttention AlertKind = "needs_attention"
	AlertReauthRequired AlertKind = "reauth_required"
)

// Alert is one user-facing device alert.
type Alert struct {
	Kind                AlertKind     `json:"kind"`
	UserID              string        `json:"user_id"`
	DeviceID            uuid.UUID     `json:"device_id"`
	Vendor              models.Vendor `json:"vendor"`
	ConsecutiveFailures int           `json:"consecutive_failures,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	RaisedAt            time.Time     `json:"raised_at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Warn("device alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("user_id", alert.UserID),
		zap.String("device_id", alert.DeviceID.String()),
		zap.String("vendor", string(alert.Vendor)),
		zap.Int("consecutive_failures", alert.ConsecutiveFailures),
		zap.String("last_error", alert.LastError))
	return nil
}

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	Brokers      []string      `yaml:"kafka_brokers,omitempty"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaNotifier publishes alerts keyed by device id.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaNotifier creates a notifier publishing to cfg.Topic.
func NewKafkaNotifier(cfg KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaNotifier(writer, cfg.Topic, logger), nil
}

func newKafkaNotifier(w messageWriter, topic string, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{writer: w, topic: topic, logger: logger}
}

// Notify publishes the alert as JSON.
func (n *KafkaNotifier) Notify(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.DeviceID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(alert.Kind)},
			{Key: "user_id", Value: []byte(alert.UserID)},
		},
		Time: alert.RaisedAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Error("publish alert failed",
			zap.String("topic", n.topic),
			zap.String("device_id", alert.DeviceID.String()),
			zap.Error(err))
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
