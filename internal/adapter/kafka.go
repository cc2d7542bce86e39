package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/model"
)

// KafkaConfig holds the clearing link topology.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	InstructTopic string   `mapstructure:"instruct_topic"`
	StatusTopic   string   `mapstructure:"status_topic"`
	GroupID       string   `mapstructure:"group_id"`
}

// instructionMessage is the wire shape sent to the clearing house.
type instructionMessage struct {
	MessageID      string    `json:"message_id"`
	InstructionID  string    `json:"instruction_id"`
	Type           string    `json:"type"`
	SecurityID     string    `json:"security_id"`
	Quantity       string    `json:"quantity"`
	NetAmount      string    `json:"net_amount"`
	Currency       string    `json:"currency"`
	SettlementDate string    `json:"settlement_date"`
	CounterpartyID string    `json:"counterparty_id"`
	SentAt         time.Time `json:"sent_at"`
}

// StatusUpdate is a settlement status callback from the clearing house.
type StatusUpdate struct {
	InstructionID uuid.UUID `json:"instruction_id"`
	State         string    `json:"state"`
	Reference     string    `json:"reference,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// KafkaClearingAdapter sends instructions to and consumes status updates
// from the clearing house over Kafka.
type KafkaClearingAdapter struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *zap.Logger
}

// NewKafkaClearingAdapter wires the writer and reader for the configured
// topics.
func NewKafkaClearingAdapter(cfg KafkaConfig, logger *zap.Logger) *KafkaClearingAdapter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.InstructTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.StatusTopic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return &KafkaClearingAdapter{writer: writer, reader: reader, logger: logger}
}

// SendInstruction publishes a settlement instruction to the clearing house
// and returns the message ID. The instruction ID keys the message so
// updates for one instruction stay ordered within a partition.
func (a *KafkaClearingAdapter) SendInstruction(ctx context.Context, si *model.SettlementInstruction) (string, error) {
	msg := instructionMessage{
		MessageID:      uuid.New().String(),
		InstructionID:  si.ID.String(),
		Type:           string(si.Type),
		SecurityID:     si.SecurityID,
		Quantity:       si.Quantity.String(),
		NetAmount:      si.NetAmount.String(),
		Currency:       si.Currency,
		SettlementDate: si.SettlementDate.Format("2006-01-02"),
		CounterpartyID: si.CounterpartyID,
		SentAt:         time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal instruction %s: %w", si.ID, err)
	}
	if err := a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(si.ID.String()),
		Value: payload,
	}); err != nil {
		return "", fmt.Errorf("send instruction %s: %w", si.ID, err)
	}
	a.logger.Info("instruction sent to clearing",
		zap.String("instruction_id", si.ID.String()),
		zap.String("message_id", msg.MessageID))
	return msg.MessageID, nil
}

// ConsumeStatusUpdates reads clearing status callbacks until the context
// is cancelled, invoking handle per update. Malformed messages are logged
// and skipped; the consumer keeps going.
func (a *KafkaClearingAdapter) ConsumeStatusUpdates(ctx context.Context, handle func(context.Context, StatusUpdate) error) error {
	for {
		msg, err := a.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read status update: %w", err)
		}
		var update StatusUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			a.logger.Warn("malformed status update skipped",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if err := handle(ctx, update); err != nil {
			a.logger.Error("status update handling failed",
				zap.String("instruction_id", update.InstructionID.String()),
				zap.String("state", update.State), zap.Error(err))
		}
	}
}

// Close releases the underlying connections.
func (a *KafkaClearingAdapter) Close() error {
	werr := a.writer.Close()
	rerr := a.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
