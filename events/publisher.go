package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"terminalconnect-backend/models"
)

// PostbackReceived is published after a postback has been stored.
type PostbackReceived struct {
	Ref             string    `json:"ref"`
	OwnerID         string    `json:"owner_id,omitempty"`
	IntentID        string    `json:"intent_id"`
	TransactionID   *string   `json:"transaction_id"`
	TransactionType string    `json:"transaction_type"`
	Status          string    `json:"status"`
	ReceivedAt      time.Time `json:"received_at"`
}

func NewPostbackReceived(p *models.Postback) PostbackReceived {
	evt := PostbackReceived{
		Ref:             p.Ref,
		IntentID:        p.IntentID,
		TransactionID:   p.TransactionID,
		TransactionType: p.TransactionType,
		Status:          p.Status,
		ReceivedAt:      p.ReceivedAt,
	}
	if !p.IsAnonymous() {
		evt.OwnerID = *p.OwnerID
	}
	return evt
}

type Publisher interface {
	PublishPostback(ctx context.Context, evt PostbackReceived) error
	Close() error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishPostback(context.Context, PostbackReceived) error { return nil }
func (Nop) Close() error                                            { return nil }

// KafkaPublisher writes events keyed by intent id so that all callbacks for
// one intent land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(broker, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	if logger != nil {
		sugar := logger.Sugar()
		w.ErrorLogger = kafka.LoggerFunc(sugar.Errorf)
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishPostback(ctx context.Context, evt PostbackReceived) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.IntentID),
		Value: data,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
