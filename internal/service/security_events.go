package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

// EventPublisher records security-relevant events. Implementations must
// never receive raw secrets, tokens, or emails in event details.
type EventPublisher interface {
	Publish(ctx context.Context, customerID, eventType string, details map[string]string)
}

// KafkaEventPublisher ships events to the audit topic and mirrors them to
// the structured log. Publish failures are logged and swallowed;
// availability wins over strict audit delivery.
type KafkaEventPublisher struct {
	producer *client.KafkaProducer
}

func NewKafkaEventPublisher(producer *client.KafkaProducer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, customerID, eventType string, details map[string]string) {
	event := &models.SecurityEvent{
		EventID:    uuid.New().String(),
		CustomerID: customerID,
		EventType:  eventType,
		EventTime:  time.Now().UTC(),
		Details:    details,
	}

	util.Info("Security event",
		zap.String("event_type", eventType),
		zap.String("customer_id", customerID),
		zap.Any("details", details))

	if p.producer == nil {
		return
	}
	if err := p.producer.PublishSecurityEvent(ctx, event); err != nil {
		util.Warn("Failed to publish security event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// LogEventPublisher is the no-Kafka fallback used in development and
// tests.
type LogEventPublisher struct{}

func (LogEventPublisher) Publish(_ context.Context, customerID, eventType string, details map[string]string) {
	util.Info("Security event",
		zap.String("event_type", eventType),
		zap.String("customer_id", customerID),
		zap.Any("details", details))
}
