package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// envelope обёртка события outbox в сообщении Kafka.
type envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// TopicPublisher публикует события outbox в один топик.
// Если задан sourceTopic, публикатор работает как DLQ и добавляет заголовки сбоя.
type TopicPublisher struct {
	producer    *Producer
	topic       string
	sourceTopic string
	now         func() time.Time
}

// NewOutboxPublisher создаёт publisher событий продаж.
func NewOutboxPublisher(producer *Producer, topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicSaleEvents
	}
	return &TopicPublisher{producer: producer, topic: topic, now: time.Now}
}

// NewDLQPublisher создаёт publisher для событий, которые не удалось доставить в sourceTopic.
func NewDLQPublisher(producer *Producer, dlqTopic, sourceTopic string) *TopicPublisher {
	if dlqTopic == "" {
		dlqTopic = TopicDeadLetterQueue
	}
	if sourceTopic == "" {
		sourceTopic = TopicSaleEvents
	}
	return &TopicPublisher{producer: producer, topic: dlqTopic, sourceTopic: sourceTopic, now: time.Now}
}

// Publish отправляет событие; ключ сообщения это идентификатор продажи.
func (p *TopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil {
		return errProducerClosed
	}

	now := p.now().UTC()
	value, err := json.Marshal(envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("encode outbox event %s: %w", event.ID, err)
	}

	_, err = p.producer.Send(ctx, Message{
		Topic:   p.topic,
		Key:     messageKey(event),
		Value:   value,
		Headers: p.headers(event, now),
	})
	return err
}

func (p *TopicPublisher) headers(event domain.OutboxMessage, now time.Time) map[string]string {
	headers := map[string]string{
		HeaderEventType: event.EventType,
		HeaderOutboxID:  event.ID,
	}
	if p.sourceTopic == "" {
		return headers
	}

	headers[HeaderOriginalTopic] = p.sourceTopic
	headers[HeaderFailedAt] = now.Format(time.RFC3339Nano)
	var failure struct {
		Error string `json:"publish_error"`
	}
	if json.Unmarshal(event.Payload, &failure) == nil && failure.Error != "" {
		headers[HeaderErrorMessage] = failure.Error
	}
	return headers
}

func messageKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)
