package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

func testSale() domain.Sale {
	sale := domain.Sale{
		ID:             7,
		DocumentNumber: "0007",
		PaymentType:    "cash",
		RegisteredAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Items: []domain.SaleLineItem{
			{ProductID: 1, Quantity: 3, UnitPrice: decimal.RequireFromString("10")},
			{ProductID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		},
	}
	sale.ApplyTotals()
	return sale
}

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestProducer_Send(t *testing.T) {
	client := mocks.NewSyncProducer(t, nil)
	stamp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	client.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicSaleEvents, msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "0007", string(key))
		assert.True(t, msg.Timestamp.Equal(stamp))
		require.Len(t, msg.Headers, 2)
		assert.Equal(t, "a", string(msg.Headers[0].Key), "headers are sorted by name")
		return nil
	})

	producer := NewProducerWithClient(client, nil)
	producer.now = func() time.Time { return stamp }

	_, err := producer.Send(context.Background(), Message{
		Topic:   TopicSaleEvents,
		Key:     "0007",
		Value:   []byte(`{}`),
		Headers: map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestProducer_SendBrokerError(t *testing.T) {
	client := mocks.NewSyncProducer(t, nil)
	client.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer := NewProducerWithClient(client, nil)

	_, err := producer.Send(context.Background(), Message{Topic: TopicSaleEvents, Key: "k"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestProducer_SendGuards(t *testing.T) {
	var missing *Producer
	_, err := missing.Send(context.Background(), Message{})
	assert.ErrorIs(t, err, errProducerClosed)
	assert.NoError(t, missing.Close())

	client := mocks.NewSyncProducer(t, nil)
	producer := NewProducerWithClient(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = producer.Send(ctx, Message{Topic: TopicSaleEvents})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, producer.Close())
}

func TestNewSaramaConfig(t *testing.T) {
	cfg := newSaramaConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, clientID, cfg.ClientID)
}

func TestNewSaleRegisteredEvent(t *testing.T) {
	event := NewSaleRegisteredEvent(testSale())

	assert.Equal(t, int64(7), event.SaleID)
	assert.Equal(t, "0007", event.DocumentNumber)
	assert.Equal(t, "35.00", event.Total)
	require.Len(t, event.Items, 2)
	assert.Equal(t, 1, event.Items[0].LineNo)
	assert.Equal(t, "30.00", event.Items[0].Subtotal)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"document_number":"0007"`)
	assert.Contains(t, string(data), `"registered_at":"2024-03-01T10:00:00Z"`)
}
