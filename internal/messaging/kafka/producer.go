package kafka

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "sales-service"

var errProducerClosed = errors.New("kafka producer is not initialized")

// Message запись, отправляемая в топик.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Delivery позиция записанного сообщения.
type Delivery struct {
	Partition int32
	Offset    int64
}

// Producer синхронно пишет сообщения в Kafka.
type Producer struct {
	client sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	// События одной продажи попадают в одну партицию.
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := sarama.NewSyncProducer(brokers, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerWithClient(client, nil), nil
}

// NewProducerWithClient оборачивает готовый sarama.SyncProducer.
func NewProducerWithClient(client sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{client: client, logger: logger, now: time.Now}
}

// Send записывает сообщение и ждёт подтверждения всех in-sync реплик.
func (p *Producer) Send(ctx context.Context, msg Message) (Delivery, error) {
	if p == nil || p.client == nil {
		return Delivery{}, errProducerClosed
	}
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	record := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.StringEncoder(msg.Key),
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: p.now(),
	}
	for _, name := range slices.Sorted(maps.Keys(msg.Headers)) {
		record.Headers = append(record.Headers, sarama.RecordHeader{
			Key:   []byte(name),
			Value: []byte(msg.Headers[name]),
		})
	}

	entry := p.logger.WithFields(log.Fields{"topic": msg.Topic, "key": msg.Key})
	partition, offset, err := p.client.SendMessage(record)
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return Delivery{}, fmt.Errorf("send to %s: %w", msg.Topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("сообщение записано в kafka")
	return Delivery{Partition: partition, Offset: offset}, nil
}

// Close закрывает соединения с брокерами.
func (p *Producer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
