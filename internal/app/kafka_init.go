package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если brokers не пустой.
// Пустой brokers — nil, nil: события остаются в outbox со статусом pending.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// newOutboxPublishers возвращает publisher основного топика и DLQ.
// DLQ выключен, если топик не задан.
func newOutboxPublishers(producer *kafka.Producer, cfg Config) (domain.OutboxPublisher, domain.OutboxPublisher) {
	publisher := kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
	if strings.TrimSpace(cfg.KafkaDLQTopic) == "" {
		return publisher, nil
	}
	return publisher, kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic, cfg.KafkaTopic)
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
