package mq

import (
	"fmt"

	"polyfinance/internal/config"
	"polyfinance/internal/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher 发件箱投递目标
// OutboxSender 只依赖这个接口，测试里可以换成 sarama mocks
type Publisher interface {
	Publish(topic, key, value string) error
	Close() error
}

// KafkaPublisher 基于 sarama 同步生产者
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher 包装已有的生产者
func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// InitKafka 创建 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	logger.Log.Info("Kafka 生产者创建成功", zap.Strings("brokers", cfg.Brokers))
	return NewKafkaPublisher(producer), nil
}

// Publish 发送一条消息，key 相同的消息落在同一分区
func (p *KafkaPublisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// LogPublisher Kafka 未启用时使用，只记录日志，消息照常标记为已发送
type LogPublisher struct{}

func (LogPublisher) Publish(topic, key, value string) error {
	logger.Log.Debug("Kafka 未启用，事件仅记录日志",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.String("value", value),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
