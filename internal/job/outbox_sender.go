package job

import (
	"context"
	"time"

	"polyfinance/internal/config"
	"polyfinance/internal/infrastructure/metrics"
	"polyfinance/internal/infrastructure/mq"
	"polyfinance/internal/logger"
	"polyfinance/internal/model"
	"polyfinance/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 轮询发件箱，把账务事件投递到 Kafka
// 投递是至少一次语义，消费方按 message_key 去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Log.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			logger.Log.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.Log.Error("[OutboxSender] 查询消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	metrics.RecordOutboxDelivery(err == nil)

	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			logger.Log.Error("[OutboxSender] 更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		} else {
			logger.Log.Debug("[OutboxSender] 消息发送成功",
				zap.Int64("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.String("event_type", msg.EventType),
			)
		}
		return
	}

	logger.Log.Warn("[OutboxSender] 消息发送失败", zap.Int64("id", msg.ID), zap.Int("retry", msg.RetryCount), zap.Error(err))

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.Log.Error("[OutboxSender] 增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.Log.Error("[OutboxSender] 标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			logger.Log.Error("[OutboxSender] 消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID))
		}
	}
}
