package job

import (
	"context"
	"time"

	"polyfinance/internal/logger"
	"polyfinance/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TradeTimeoutJob 定时取消长时间无人处理的 P2P 交易
// 与运营审批、银行回调抢同一个状态 CAS，已处理的交易不受影响
type TradeTimeoutJob struct {
	p2pService *service.P2PService
	cron       *cron.Cron
	timeout    time.Duration
	batchSize  int
	schedule   string
}

// NewTradeTimeoutJob timeoutHours <= 0 时返回 nil，表示不启用
func NewTradeTimeoutJob(p2pService *service.P2PService, timeoutHours int) *TradeTimeoutJob {
	if timeoutHours <= 0 {
		return nil
	}
	return &TradeTimeoutJob{
		p2pService: p2pService,
		cron:       cron.New(),
		timeout:    time.Duration(timeoutHours) * time.Hour,
		batchSize:  100,
		schedule:   "*/1 * * * *",
	}
}

func (j *TradeTimeoutJob) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		j.expireTrades(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	logger.Log.Info("[TradeTimeoutJob] 交易超时任务启动", zap.Duration("timeout", j.timeout))
	return nil
}

// Stop 等待正在执行的一轮结束
func (j *TradeTimeoutJob) Stop() {
	<-j.cron.Stop().Done()
	logger.Log.Info("[TradeTimeoutJob] 任务停止")
}

func (j *TradeTimeoutJob) expireTrades(ctx context.Context) {
	n, err := j.p2pService.ExpireStaleTrades(ctx, j.timeout, j.batchSize)
	if err != nil {
		logger.Log.Error("[TradeTimeoutJob] 取消超时交易失败", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Log.Info("[TradeTimeoutJob] 本次取消超时交易", zap.Int("count", n))
	}
}
