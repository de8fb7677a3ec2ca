package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"polyfinance/internal/infrastructure/lock"
	"polyfinance/internal/model"
	"polyfinance/internal/repository"
	"polyfinance/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// creditPlaces 计算得出的入账金额（兑换、挖矿、佣金）统一截断到 8 位小数
const creditPlaces = 8

// storePlaces 余额和流水列都是 decimal(36,18)，超出精度的金额落库会被四舍五入
const storePlaces = 18

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: 金额必须大于 0", ErrValidation)
	}
	if !amount.Equal(amount.Truncate(storePlaces)) {
		return fmt.Errorf("%w: 金额最多 %d 位小数", ErrValidation, storePlaces)
	}
	return nil
}

func parseAsset(s string) (model.Asset, error) {
	asset, ok := model.ParseAsset(s)
	if !ok {
		return "", fmt.Errorf("%w: 不支持的资产 %q", ErrValidation, s)
	}
	return asset, nil
}

func newLedgerRow(accountID int64, asset model.Asset, typ string, amount, balanceAfter decimal.Decimal, status, reference string) *model.AccountTransaction {
	return &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		AccountID:     accountID,
		Asset:         asset,
		Type:          typ,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Status:        status,
		Reference:     reference,
	}
}

// enqueueEvent 写入发件箱，必须在业务事务内调用
func enqueueEvent(ctx context.Context, tx *gorm.DB, repo *repository.OutboxRepository, topic, eventType, key string, payload map[string]interface{}, now time.Time) error {
	payload["event_type"] = eventType
	payload["occurred_at"] = now.Format(time.RFC3339)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := repo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// withLock 拿到分布式锁后执行 fn
func withLock(ctx context.Context, l *lock.DistributedLock, fn func() error) error {
	if err := l.Lock(ctx, 50*time.Millisecond, 60); err != nil {
		return fmt.Errorf("%w: %v", ErrSystemBusy, err)
	}
	defer l.Unlock(context.Background())
	return fn()
}

func pageParams(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
