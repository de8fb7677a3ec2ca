package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 出站事件类型
const (
	EventTransferCompleted = "transfer.completed"
	EventSwapCompleted     = "swap.completed"
	EventStakeCreated      = "stake.created"
	EventInvestmentMade    = "investment.made"
	EventTradeResolved     = "p2p.trade.resolved"
	EventPaymentMatched    = "p2p.payment.matched"
	EventWithdrawRequested = "withdraw.requested"
	EventWithdrawResolved  = "withdraw.resolved"
	EventBalanceCredited   = "balance.credited"
)

// OutboxMessage 事务性发件箱
// 与余额变动在同一个事务内写入，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
