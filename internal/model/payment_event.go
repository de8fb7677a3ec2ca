package model

import (
	"time"
)

const (
	PaymentOutcomeMatched     = "MATCHED"
	PaymentOutcomeNoMatch     = "NO_MATCH"
	PaymentOutcomeAmbiguous   = "AMBIGUOUS"
	PaymentOutcomeNoUID       = "NO_UID"
	PaymentOutcomeMissingData = "MISSING_DATA"
	PaymentOutcomeDuplicate   = "DUPLICATE"
)

// PaymentEvent 银行到账通知记录
// 每次回调都落一条，便于排查；自动入账成功时 MatchedReference 写入银行流水号，
// 唯一索引保证同一笔银行流水最多入账一次
type PaymentEvent struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider         string    `gorm:"type:varchar(32);not null" json:"provider"`
	ReferenceCode    string    `gorm:"type:varchar(128);index" json:"reference_code"`
	MatchedReference *string   `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	Content          string    `gorm:"type:text" json:"content"`
	TransferAmount   int64     `gorm:"not null;default:0" json:"transfer_amount"`
	UID              int64     `gorm:"index" json:"uid"`
	TradeID          *int64    `json:"trade_id"`
	Outcome          string    `gorm:"type:varchar(20);index;not null" json:"outcome"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_event"
}
