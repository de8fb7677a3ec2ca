package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

func ValidSide(side string) bool {
	return side == SideBuy || side == SideSell
}

const (
	TradeStatusPending   = "PENDING"
	TradeStatusSuccess   = "SUCCESS"
	TradeStatusCancelled = "CANCELLED"
)

// ValidTradeTransitions 交易只能从 PENDING 迁移一次，终态不可再变
var ValidTradeTransitions = map[string][]string{
	TradeStatusPending: {TradeStatusSuccess, TradeStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidTradeTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// P2POrder 商家挂单
// stock 只做展示，不随成交扣减
type P2POrder struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Side         string          `gorm:"type:varchar(10);index;not null" json:"type"`
	Price        decimal.Decimal `gorm:"type:decimal(36,2);not null" json:"price"` // 每单位法币价格
	Stock        decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"stock"`
	MerchantName string          `gorm:"type:varchar(255)" json:"merchant_name"`
	BankInfo     string          `gorm:"type:text" json:"bank_info"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (P2POrder) TableName() string {
	return "p2p_order"
}

// P2PTrade 用户针对挂单发起的成交请求
type P2PTrade struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID      int64           `gorm:"index;not null" json:"order_id"`
	AccountID    int64           `gorm:"index;not null" json:"account_id"`
	Amount       decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	FiatAmount   int64           `gorm:"index;not null" json:"amount_vnd"` // round(amount * price)
	UserBankInfo string          `gorm:"type:text" json:"user_bank_info"`
	Side         string          `gorm:"type:varchar(10);not null" json:"type"`
	Status       string          `gorm:"type:varchar(20);index;not null" json:"status"`
	AdminNote    string          `gorm:"type:text" json:"admin_note"`
	ResolvedAt   *time.Time      `json:"resolved_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (P2PTrade) TableName() string {
	return "p2p_trade"
}
