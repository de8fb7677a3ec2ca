package model

import (
	"time"
)

const (
	WalletRequestPending = "PENDING"
	WalletRequestDone    = "SUCCESS"
)

// WalletRequest 用户申请分配充值钱包地址
type WalletRequest struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64     `gorm:"index;not null" json:"account_id"`
	Status    string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletRequest) TableName() string {
	return "wallet_request"
}
