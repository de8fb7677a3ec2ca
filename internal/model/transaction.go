package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceMaxLen reference 列的字符上限
const ReferenceMaxLen = 512

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	TransactionTypeTransferOut         = "TRANSFER_OUT"
	TransactionTypeTransferIn          = "TRANSFER_IN"
	TransactionTypeSwap                = "SWAP"
	TransactionTypeDeposit             = "DEPOSIT"
	TransactionTypeWithdrawalPending   = "WITHDRAWAL_PENDING"
	TransactionTypeWithdrawalSettled   = "WITHDRAWAL_SETTLED"
	TransactionTypeStake               = "STAKE"
	TransactionTypeAffiliateCommission = "AFFILIATE_COMMISSION"
	TransactionTypeInvestment          = "INVESTMENT" // 购买矿机的扣款
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusSuccess   = "SUCCESS"
	TransactionStatusCancelled = "CANCELLED"
)

// ============================================================================
// 账户流水实体
// ============================================================================

// AccountTransaction 账户流水表
// 记录账户的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不删除 —— 只有提现流水允许状态迁移
// 2. 每笔流水标明资产 —— 两种资产分别对账
// 3. 记录交易后余额 —— 便于校验余额一致性
type AccountTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	AccountID     int64           `gorm:"index;not null" json:"account_id"`
	Asset         Asset           `gorm:"type:varchar(8);not null" json:"asset"`
	Type          string          `gorm:"type:varchar(32);index;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"` // 正数入账，负数出账
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"balance_after"`
	Status        string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Reference     string          `gorm:"type:varchar(512)" json:"reference"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
