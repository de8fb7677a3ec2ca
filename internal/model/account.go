package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 资产类型
// ============================================================================

// Asset 平台支持的两种资产
type Asset string

const (
	AssetStable Asset = "USDT" // 稳定币
	AssetToken  Asset = "PFT"  // 平台代币
)

// ParseAsset 解析客户端传入的资产名，大小写不敏感
func ParseAsset(s string) (Asset, bool) {
	switch s {
	case "USDT", "usdt":
		return AssetStable, true
	case "PFT", "pft":
		return AssetToken, true
	}
	return "", false
}

// Column 资产对应的余额列
// 列名只能从这里取，禁止拼接外部输入
func (a Asset) Column() string {
	switch a {
	case AssetStable:
		return "usdt_balance"
	case AssetToken:
		return "pft_balance"
	}
	panic("unknown asset: " + string(a))
}

// ============================================================================
// 安全设置
// ============================================================================

// SecurityOption 客户端可切换的安全开关
type SecurityOption string

const (
	SecurityTwoFactor  SecurityOption = "2fa_auth"
	SecurityBiometric  SecurityOption = "biometric"
	SecurityEmailAlert SecurityOption = "email_alert"
)

func ParseSecurityOption(s string) (SecurityOption, bool) {
	switch o := SecurityOption(s); o {
	case SecurityTwoFactor, SecurityBiometric, SecurityEmailAlert:
		return o, true
	}
	return "", false
}

// Column 开关对应的列，同 Asset.Column 一样只从白名单取
func (o SecurityOption) Column() string {
	switch o {
	case SecurityTwoFactor:
		return "security_2fa"
	case SecurityBiometric:
		return "security_biometric"
	case SecurityEmailAlert:
		return "security_email_alert"
	}
	panic("unknown security option: " + string(o))
}

// ============================================================================
// 账户实体
// ============================================================================

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// KYCStatus 实名认证状态
type KYCStatus int

const (
	KYCNone     KYCStatus = 0
	KYCVerified KYCStatus = 1
	KYCPending  KYCStatus = 2
)

// Account 用户账户表
// 两种资产余额都保存在这里，是"当前余额"的唯一来源
//
// 【重要】余额只能通过条件更新修改：
//
//	UPDATE account SET col = col - ? WHERE id = ? AND col >= ?
//
// 任何时刻两种余额都不能为负
type Account struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UID             int64           `gorm:"uniqueIndex;not null" json:"uid"` // 6位公开ID，银行转账备注里用它识别用户
	Email           string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash    string          `gorm:"type:varchar(255);not null" json:"-"`
	Fullname        string          `gorm:"type:varchar(255)" json:"fullname"`
	Role            string          `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	ReferralCode    string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"referral_code"`
	ReferredBy      *string         `gorm:"type:varchar(50);index" json:"referred_by"` // 上级的推荐码，不做外键约束
	UsdtBalance     decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"usdt_balance"`
	PftBalance      decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"pft_balance"`
	TotalInvestment decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"total_investment"`
	LastClaimAt     *time.Time      `json:"last_claim_at"` // 挖矿收益结算检查点
	KYCStatus       KYCStatus       `gorm:"not null;default:0" json:"kyc_status"`
	KYCFullname     string          `gorm:"type:varchar(255)" json:"kyc_fullname,omitempty"`
	KYCIDNumber     string          `gorm:"column:kyc_id_number;type:varchar(100)" json:"-"`
	AssignedWallet  string          `gorm:"type:varchar(255)" json:"assigned_wallet"`
	Security2FA     bool            `gorm:"column:security_2fa;not null;default:false" json:"security_2fa"`
	SecurityBio     bool            `gorm:"column:security_biometric;not null;default:true" json:"security_biometric"`
	SecurityAlert   bool            `gorm:"column:security_email_alert;not null;default:false" json:"security_email_alert"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// Balance 按资产读取余额
func (a *Account) Balance(asset Asset) decimal.Decimal {
	switch asset {
	case AssetStable:
		return a.UsdtBalance
	case AssetToken:
		return a.PftBalance
	}
	return decimal.Zero
}

// SetBalance 按资产写入余额（只更新内存对象，不落库）
func (a *Account) SetBalance(asset Asset, v decimal.Decimal) {
	switch asset {
	case AssetStable:
		a.UsdtBalance = v
	case AssetToken:
		a.PftBalance = v
	}
}
