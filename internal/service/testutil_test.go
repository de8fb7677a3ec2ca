package service

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"polyfinance/internal/auth"
	"polyfinance/internal/config"
	"polyfinance/internal/infrastructure/database"
	"polyfinance/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ctx = context.Background()

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "mysql"},
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{LedgerEvent: "ledger_event", P2PTradeResult: "p2p_trade_result"},
		},
		Auth:    config.AuthConfig{JWTSecret: "test-secret", TokenTTLHours: 1, AdminEmails: []string{"ops@polyfinance.local"}},
		Webhook: config.WebhookConfig{DedupeReference: true},
		Business: config.BusinessConfig{
			BaseDailyRate:     "0.1",
			InvestmentYield:   "0.075",
			TokenPrice:        "0.1",
			CommissionRate:    "0.1",
			MaxRetryCount:     3,
			OrderCacheSeconds: 30,
		},
	}
}

// newTestDB 每个测试一个独立的内存库；单连接，事务内只能用 tx
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual.String())
}

type accountOpt func(*model.Account)

func withUSDT(v string) accountOpt { return func(a *model.Account) { a.UsdtBalance = dec(v) } }
func withPFT(v string) accountOpt  { return func(a *model.Account) { a.PftBalance = dec(v) } }
func withInvestment(v string) accountOpt {
	return func(a *model.Account) { a.TotalInvestment = dec(v) }
}
func referredBy(code string) accountOpt { return func(a *model.Account) { a.ReferredBy = &code } }

var nextUID int64 = 200000

func seedAccount(t *testing.T, db *gorm.DB, opts ...accountOpt) *model.Account {
	t.Helper()
	nextUID++
	a := &model.Account{
		UID:          nextUID,
		Email:        fmt.Sprintf("user%d@example.com", nextUID),
		PasswordHash: "x",
		Role:         model.RoleUser,
		ReferralCode: fmt.Sprintf("PFT%d", nextUID),
		UsdtBalance:  decimal.Zero,
		PftBalance:   decimal.Zero,
	}
	for _, opt := range opts {
		opt(a)
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

func reload(t *testing.T, db *gorm.DB, id int64) *model.Account {
	t.Helper()
	var a model.Account
	require.NoError(t, db.First(&a, id).Error)
	return &a
}

func ledgerRows(t *testing.T, db *gorm.DB, accountID int64) []*model.AccountTransaction {
	t.Helper()
	var rows []*model.AccountTransaction
	require.NoError(t, db.Where("account_id = ?", accountID).Order("id ASC").Find(&rows).Error)
	return rows
}

func countRows(t *testing.T, db *gorm.DB, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}

// assertReconciled 期初余额 + 未取消流水之和 = 当前余额
func assertReconciled(t *testing.T, db *gorm.DB, accountID int64, asset model.Asset, opening string) {
	t.Helper()
	sum := dec(opening)
	for _, row := range ledgerRows(t, db, accountID) {
		if row.Asset == asset && row.Status != model.TransactionStatusCancelled {
			sum = sum.Add(row.Amount)
		}
	}
	assertDecimal(t, sum.String(), reload(t, db, accountID).Balance(asset))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func newTokenManager() *auth.TokenManager {
	return auth.NewTokenManager("test-secret", time.Hour)
}
