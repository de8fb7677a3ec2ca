package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polyfinance/internal/config"
	"polyfinance/internal/infrastructure/lock"
	"polyfinance/internal/infrastructure/metrics"
	"polyfinance/internal/logger"
	"polyfinance/internal/model"
	"polyfinance/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var secondsPerDay = decimal.NewFromInt(86400)

// MiningService 挖矿收益与矿机购买
//
// 日产出 = base + total_investment * yield / token_price
// 收益 = 日产出 / 86400 * 距上次结算的秒数
//
// 查询状态和领取都会把收益结算进 PFT 余额并推进检查点，结算不写流水
type MiningService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	rates           config.Rates
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewMiningService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *MiningService {
	return &MiningService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		rates:           cfg.Business.MustRates(),
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

type MiningStatus struct {
	PftBalance      decimal.Decimal `json:"pft_balance"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	DailyRate       decimal.Decimal `json:"daily_mining"`
	Earned          decimal.Decimal `json:"earned"`
	LastClaimAt     time.Time       `json:"last_claim_at"`
}

// DailyRate 按累计投资额计算日产出
func (s *MiningService) DailyRate(totalInvestment decimal.Decimal) decimal.Decimal {
	return s.rates.BaseDailyRate.Add(totalInvestment.Mul(s.rates.InvestmentYield).Div(s.rates.TokenPrice))
}

// accrued 检查点为空时视为刚结算过；时钟回拨时收益为 0
func (s *MiningService) accrued(account *model.Account, now time.Time) (daily, earned decimal.Decimal) {
	daily = s.DailyRate(account.TotalInvestment)
	if account.LastClaimAt == nil {
		return daily, decimal.Zero
	}
	elapsed := now.Sub(*account.LastClaimAt)
	if elapsed <= 0 {
		return daily, decimal.Zero
	}
	seconds := decimal.NewFromInt(elapsed.Milliseconds()).Div(decimal.NewFromInt(1000))
	earned = daily.Mul(seconds).Div(secondsPerDay).Truncate(creditPlaces)
	return daily, earned
}

// settle 在 tx 内锁定账户并结算收益，返回结算后的账户
func (s *MiningService) settle(ctx context.Context, tx *gorm.DB, accountID int64, now time.Time) (*model.Account, *MiningStatus, error) {
	account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, nil, err
	}

	daily, earned := s.accrued(account, now)
	if err := s.accountRepo.SettleAccrual(ctx, tx, account.ID, earned, now); err != nil {
		return nil, nil, err
	}
	account.PftBalance = account.PftBalance.Add(earned)
	account.LastClaimAt = &now

	return account, &MiningStatus{
		PftBalance:      account.PftBalance,
		TotalInvestment: account.TotalInvestment,
		DailyRate:       daily,
		Earned:          earned,
		LastClaimAt:     now,
	}, nil
}

// Status 查询挖矿状态（同时结算）
func (s *MiningService) Status(ctx context.Context, accountID int64) (*MiningStatus, error) {
	var status *MiningStatus
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		_, status, err = s.settle(ctx, tx, accountID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Claim 领取挖矿收益
func (s *MiningService) Claim(ctx context.Context, accountID int64) (*MiningStatus, error) {
	status, err := s.Status(ctx, accountID)
	metrics.RecordLedgerOperation("claim", err)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("领取挖矿收益",
		zap.Int64("account_id", accountID),
		zap.String("earned", status.Earned.String()),
	)
	return status, nil
}

type InvestRequest struct {
	AccountID int64           `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
}

type InvestResponse struct {
	UsdtBalance     decimal.Decimal `json:"usdt_balance"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	DailyRate       decimal.Decimal `json:"daily_mining"`
	Commission      decimal.Decimal `json:"commission"`
	ReferrerUID     int64           `json:"referrer_uid,omitempty"`
}

// Invest 购买矿机
// 先按旧日产出结算收益，再扣 USDT、累加投资额，最后给上级发佣金
// 上级不存在时跳过佣金，不影响投资本身
func (s *MiningService) Invest(ctx context.Context, req *InvestRequest) (resp *InvestResponse, err error) {
	defer func() { metrics.RecordLedgerOperation("invest", err) }()

	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}

	l := lock.NewAccountLock(s.redisClient, req.AccountID, uuid.NewString())
	err = withLock(ctx, l, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			now := s.now()
			account, _, err := s.settle(ctx, tx, req.AccountID, now)
			if err != nil {
				return err
			}

			if err := s.accountRepo.Invest(ctx, tx, account.ID, req.Amount); err != nil {
				return err
			}
			usdtAfter := account.UsdtBalance.Sub(req.Amount)
			totalAfter := account.TotalInvestment.Add(req.Amount)

			row := newLedgerRow(account.ID, model.AssetStable, model.TransactionTypeInvestment, req.Amount.Neg(), usdtAfter,
				model.TransactionStatusSuccess, "Mining purchase")
			if err := s.transactionRepo.Create(ctx, tx, row); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			resp = &InvestResponse{
				UsdtBalance:     usdtAfter,
				TotalInvestment: totalAfter,
				DailyRate:       s.DailyRate(totalAfter),
				Commission:      decimal.Zero,
			}

			if err := s.payCommission(ctx, tx, account, req.Amount, resp); err != nil {
				return err
			}

			return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvent, model.EventInvestmentMade, row.TransactionNo,
				map[string]interface{}{
					"account_id":   account.ID,
					"uid":          account.UID,
					"amount":       req.Amount.String(),
					"commission":   resp.Commission.String(),
					"referrer_uid": resp.ReferrerUID,
				}, now)
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("购买矿机成功",
		zap.Int64("account_id", req.AccountID),
		zap.String("amount", req.Amount.String()),
		zap.String("commission", resp.Commission.String()),
	)
	return resp, nil
}

func (s *MiningService) payCommission(ctx context.Context, tx *gorm.DB, investor *model.Account, amount decimal.Decimal, resp *InvestResponse) error {
	if investor.ReferredBy == nil || *investor.ReferredBy == "" {
		return nil
	}

	referrer, err := s.accountRepo.GetByReferralCode(ctx, tx, *investor.ReferredBy)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			logger.Log.Warn("上级推荐码不存在，跳过佣金",
				zap.Int64("account_id", investor.ID),
				zap.String("referred_by", *investor.ReferredBy),
			)
			return nil
		}
		return err
	}
	if referrer.ID == investor.ID {
		return nil
	}

	commission := amount.Mul(s.rates.CommissionRate).Truncate(creditPlaces)
	if !commission.IsPositive() {
		return nil
	}

	if err := s.accountRepo.Credit(ctx, tx, referrer.ID, model.AssetStable, commission); err != nil {
		return err
	}
	referrer, err = s.accountRepo.GetByID(ctx, tx, referrer.ID)
	if err != nil {
		return err
	}

	row := newLedgerRow(referrer.ID, model.AssetStable, model.TransactionTypeAffiliateCommission, commission, referrer.UsdtBalance,
		model.TransactionStatusSuccess, fmt.Sprintf("Commission from UID: %d", investor.UID))
	if err := s.transactionRepo.Create(ctx, tx, row); err != nil {
		return fmt.Errorf("记录佣金流水失败: %w", err)
	}

	resp.Commission = commission
	resp.ReferrerUID = referrer.UID
	return nil
}
