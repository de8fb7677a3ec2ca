package service

import (
	"context"
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

const (
	SwapStableToToken = "STABLE_TO_TOKEN"
	SwapTokenToStable = "TOKEN_TO_STABLE"
)

type SwapService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewSwapService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *SwapService {
	return &SwapService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

type SwapRequest struct {
	AccountID int64           `json:"-"`
	Direction string          `json:"direction" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"price"` // 每个 PFT 的 USDT 价格
}

type SwapResponse struct {
	Direction   string          `json:"direction"`
	Debited     decimal.Decimal `json:"debited"`
	Credited    decimal.Decimal `json:"credited"`
	UsdtBalance decimal.Decimal `json:"usdt_balance"`
	PftBalance  decimal.Decimal `json:"pft_balance"`
}

// swapLeg 兑换方向对应的资产和流水备注
type swapLeg struct {
	from, to     model.Asset
	debitRef     string
	creditRef    string
	computeValue func(amount, rate decimal.Decimal) decimal.Decimal
}

var swapLegs = map[string]swapLeg{
	SwapStableToToken: {
		from: model.AssetStable, to: model.AssetToken,
		debitRef: "USDT -> PFT", creditRef: "PFT (Swap)",
		computeValue: func(amount, rate decimal.Decimal) decimal.Decimal { return amount.Div(rate) },
	},
	SwapTokenToStable: {
		from: model.AssetToken, to: model.AssetStable,
		debitRef: "PFT -> USDT", creditRef: "USDT (Swap)",
		computeValue: func(amount, rate decimal.Decimal) decimal.Decimal { return amount.Mul(rate) },
	},
}

// Swap 两种资产互换，一条条件更新同时修改两列
func (s *SwapService) Swap(ctx context.Context, req *SwapRequest) (resp *SwapResponse, err error) {
	defer func() { metrics.RecordLedgerOperation("swap", err) }()

	leg, ok := swapLegs[req.Direction]
	if !ok {
		return nil, fmt.Errorf("%w: 不支持的兑换方向 %q", ErrValidation, req.Direction)
	}
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	if !req.Rate.IsPositive() {
		return nil, fmt.Errorf("%w: 价格必须大于 0", ErrValidation)
	}

	credit := leg.computeValue(req.Amount, req.Rate).Truncate(creditPlaces)
	if !credit.IsPositive() {
		return nil, fmt.Errorf("%w: 兑换金额过小", ErrValidation)
	}

	l := lock.NewAccountLock(s.redisClient, req.AccountID, uuid.NewString())
	err = withLock(ctx, l, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.accountRepo.Exchange(ctx, tx, req.AccountID, leg.from, leg.to, req.Amount, credit); err != nil {
				return err
			}

			account, err := s.accountRepo.GetByID(ctx, tx, req.AccountID)
			if err != nil {
				return err
			}

			debitRow := newLedgerRow(account.ID, leg.from, model.TransactionTypeSwap, req.Amount.Neg(), account.Balance(leg.from),
				model.TransactionStatusSuccess, leg.debitRef)
			creditRow := newLedgerRow(account.ID, leg.to, model.TransactionTypeSwap, credit, account.Balance(leg.to),
				model.TransactionStatusSuccess, leg.creditRef)
			if err := s.transactionRepo.Create(ctx, tx, debitRow); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
			if err := s.transactionRepo.Create(ctx, tx, creditRow); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			resp = &SwapResponse{
				Direction:   req.Direction,
				Debited:     req.Amount,
				Credited:    credit,
				UsdtBalance: account.UsdtBalance,
				PftBalance:  account.PftBalance,
			}

			return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvent, model.EventSwapCompleted, debitRow.TransactionNo,
				map[string]interface{}{
					"account_id": account.ID,
					"direction":  req.Direction,
					"debited":    req.Amount.String(),
					"credited":   credit.String(),
					"rate":       req.Rate.String(),
				}, s.now())
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("兑换成功",
		zap.Int64("account_id", req.AccountID),
		zap.String("direction", req.Direction),
		zap.String("debited", req.Amount.String()),
		zap.String("credited", credit.String()),
	)
	return resp, nil
}
