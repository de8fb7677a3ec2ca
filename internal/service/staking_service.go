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

// StakingService 质押只做扣款记账，到期与派息由其他流程处理
type StakingService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewStakingService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *StakingService {
	return &StakingService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

type StakeRequest struct {
	AccountID int64           `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Days      int             `json:"days" binding:"gte=0"`
}

type StakeResponse struct {
	TransactionNo string          `json:"transaction_no"`
	Amount        decimal.Decimal `json:"amount"`
	PftBalance    decimal.Decimal `json:"pft_balance"`
}

func (s *StakingService) Stake(ctx context.Context, req *StakeRequest) (resp *StakeResponse, err error) {
	defer func() { metrics.RecordLedgerOperation("stake", err) }()

	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}

	l := lock.NewAccountLock(s.redisClient, req.AccountID, uuid.NewString())
	err = withLock(ctx, l, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.accountRepo.Debit(ctx, tx, req.AccountID, model.AssetToken, req.Amount); err != nil {
				return err
			}
			account, err := s.accountRepo.GetByID(ctx, tx, req.AccountID)
			if err != nil {
				return err
			}

			row := newLedgerRow(account.ID, model.AssetToken, model.TransactionTypeStake, req.Amount.Neg(), account.PftBalance,
				model.TransactionStatusSuccess, fmt.Sprintf("Staking %d days", req.Days))
			if err := s.transactionRepo.Create(ctx, tx, row); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			resp = &StakeResponse{
				TransactionNo: row.TransactionNo,
				Amount:        req.Amount,
				PftBalance:    account.PftBalance,
			}

			return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvent, model.EventStakeCreated, row.TransactionNo,
				map[string]interface{}{
					"account_id": account.ID,
					"amount":     req.Amount.String(),
					"days":       req.Days,
				}, s.now())
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("质押成功", zap.Int64("account_id", req.AccountID), zap.String("amount", req.Amount.String()))
	return resp, nil
}
