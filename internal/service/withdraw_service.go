package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

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
	WithdrawActionApprove = "APPROVE"
	WithdrawActionReject  = "REJECT"
)

// WithdrawService USDT 提现
// 申请时立即扣款并记一条 PENDING 流水；运营通过后流水变为 SETTLED，拒绝时取消流水并退回余额
type WithdrawService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewWithdrawService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WithdrawService {
	return &WithdrawService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

type WithdrawRequest struct {
	AccountID int64           `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Address   string          `json:"address" binding:"required"`
}

func (s *WithdrawService) Request(ctx context.Context, req *WithdrawRequest) (row *model.AccountTransaction, err error) {
	defer func() { metrics.RecordLedgerOperation("withdraw_request", err) }()

	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, fmt.Errorf("%w: 提现地址不能为空", ErrValidation)
	}
	if utf8.RuneCountInString(address) > model.ReferenceMaxLen {
		return nil, fmt.Errorf("%w: 提现地址过长", ErrValidation)
	}

	l := lock.NewAccountLock(s.redisClient, req.AccountID, uuid.NewString())
	err = withLock(ctx, l, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.accountRepo.Debit(ctx, tx, req.AccountID, model.AssetStable, req.Amount); err != nil {
				return err
			}
			account, err := s.accountRepo.GetByID(ctx, tx, req.AccountID)
			if err != nil {
				return err
			}

			row = newLedgerRow(account.ID, model.AssetStable, model.TransactionTypeWithdrawalPending, req.Amount.Neg(), account.UsdtBalance,
				model.TransactionStatusPending, address)
			if err := s.transactionRepo.Create(ctx, tx, row); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvent, model.EventWithdrawRequested, row.TransactionNo,
				map[string]interface{}{
					"transaction_no": row.TransactionNo,
					"account_id":     account.ID,
					"amount":         req.Amount.String(),
					"address":        address,
				}, s.now())
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("提现申请已提交",
		zap.Int64("account_id", req.AccountID),
		zap.String("amount", req.Amount.String()),
		zap.String("transaction_no", row.TransactionNo),
	)
	return row, nil
}

type ResolveWithdrawRequest struct {
	TransactionID int64  `json:"id" binding:"required"`
	Action        string `json:"action" binding:"required"`
}

// Resolve 运营处理提现，流水状态 CAS 保证只处理一次
func (s *WithdrawService) Resolve(ctx context.Context, req *ResolveWithdrawRequest) (row *model.AccountTransaction, err error) {
	defer func() { metrics.RecordLedgerOperation("withdraw_resolve", err) }()

	if req.Action != WithdrawActionApprove && req.Action != WithdrawActionReject {
		return nil, fmt.Errorf("%w: 不支持的操作 %q", ErrValidation, req.Action)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		row, err = s.transactionRepo.GetWithdrawalForUpdate(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}
		if row.Status != model.TransactionStatusPending {
			return ErrAlreadyResolved
		}

		if req.Action == WithdrawActionApprove {
			if err := s.transactionRepo.ResolveWithdrawal(ctx, tx, row.ID, model.TransactionTypeWithdrawalSettled, model.TransactionStatusSuccess); err != nil {
				return resolvedErr(err)
			}
			row.Type = model.TransactionTypeWithdrawalSettled
			row.Status = model.TransactionStatusSuccess
		} else {
			if err := s.transactionRepo.ResolveWithdrawal(ctx, tx, row.ID, model.TransactionTypeWithdrawalPending, model.TransactionStatusCancelled); err != nil {
				return resolvedErr(err)
			}
			// 流水取消后金额原路退回
			if err := s.accountRepo.Credit(ctx, tx, row.AccountID, row.Asset, row.Amount.Neg()); err != nil {
				return fmt.Errorf("退回余额失败: %w", err)
			}
			row.Status = model.TransactionStatusCancelled
		}

		return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvent, model.EventWithdrawResolved, row.TransactionNo,
			map[string]interface{}{
				"transaction_no": row.TransactionNo,
				"account_id":     row.AccountID,
				"amount":         row.Amount.String(),
				"status":         row.Status,
			}, s.now())
	})
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrWithdrawNotFound
		}
		return nil, err
	}

	logger.Log.Info("提现已处理",
		zap.Int64("id", row.ID),
		zap.String("action", req.Action),
		zap.String("status", row.Status),
	)
	return row, nil
}

func (s *WithdrawService) ListPending(ctx context.Context, limit int) ([]*model.AccountTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	return s.transactionRepo.ListPendingWithdrawals(ctx, limit)
}
