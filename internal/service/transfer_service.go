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

type TransferService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewTransferService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *TransferService {
	return &TransferService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

type TransferRequest struct {
	SenderID    int64           `json:"-"`
	ReceiverUID int64           `json:"to_uid" binding:"required"`
	Asset       string          `json:"asset" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
}

type TransferResponse struct {
	TransactionNo string          `json:"transaction_no"`
	Asset         model.Asset     `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// Transfer 站内转账
// 两个账户按 id 升序加行锁，扣款和入账在同一事务内，失败时不留下任何流水
func (s *TransferService) Transfer(ctx context.Context, req *TransferRequest) (resp *TransferResponse, err error) {
	defer func() { metrics.RecordLedgerOperation("transfer", err) }()

	asset, err := parseAsset(req.Asset)
	if err != nil {
		return nil, err
	}
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}

	receiver, err := s.accountRepo.GetByUID(ctx, nil, req.ReceiverUID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrUnknownRecipient
		}
		return nil, fmt.Errorf("查询收款账户失败: %w", err)
	}
	if receiver.ID == req.SenderID {
		return nil, ErrSelfTransfer
	}

	senderLock := lock.NewAccountLock(s.redisClient, req.SenderID, uuid.NewString())
	err = withLock(ctx, senderLock, func() error {
		resp, err = s.transfer(ctx, req.SenderID, receiver.ID, asset, req.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("转账成功",
		zap.Int64("sender_id", req.SenderID),
		zap.Int64("receiver_uid", req.ReceiverUID),
		zap.String("asset", string(asset)),
		zap.String("amount", req.Amount.String()),
	)
	return resp, nil
}

func (s *TransferService) transfer(ctx context.Context, senderID, receiverID int64, asset model.Asset, amount decimal.Decimal) (*TransferResponse, error) {
	resp := &TransferResponse{Asset: asset, Amount: amount}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		accounts, err := s.accountRepo.LockAccounts(ctx, tx, senderID, receiverID)
		if err != nil {
			return err
		}
		sender, receiver := accounts[senderID], accounts[receiverID]

		if sender.Balance(asset).LessThan(amount) {
			return ErrInsufficientBalance
		}

		if err := s.accountRepo.Debit(ctx, tx, sender.ID, asset, amount); err != nil {
			return err
		}
		if err := s.accountRepo.Credit(ctx, tx, receiver.ID, asset, amount); err != nil {
			return err
		}

		// 行已锁住，内存里的余额与库里一致
		sender.SetBalance(asset, sender.Balance(asset).Sub(amount))
		receiver.SetBalance(asset, receiver.Balance(asset).Add(amount))

		out := newLedgerRow(sender.ID, asset, model.TransactionTypeTransferOut, amount.Neg(), sender.Balance(asset),
			model.TransactionStatusSuccess, fmt.Sprintf("To UID: %d", receiver.UID))
		in := newLedgerRow(receiver.ID, asset, model.TransactionTypeTransferIn, amount, receiver.Balance(asset),
			model.TransactionStatusSuccess, fmt.Sprintf("From UID: %d", sender.UID))

		if err := s.transactionRepo.Create(ctx, tx, out); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}
		if err := s.transactionRepo.Create(ctx, tx, in); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		resp.TransactionNo = out.TransactionNo
		resp.NewBalance = sender.Balance(asset)

		return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvent, model.EventTransferCompleted, out.TransactionNo,
			map[string]interface{}{
				"transaction_no": out.TransactionNo,
				"sender_uid":     sender.UID,
				"receiver_uid":   receiver.UID,
				"asset":          asset,
				"amount":         amount.String(),
			}, s.now())
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
