package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"polyfinance/internal/config"
	"polyfinance/internal/infrastructure/cache"
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
	TradeActionApprove = "APPROVE"
	TradeActionReject  = "REJECT"
)

// P2PService 挂单与交易
//
// 交易状态只允许 PENDING → SUCCESS / CANCELLED 一次。运营审批、银行回调、超时任务
// 都通过同一个状态 CAS 抢占，先提交的生效，其余得到 ErrAlreadyResolved
type P2PService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	orderCache      *cache.OrderBookCache
	p2pRepo         *repository.P2PRepository
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewP2PService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *P2PService {
	return &P2PService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		orderCache:      cache.NewOrderBookCache(redisClient, time.Duration(cfg.Business.OrderCacheSeconds)*time.Second),
		p2pRepo:         repository.NewP2PRepository(db),
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

// ============================================================================
// 挂单（仅运营）
// ============================================================================

type CreateOrderRequest struct {
	Side         string          `json:"type" binding:"required"`
	Price        decimal.Decimal `json:"price"`
	Stock        decimal.Decimal `json:"stock"`
	MerchantName string          `json:"merchant_name"`
	BankInfo     string          `json:"bank_info"`
}

func (s *P2PService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*model.P2POrder, error) {
	if !model.ValidSide(req.Side) {
		return nil, fmt.Errorf("%w: 不支持的方向 %q", ErrValidation, req.Side)
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: 价格必须大于 0", ErrValidation)
	}
	if req.Stock.IsNegative() {
		return nil, fmt.Errorf("%w: 库存不能为负", ErrValidation)
	}

	order := &model.P2POrder{
		Side:         req.Side,
		Price:        req.Price,
		Stock:        req.Stock,
		MerchantName: req.MerchantName,
		BankInfo:     req.BankInfo,
	}
	if err := s.p2pRepo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("创建挂单失败: %w", err)
	}
	s.invalidateOrders(ctx)
	return order, nil
}

func (s *P2PService) DeleteOrder(ctx context.Context, orderID int64) error {
	if err := s.p2pRepo.DeleteOrder(ctx, orderID); err != nil {
		return err
	}
	s.invalidateOrders(ctx)
	return nil
}

const sideAll = "ALL"

// ListOrders side 为空或 ALL 返回全部，优先读缓存
func (s *P2PService) ListOrders(ctx context.Context, side string) ([]*model.P2POrder, error) {
	if side == sideAll {
		side = ""
	}
	if side != "" && !model.ValidSide(side) {
		return nil, fmt.Errorf("%w: 不支持的方向 %q", ErrValidation, side)
	}
	if orders, ok := s.orderCache.Get(ctx, side); ok {
		return orders, nil
	}

	orders, err := s.p2pRepo.ListOrders(ctx, side)
	if err != nil {
		return nil, err
	}
	if err := s.orderCache.Set(ctx, side, orders); err != nil {
		logger.Log.Warn("写入挂单缓存失败", zap.Error(err))
	}
	return orders, nil
}

func (s *P2PService) invalidateOrders(ctx context.Context) {
	if err := s.orderCache.Invalidate(ctx); err != nil {
		logger.Log.Warn("清理挂单缓存失败", zap.Error(err))
	}
}

// ============================================================================
// 交易
// ============================================================================

type TradeRequest struct {
	AccountID    int64           `json:"-"`
	OrderID      int64           `json:"order_id" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Side         string          `json:"type" binding:"required"`
	UserBankInfo string          `json:"user_bank_info"`
}

// RequestTrade 用户发起交易，只落一条 PENDING 记录，不动余额
func (s *P2PService) RequestTrade(ctx context.Context, req *TradeRequest) (*model.P2PTrade, error) {
	if !model.ValidSide(req.Side) {
		return nil, fmt.Errorf("%w: 不支持的方向 %q", ErrValidation, req.Side)
	}
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}

	order, err := s.p2pRepo.GetOrder(ctx, nil, req.OrderID)
	if err != nil {
		return nil, err
	}

	fiat := req.Amount.Mul(order.Price).Round(0)
	if !fiat.IsPositive() {
		return nil, fmt.Errorf("%w: 金额过小", ErrValidation)
	}

	trade := &model.P2PTrade{
		OrderID:      order.ID,
		AccountID:    req.AccountID,
		Amount:       req.Amount,
		FiatAmount:   fiat.IntPart(),
		UserBankInfo: req.UserBankInfo,
		Side:         req.Side,
		Status:       model.TradeStatusPending,
	}
	if err := s.p2pRepo.CreateTrade(ctx, nil, trade); err != nil {
		return nil, fmt.Errorf("创建交易失败: %w", err)
	}

	logger.Log.Info("创建 P2P 交易",
		zap.Int64("trade_id", trade.ID),
		zap.Int64("account_id", req.AccountID),
		zap.String("side", trade.Side),
		zap.Int64("fiat_amount", trade.FiatAmount),
	)
	return trade, nil
}

func (s *P2PService) ListMyTrades(ctx context.Context, accountID int64, page, pageSize int) ([]*model.P2PTrade, int64, error) {
	page, pageSize = pageParams(page, pageSize)
	return s.p2pRepo.ListTradesByAccount(ctx, accountID, page, pageSize)
}

func (s *P2PService) ListTrades(ctx context.Context, status string, page, pageSize int) ([]*model.P2PTrade, int64, error) {
	page, pageSize = pageParams(page, pageSize)
	return s.p2pRepo.ListTrades(ctx, status, page, pageSize)
}

type ResolveTradeRequest struct {
	TradeID int64  `json:"trade_id" binding:"required"`
	Action  string `json:"action" binding:"required"`
	Note    string `json:"note"`
}

// ResolveTrade 运营审批
// 买单通过：给用户加 USDT；卖单通过：条件扣减 USDT，余额不足整体回滚
func (s *P2PService) ResolveTrade(ctx context.Context, req *ResolveTradeRequest) (trade *model.P2PTrade, err error) {
	defer func() { metrics.RecordLedgerOperation("resolve_trade", err) }()

	if req.Action != TradeActionApprove && req.Action != TradeActionReject {
		return nil, fmt.Errorf("%w: 不支持的操作 %q", ErrValidation, req.Action)
	}

	l := lock.NewTradeLock(s.redisClient, req.TradeID, uuid.NewString())
	err = withLock(ctx, l, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			trade, err = s.p2pRepo.GetTradeForUpdate(ctx, tx, req.TradeID)
			if err != nil {
				return err
			}
			if trade.Status != model.TradeStatusPending {
				return ErrAlreadyResolved
			}

			now := s.now()
			if req.Action == TradeActionReject {
				if err := s.p2pRepo.UpdateTradeStatus(ctx, tx, trade.ID, model.TradeStatusPending, model.TradeStatusCancelled, req.Note, now); err != nil {
					return resolvedErr(err)
				}
				trade.Status = model.TradeStatusCancelled
			} else {
				if err := s.p2pRepo.UpdateTradeStatus(ctx, tx, trade.ID, model.TradeStatusPending, model.TradeStatusSuccess, req.Note, now); err != nil {
					return resolvedErr(err)
				}
				if err := s.settleTrade(ctx, tx, trade); err != nil {
					return err
				}
				trade.Status = model.TradeStatusSuccess
			}
			trade.AdminNote = req.Note
			trade.ResolvedAt = &now

			return s.enqueueTradeResult(ctx, tx, trade, "admin", now)
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("P2P 交易已处理",
		zap.Int64("trade_id", trade.ID),
		zap.String("action", req.Action),
		zap.String("status", trade.Status),
	)
	return trade, nil
}

// settleTrade 交易通过后的资金变动
func (s *P2PService) settleTrade(ctx context.Context, tx *gorm.DB, trade *model.P2PTrade) error {
	switch trade.Side {
	case model.SideBuy:
		if err := s.accountRepo.Credit(ctx, tx, trade.AccountID, model.AssetStable, trade.Amount); err != nil {
			return err
		}
		account, err := s.accountRepo.GetByID(ctx, tx, trade.AccountID)
		if err != nil {
			return err
		}
		row := newLedgerRow(account.ID, model.AssetStable, model.TransactionTypeDeposit, trade.Amount, account.UsdtBalance,
			model.TransactionStatusSuccess, fmt.Sprintf("P2P Buy #%d", trade.ID))
		return s.transactionRepo.Create(ctx, tx, row)

	case model.SideSell:
		if err := s.accountRepo.Debit(ctx, tx, trade.AccountID, model.AssetStable, trade.Amount); err != nil {
			return err
		}
		account, err := s.accountRepo.GetByID(ctx, tx, trade.AccountID)
		if err != nil {
			return err
		}
		row := newLedgerRow(account.ID, model.AssetStable, model.TransactionTypeWithdrawalSettled, trade.Amount.Neg(), account.UsdtBalance,
			model.TransactionStatusSuccess, fmt.Sprintf("P2P Sell #%d", trade.ID))
		return s.transactionRepo.Create(ctx, tx, row)
	}
	return fmt.Errorf("%w: 未知交易方向 %q", ErrValidation, trade.Side)
}

func (s *P2PService) enqueueTradeResult(ctx context.Context, tx *gorm.DB, trade *model.P2PTrade, source string, now time.Time) error {
	return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.P2PTradeResult, model.EventTradeResolved, fmt.Sprintf("trade-%d", trade.ID),
		map[string]interface{}{
			"trade_id":    trade.ID,
			"account_id":  trade.AccountID,
			"side":        trade.Side,
			"amount":      trade.Amount.String(),
			"fiat_amount": trade.FiatAmount,
			"status":      trade.Status,
			"source":      source,
		}, now)
}

// ExpireStaleTrades 取消创建时间早于 olderThan 的 PENDING 交易，返回取消条数
func (s *P2PService) ExpireStaleTrades(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	now := s.now()
	trades, err := s.p2pRepo.GetExpiredTrades(ctx, now.Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("查询超时交易失败: %w", err)
	}

	expired := 0
	for _, trade := range trades {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.p2pRepo.UpdateTradeStatus(ctx, tx, trade.ID, model.TradeStatusPending, model.TradeStatusCancelled, "Expired", now); err != nil {
				return resolvedErr(err)
			}
			trade.Status = model.TradeStatusCancelled
			return s.enqueueTradeResult(ctx, tx, trade, "timeout", now)
		})
		if errors.Is(err, ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			logger.Log.Error("取消超时交易失败", zap.Int64("trade_id", trade.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}
