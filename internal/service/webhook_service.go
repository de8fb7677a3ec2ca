package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
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

const ProviderSepay = "SEPAY"

// uidPattern 转账备注里独立出现的 6 位数字，前后不能紧挨其他数字
var uidPattern = regexp.MustCompile(`(?:^|\D)(\d{6})(?:\D|$)`)

// ExtractUID 从转账备注中提取 UID
func ExtractUID(content string) (int64, bool) {
	m := uidPattern.FindStringSubmatch(content)
	if m == nil {
		return 0, false
	}
	uid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return uid, true
}

// WebhookService 银行到账通知自动匹配
//
// 这是唯一由外部不可信方触发的资金入口：只有 UID、金额、PENDING、BUY 四项全部
// 精确命中且唯一时才入账。其余情况只记录通知，不产生任何资金变动
type WebhookService struct {
	db               *gorm.DB
	redisClient      *redis.Client
	cfg              *config.Config
	accountRepo      *repository.AccountRepository
	p2pRepo          *repository.P2PRepository
	transactionRepo  *repository.TransactionRepository
	paymentEventRepo *repository.PaymentEventRepository
	outboxRepo       *repository.OutboxRepository
	now              func() time.Time
}

func NewWebhookService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WebhookService {
	return &WebhookService{
		db:               db,
		redisClient:      redisClient,
		cfg:              cfg,
		accountRepo:      repository.NewAccountRepository(db),
		p2pRepo:          repository.NewP2PRepository(db),
		transactionRepo:  repository.NewTransactionRepository(db),
		paymentEventRepo: repository.NewPaymentEventRepository(db),
		outboxRepo:       repository.NewOutboxRepository(db),
		now:              time.Now,
	}
}

type PaymentNotification struct {
	Provider       string
	Content        string
	TransferAmount decimal.Decimal
	ReferenceCode  string
}

type MatchResult struct {
	Outcome    string          `json:"outcome"`
	Matched    bool            `json:"matched"`
	UID        int64           `json:"uid,omitempty"`
	TradeID    int64           `json:"trade_id,omitempty"`
	Credited   decimal.Decimal `json:"credited,omitempty"`
	FiatAmount int64           `json:"fiat_amount,omitempty"`
}

func approvalNote(reference string) string {
	if reference == "" {
		reference = "N/A"
	}
	return fmt.Sprintf("Auto-approved by Sepay (Ref: %s)", reference)
}

// MatchExternalPayment 处理一条到账通知
// 只有存储层故障才返回 error；匹配不上是正常业务结果
func (s *WebhookService) MatchExternalPayment(ctx context.Context, n *PaymentNotification) (result *MatchResult, err error) {
	if n.Provider == "" {
		n.Provider = ProviderSepay
	}
	defer func() {
		if result != nil {
			metrics.RecordWebhookOutcome(result.Outcome)
		}
	}()

	if n.Content == "" || !n.TransferAmount.IsPositive() {
		return s.recordMiss(ctx, n, 0, 0, model.PaymentOutcomeMissingData)
	}

	uid, ok := ExtractUID(n.Content)
	fiat := n.TransferAmount.Round(0).IntPart()
	if !ok {
		logger.Log.Info("到账备注中没有 UID", zap.String("content", n.Content), zap.String("reference", n.ReferenceCode))
		return s.recordMiss(ctx, n, 0, fiat, model.PaymentOutcomeNoUID)
	}

	l := lock.NewUIDLock(s.redisClient, uid, uuid.NewString())
	err = withLock(ctx, l, func() error {
		result, err = s.match(ctx, n, uid, fiat)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 并发的同一笔银行流水，唯一索引拦下了第二次入账
		return s.recordMiss(ctx, n, uid, fiat, model.PaymentOutcomeDuplicate)
	}
	if err != nil {
		logger.Log.Error("到账匹配失败", zap.Int64("uid", uid), zap.Int64("amount", fiat), zap.Error(err))
		return nil, err
	}

	logger.Log.Info("到账通知处理完成",
		zap.String("outcome", result.Outcome),
		zap.Int64("uid", uid),
		zap.Int64("amount", fiat),
		zap.Int64("trade_id", result.TradeID),
		zap.String("reference", n.ReferenceCode),
	)
	return result, nil
}

func (s *WebhookService) match(ctx context.Context, n *PaymentNotification, uid, fiat int64) (*MatchResult, error) {
	result := &MatchResult{UID: uid, FiatAmount: fiat}
	dedupe := s.cfg.Webhook.DedupeReference && n.ReferenceCode != ""

	err := s.db.Transaction(func(tx *gorm.DB) error {
		event := &model.PaymentEvent{
			Provider:       n.Provider,
			ReferenceCode:  n.ReferenceCode,
			Content:        n.Content,
			TransferAmount: fiat,
			UID:            uid,
		}

		outcome, trade, err := s.findTrade(ctx, tx, n.ReferenceCode, dedupe, uid, fiat)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		event.Outcome = outcome
		if trade == nil {
			return s.paymentEventRepo.Create(ctx, tx, event)
		}

		now := s.now()
		note := approvalNote(n.ReferenceCode)
		if err := s.p2pRepo.UpdateTradeStatus(ctx, tx, trade.ID, model.TradeStatusPending, model.TradeStatusSuccess, note, now); err != nil {
			return resolvedErr(err)
		}
		if err := s.accountRepo.Credit(ctx, tx, trade.AccountID, model.AssetStable, trade.Amount); err != nil {
			return err
		}
		account, err := s.accountRepo.GetByID(ctx, tx, trade.AccountID)
		if err != nil {
			return err
		}

		row := newLedgerRow(account.ID, model.AssetStable, model.TransactionTypeDeposit, trade.Amount, account.UsdtBalance,
			model.TransactionStatusSuccess, "P2P Buy (Sepay Auto)")
		if err := s.transactionRepo.Create(ctx, tx, row); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		tradeID := trade.ID
		event.TradeID = &tradeID
		if dedupe {
			ref := n.ReferenceCode
			event.MatchedReference = &ref
		}
		if err := s.paymentEventRepo.Create(ctx, tx, event); err != nil {
			return err
		}

		result.Matched = true
		result.TradeID = trade.ID
		result.Credited = trade.Amount

		return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.P2PTradeResult, model.EventPaymentMatched, fmt.Sprintf("trade-%d", trade.ID),
			map[string]interface{}{
				"trade_id":    trade.ID,
				"account_id":  account.ID,
				"uid":         uid,
				"amount":      trade.Amount.String(),
				"fiat_amount": fiat,
				"reference":   n.ReferenceCode,
				"status":      model.TradeStatusSuccess,
				"source":      "webhook",
			}, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// findTrade 返回匹配结果；只有唯一命中时 trade 非空
func (s *WebhookService) findTrade(ctx context.Context, tx *gorm.DB, reference string, dedupe bool, uid, fiat int64) (string, *model.P2PTrade, error) {
	if dedupe {
		seen, err := s.paymentEventRepo.MatchedReferenceExists(ctx, tx, reference)
		if err != nil {
			return "", nil, err
		}
		if seen {
			return model.PaymentOutcomeDuplicate, nil, nil
		}
	}

	account, err := s.accountRepo.GetByUID(ctx, tx, uid)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return model.PaymentOutcomeNoMatch, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	trades, err := s.p2pRepo.FindPendingBuyForUpdate(ctx, tx, account.ID, fiat, 2)
	if err != nil {
		return "", nil, err
	}
	switch len(trades) {
	case 0:
		return model.PaymentOutcomeNoMatch, nil, nil
	case 1:
		return model.PaymentOutcomeMatched, trades[0], nil
	default:
		logger.Log.Warn("到账匹配到多笔交易，需人工处理", zap.Int64("uid", uid), zap.Int64("amount", fiat))
		return model.PaymentOutcomeAmbiguous, nil, nil
	}
}

func (s *WebhookService) recordMiss(ctx context.Context, n *PaymentNotification, uid, fiat int64, outcome string) (*MatchResult, error) {
	event := &model.PaymentEvent{
		Provider:       n.Provider,
		ReferenceCode:  n.ReferenceCode,
		Content:        n.Content,
		TransferAmount: fiat,
		UID:            uid,
		Outcome:        outcome,
	}
	if err := s.paymentEventRepo.Create(ctx, nil, event); err != nil {
		logger.Log.Warn("记录到账通知失败", zap.Error(err))
	}
	return &MatchResult{Outcome: outcome, UID: uid, FiatAmount: fiat}, nil
}

func (s *WebhookService) ListEvents(ctx context.Context, limit int) ([]*model.PaymentEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.paymentEventRepo.List(ctx, limit)
}
