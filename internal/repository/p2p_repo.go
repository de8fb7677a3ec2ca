package repository

import (
	"context"
	"errors"
	"time"

	"polyfinance/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound      = errors.New("挂单不存在")
	ErrTradeNotFound      = errors.New("交易不存在")
	ErrTradeStatusInvalid = errors.New("交易状态不合法")
)

type P2PRepository struct {
	db *gorm.DB
}

func NewP2PRepository(db *gorm.DB) *P2PRepository {
	return &P2PRepository{db: db}
}

func (r *P2PRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// ============================================================================
// 挂单
// ============================================================================

func (r *P2PRepository) CreateOrder(ctx context.Context, order *model.P2POrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *P2PRepository) GetOrder(ctx context.Context, tx *gorm.DB, id int64) (*model.P2POrder, error) {
	var order model.P2POrder
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *P2PRepository) DeleteOrder(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.P2POrder{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListOrders side 为空时返回全部
func (r *P2PRepository) ListOrders(ctx context.Context, side string) ([]*model.P2POrder, error) {
	var orders []*model.P2POrder
	query := r.db.WithContext(ctx).Model(&model.P2POrder{})
	if side != "" {
		query = query.Where("side = ?", side)
	}
	err := query.Order("price ASC").Order("id ASC").Find(&orders).Error
	return orders, err
}

// ============================================================================
// 交易
// ============================================================================

func (r *P2PRepository) CreateTrade(ctx context.Context, tx *gorm.DB, trade *model.P2PTrade) error {
	return r.conn(tx).WithContext(ctx).Create(trade).Error
}

func (r *P2PRepository) GetTrade(ctx context.Context, id int64) (*model.P2PTrade, error) {
	var trade model.P2PTrade
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

func (r *P2PRepository) GetTradeForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.P2PTrade, error) {
	var trade model.P2PTrade
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

// FindPendingBuyForUpdate 银行到账匹配：该账户 PENDING 的 BUY 交易且法币金额完全相等
// 最多取 limit 条，调用方据此判断是否唯一
func (r *P2PRepository) FindPendingBuyForUpdate(ctx context.Context, tx *gorm.DB, accountID, fiatAmount int64, limit int) ([]*model.P2PTrade, error) {
	var trades []*model.P2PTrade
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND status = ? AND side = ? AND fiat_amount = ?",
			accountID, model.TradeStatusPending, model.SideBuy, fiatAmount).
		Order("id ASC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// UpdateTradeStatus 状态 CAS：WHERE status = from
// 运营审批、银行回调、超时任务并发时只有先提交的一方成功
func (r *P2PRepository) UpdateTradeStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus, note string, resolvedAt time.Time) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrTradeStatusInvalid
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.P2PTrade{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"admin_note":  note,
			"resolved_at": resolvedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTradeStatusInvalid
	}
	return nil
}

func (r *P2PRepository) ListTradesByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.P2PTrade, int64, error) {
	return r.listTrades(ctx, r.db.WithContext(ctx).Model(&model.P2PTrade{}).Where("account_id = ?", accountID), page, pageSize)
}

// ListTrades 运营后台，status 为空时返回全部
func (r *P2PRepository) ListTrades(ctx context.Context, status string, page, pageSize int) ([]*model.P2PTrade, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.P2PTrade{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return r.listTrades(ctx, query, page, pageSize)
}

func (r *P2PRepository) listTrades(ctx context.Context, query *gorm.DB, page, pageSize int) ([]*model.P2PTrade, int64, error) {
	var trades []*model.P2PTrade
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&trades).Error

	return trades, total, err
}

// GetExpiredTrades 创建时间早于 before 仍未处理的交易
func (r *P2PRepository) GetExpiredTrades(ctx context.Context, before time.Time, limit int) ([]*model.P2PTrade, error) {
	var trades []*model.P2PTrade
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.TradeStatusPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}
