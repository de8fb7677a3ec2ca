package repository

import (
	"context"
	"errors"

	"polyfinance/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("流水不存在")
	ErrTransactionResolved = errors.New("流水已处理")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.AccountTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	var transactions []*model.AccountTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("account_id = ?", accountID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumByAccountAsset 对账用：某账户某资产所有未取消流水的金额之和
func (r *TransactionRepository) SumByAccountAsset(ctx context.Context, accountID int64, asset model.Asset) (decimal.Decimal, error) {
	var rows []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Select("amount").
		Where("account_id = ? AND asset = ? AND status <> ?", accountID, asset, model.TransactionStatusCancelled).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}
	return sum, nil
}

// SumCommission 累计推荐佣金
func (r *TransactionRepository) SumCommission(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var rows []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Select("amount").
		Where("account_id = ? AND type = ?", accountID, model.TransactionTypeAffiliateCommission).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}
	return sum, nil
}

func (r *TransactionRepository) ListPendingWithdrawals(ctx context.Context, limit int) ([]*model.AccountTransaction, error) {
	var transactions []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ?", model.TransactionTypeWithdrawalPending, model.TransactionStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

// GetWithdrawalForUpdate 锁定一条提现流水
func (r *TransactionRepository) GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.AccountTransaction, error) {
	var trans model.AccountTransaction
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND type IN ?", id, []string{model.TransactionTypeWithdrawalPending, model.TransactionTypeWithdrawalSettled}).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// ResolveWithdrawal 提现流水状态迁移，只有 PENDING 的流水会被更新
func (r *TransactionRepository) ResolveWithdrawal(ctx context.Context, tx *gorm.DB, id int64, toType, toStatus string) error {
	result := tx.WithContext(ctx).
		Model(&model.AccountTransaction{}).
		Where("id = ? AND type = ? AND status = ?", id, model.TransactionTypeWithdrawalPending, model.TransactionStatusPending).
		Updates(map[string]interface{}{
			"type":   toType,
			"status": toStatus,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionResolved
	}
	return nil
}
