package repository

import (
	"context"

	"polyfinance/internal/model"

	"gorm.io/gorm"
)

type WalletRequestRepository struct {
	db *gorm.DB
}

func NewWalletRequestRepository(db *gorm.DB) *WalletRequestRepository {
	return &WalletRequestRepository{db: db}
}

func (r *WalletRequestRepository) Create(ctx context.Context, req *model.WalletRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// HasPending 同一账户只保留一条待处理申请
func (r *WalletRequestRepository) HasPending(ctx context.Context, accountID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletRequest{}).
		Where("account_id = ? AND status = ?", accountID, model.WalletRequestPending).
		Count(&count).Error
	return count > 0, err
}

func (r *WalletRequestRepository) ListPending(ctx context.Context, limit int) ([]*model.WalletRequest, error) {
	var reqs []*model.WalletRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", model.WalletRequestPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

// CompleteForAccount 分配钱包后关闭该账户所有待处理申请
func (r *WalletRequestRepository) CompleteForAccount(ctx context.Context, tx *gorm.DB, accountID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.WalletRequest{}).
		Where("account_id = ? AND status = ?", accountID, model.WalletRequestPending).
		Update("status", model.WalletRequestDone).Error
}
