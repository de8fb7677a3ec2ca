package repository

import (
	"context"

	"polyfinance/internal/model"

	"gorm.io/gorm"
)

type PaymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, tx *gorm.DB, event *model.PaymentEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(event).Error
}

// MatchedReferenceExists 该银行流水号是否已经自动入账过
func (r *PaymentEventRepository) MatchedReferenceExists(ctx context.Context, tx *gorm.DB, reference string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.PaymentEvent{}).
		Where("matched_reference = ?", reference).
		Count(&count).Error
	return count > 0, err
}

func (r *PaymentEventRepository) List(ctx context.Context, limit int) ([]*model.PaymentEvent, error) {
	var events []*model.PaymentEvent
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}
