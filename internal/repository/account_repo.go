package repository

import (
	"context"
	"errors"
	"time"

	"polyfinance/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	return r.conn(tx).WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) first(ctx context.Context, tx *gorm.DB, query string, arg interface{}) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where(query, arg).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	return r.first(ctx, tx, "id = ?", id)
}

func (r *AccountRepository) GetByUID(ctx context.Context, tx *gorm.DB, uid int64) (*model.Account, error) {
	return r.first(ctx, tx, "uid = ?", uid)
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.first(ctx, nil, "email = ?", email)
}

func (r *AccountRepository) GetByReferralCode(ctx context.Context, tx *gorm.DB, code string) (*model.Account, error) {
	return r.first(ctx, tx, "referral_code = ?", code)
}

// UIDExists 注册时生成 UID 后检查冲突
func (r *AccountRepository) UIDExists(ctx context.Context, tx *gorm.DB, uid int64) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).Model(&model.Account{}).Where("uid = ?", uid).Count(&count).Error
	return count > 0, err
}

func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// LockAccounts 按 id 升序对多个账户加行锁
// 所有需要锁多行的操作都走这里，固定加锁顺序避免 A→B / B→A 互相等待
func (r *AccountRepository) LockAccounts(ctx context.Context, tx *gorm.DB, ids ...int64) (map[int64]*model.Account, error) {
	var accounts []*model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	result := make(map[int64]*model.Account, len(accounts))
	for _, a := range accounts {
		result[a.ID] = a
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, ErrAccountNotFound
		}
	}
	return result, nil
}

// Debit 条件扣减：col >= amount 才会更新
// 影响行数为 0 时区分账户不存在和余额不足
func (r *AccountRepository) Debit(ctx context.Context, tx *gorm.DB, id int64, asset model.Asset, amount decimal.Decimal) error {
	col := asset.Column()
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND "+col+" >= ?", id, amount).
		Update(col, gorm.Expr(col+" - ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrShort(ctx, tx, id)
	}
	return nil
}

func (r *AccountRepository) Credit(ctx context.Context, tx *gorm.DB, id int64, asset model.Asset, amount decimal.Decimal) error {
	col := asset.Column()
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update(col, gorm.Expr(col+" + ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Exchange 一条语句完成兑换：from 资产扣 debit，to 资产加 credit
func (r *AccountRepository) Exchange(ctx context.Context, tx *gorm.DB, id int64, from, to model.Asset, debit, credit decimal.Decimal) error {
	fromCol, toCol := from.Column(), to.Column()
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND "+fromCol+" >= ?", id, debit).
		Updates(map[string]interface{}{
			fromCol: gorm.Expr(fromCol+" - ?", debit),
			toCol:   gorm.Expr(toCol+" + ?", credit),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrShort(ctx, tx, id)
	}
	return nil
}

// Invest 扣 USDT 并累加投资额
func (r *AccountRepository) Invest(ctx context.Context, tx *gorm.DB, id int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND usdt_balance >= ?", id, amount).
		Updates(map[string]interface{}{
			"usdt_balance":     gorm.Expr("usdt_balance - ?", amount),
			"total_investment": gorm.Expr("total_investment + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrShort(ctx, tx, id)
	}
	return nil
}

// SettleAccrual 挖矿收益入账并推进检查点
func (r *AccountRepository) SettleAccrual(ctx context.Context, tx *gorm.DB, id int64, earned decimal.Decimal, checkpoint time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"pft_balance":   gorm.Expr("pft_balance + ?", earned),
			"last_claim_at": checkpoint,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) missingOrShort(ctx context.Context, tx *gorm.DB, id int64) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrAccountNotFound
	}
	return ErrBalanceNotEnough
}

func (r *AccountRepository) UpdateKYC(ctx context.Context, id int64, fullname, idNumber string, status model.KYCStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"kyc_fullname":  fullname,
			"kyc_id_number": idNumber,
			"kyc_status":    status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetSecurityOption 切换单个安全开关，列名来自枚举
func (r *AccountRepository) SetSecurityOption(ctx context.Context, id int64, opt model.SecurityOption, enabled bool) error {
	return r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update(opt.Column(), enabled).Error
}

func (r *AccountRepository) SetWallet(ctx context.Context, tx *gorm.DB, id int64, address string) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("assigned_wallet", address)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) CountReferrals(ctx context.Context, code string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Account{}).Where("referred_by = ?", code).Count(&count).Error
	return count, err
}

func (r *AccountRepository) ListReferrals(ctx context.Context, code string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("referred_by = ?", code).
		Order("created_at DESC").
		Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) List(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error) {
	var accounts []*model.Account
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Account{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&accounts).Error
	return accounts, total, err
}
