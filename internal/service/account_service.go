package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"polyfinance/internal/auth"
	"polyfinance/internal/config"
	"polyfinance/internal/infrastructure/metrics"
	"polyfinance/internal/logger"
	"polyfinance/internal/model"
	"polyfinance/internal/repository"
	"polyfinance/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 生成 UID 冲突时的最大重试次数
const maxUIDAttempts = 10

type AccountService struct {
	db                *gorm.DB
	cfg               *config.Config
	tokens            *auth.TokenManager
	accountRepo       *repository.AccountRepository
	transactionRepo   *repository.TransactionRepository
	walletRequestRepo *repository.WalletRequestRepository
	outboxRepo        *repository.OutboxRepository
	now               func() time.Time
}

func NewAccountService(db *gorm.DB, cfg *config.Config, tokens *auth.TokenManager) *AccountService {
	return &AccountService{
		db:                db,
		cfg:               cfg,
		tokens:            tokens,
		accountRepo:       repository.NewAccountRepository(db),
		transactionRepo:   repository.NewTransactionRepository(db),
		walletRequestRepo: repository.NewWalletRequestRepository(db),
		outboxRepo:        repository.NewOutboxRepository(db),
		now:               time.Now,
	}
}

// ============================================================================
// 注册与登录
// ============================================================================

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"pass" binding:"required,min=6"`
	Ref      string `json:"ref"`
}

type AuthResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	UID   int64  `json:"uid"`
	Role  string `json:"role"`
}

func (s *AccountService) isAdminEmail(email string) bool {
	for _, e := range s.cfg.Auth.AdminEmails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

// Register 创建账户，UID 随机生成，冲突时重试
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || len(req.Password) < 6 {
		return nil, fmt.Errorf("%w: 邮箱或密码格式不正确", ErrValidation)
	}

	if _, err := s.accountRepo.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	role := model.RoleUser
	if s.isAdminEmail(email) {
		role = model.RoleAdmin
	}

	var referredBy *string
	if ref := strings.ToUpper(strings.TrimSpace(req.Ref)); ref != "" {
		referredBy = &ref
	}

	var account *model.Account
	for attempt := 0; attempt < maxUIDAttempts; attempt++ {
		uid := idgen.GenerateUID()
		exists, err := s.accountRepo.UIDExists(ctx, nil, uid)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		candidate := &model.Account{
			UID:          uid,
			Email:        email,
			PasswordHash: string(hash),
			Fullname:     strings.TrimSpace(req.Name),
			Role:         role,
			ReferralCode: fmt.Sprintf("PFT%d", uid),
			ReferredBy:   referredBy,
			SecurityBio:  true,
		}
		err = s.accountRepo.Create(ctx, nil, candidate)
		if err == nil {
			account = candidate
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("创建账户失败: %w", err)
		}
		// 唯一索引冲突：可能是邮箱被并发注册，也可能是 UID 撞车
		if _, lookupErr := s.accountRepo.GetByEmail(ctx, email); lookupErr == nil {
			return nil, ErrEmailTaken
		}
	}
	if account == nil {
		return nil, fmt.Errorf("%w: 生成 UID 失败", ErrSystemBusy)
	}

	logger.Log.Info("注册成功", zap.Int64("account_id", account.ID), zap.Int64("uid", account.UID))
	return s.issue(account)
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"pass" binding:"required"`
}

func (s *AccountService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	account, err := s.accountRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(account)
}

func (s *AccountService) issue(account *model.Account) (*AuthResponse, error) {
	token, err := s.tokens.Issue(account.ID, account.Role)
	if err != nil {
		return nil, fmt.Errorf("签发 token 失败: %w", err)
	}
	return &AuthResponse{Token: token, Email: account.Email, UID: account.UID, Role: account.Role}, nil
}

type ChangePasswordRequest struct {
	AccountID   int64  `json:"-"`
	OldPassword string `json:"old_pass" binding:"required"`
	NewPassword string `json:"new_pass" binding:"required,min=6"`
}

func (s *AccountService) ChangePassword(ctx context.Context, req *ChangePasswordRequest) error {
	account, err := s.accountRepo.GetByID(ctx, nil, req.AccountID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.OldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}
	return s.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", account.ID).Update("password_hash", string(hash)).Error
}

// ============================================================================
// 用户资料
// ============================================================================

type Profile struct {
	*model.Account
	TotalRefs int64 `json:"total_refs"`
}

func (s *AccountService) GetProfile(ctx context.Context, accountID int64) (*Profile, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	refs, err := s.accountRepo.CountReferrals(ctx, account.ReferralCode)
	if err != nil {
		return nil, err
	}
	return &Profile{Account: account, TotalRefs: refs}, nil
}

type UIDLookup struct {
	Found bool   `json:"found"`
	Name  string `json:"name,omitempty"`
}

// CheckUID 转账前确认收款人
func (s *AccountService) CheckUID(ctx context.Context, uid int64) (*UIDLookup, error) {
	account, err := s.accountRepo.GetByUID(ctx, nil, uid)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return &UIDLookup{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &UIDLookup{Found: true, Name: account.Fullname}, nil
}

type TeamMember struct {
	UID             int64           `json:"uid"`
	Email           string          `json:"email"`
	Fullname        string          `json:"fullname"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	CreatedAt       time.Time       `json:"created_at"`
}

type AffiliateStats struct {
	ReferralCode    string          `json:"referral_code"`
	Team            []TeamMember    `json:"team"`
	TotalCommission decimal.Decimal `json:"total_commission"`
}

func (s *AccountService) AffiliateStats(ctx context.Context, accountID int64) (*AffiliateStats, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	team, err := s.accountRepo.ListReferrals(ctx, account.ReferralCode)
	if err != nil {
		return nil, err
	}
	total, err := s.transactionRepo.SumCommission(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	stats := &AffiliateStats{
		ReferralCode:    account.ReferralCode,
		Team:            make([]TeamMember, 0, len(team)),
		TotalCommission: total,
	}
	for _, m := range team {
		stats.Team = append(stats.Team, TeamMember{
			UID:             m.UID,
			Email:           m.Email,
			Fullname:        m.Fullname,
			TotalInvestment: m.TotalInvestment,
			CreatedAt:       m.CreatedAt,
		})
	}
	return stats, nil
}

type KYCRequest struct {
	AccountID int64  `json:"-"`
	Fullname  string `json:"fullname" binding:"required"`
	IDNumber  string `json:"idNumber" binding:"required"`
}

// SubmitKYC 提交后状态为待审核
func (s *AccountService) SubmitKYC(ctx context.Context, req *KYCRequest) error {
	return s.accountRepo.UpdateKYC(ctx, req.AccountID, strings.TrimSpace(req.Fullname), strings.TrimSpace(req.IDNumber), model.KYCPending)
}

type SecuritySettings struct {
	TwoFactor  bool `json:"security_2fa"`
	Biometric  bool `json:"security_biometric"`
	EmailAlert bool `json:"security_email_alert"`
}

type SecurityOptionRequest struct {
	AccountID int64  `json:"-"`
	Type      string `json:"type" binding:"required"`
	Status    *bool  `json:"status" binding:"required"`
}

func (s *AccountService) GetSecurity(ctx context.Context, accountID int64) (*SecuritySettings, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	return &SecuritySettings{
		TwoFactor:  account.Security2FA,
		Biometric:  account.SecurityBio,
		EmailAlert: account.SecurityAlert,
	}, nil
}

// UpdateSecurityOption 只接受白名单里的开关
func (s *AccountService) UpdateSecurityOption(ctx context.Context, req *SecurityOptionRequest) (*SecuritySettings, error) {
	opt, ok := model.ParseSecurityOption(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: 不支持的安全设置 %q", ErrValidation, req.Type)
	}
	if req.Status == nil {
		return nil, fmt.Errorf("%w: 缺少开关状态", ErrValidation)
	}
	if _, err := s.accountRepo.GetByID(ctx, nil, req.AccountID); err != nil {
		return nil, err
	}
	if err := s.accountRepo.SetSecurityOption(ctx, req.AccountID, opt, *req.Status); err != nil {
		return nil, fmt.Errorf("更新安全设置失败: %w", err)
	}
	return s.GetSecurity(ctx, req.AccountID)
}

func (s *AccountService) ListTransactions(ctx context.Context, accountID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	page, pageSize = pageParams(page, pageSize)
	return s.transactionRepo.ListByAccountID(ctx, accountID, page, pageSize)
}

func (s *AccountService) RequestWallet(ctx context.Context, accountID int64) error {
	pending, err := s.walletRequestRepo.HasPending(ctx, accountID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	return s.walletRequestRepo.Create(ctx, &model.WalletRequest{AccountID: accountID, Status: model.WalletRequestPending})
}

// ============================================================================
// 运营
// ============================================================================

func (s *AccountService) ListAccounts(ctx context.Context, page, pageSize int) ([]*model.Account, int64, error) {
	page, pageSize = pageParams(page, pageSize)
	return s.accountRepo.List(ctx, page, pageSize)
}

func (s *AccountService) ListWalletRequests(ctx context.Context, limit int) ([]*model.WalletRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	return s.walletRequestRepo.ListPending(ctx, limit)
}

type SetWalletRequest struct {
	UID    int64  `json:"uid" binding:"required"`
	Wallet string `json:"wallet" binding:"required"`
}

// SetWallet 分配充值地址并关闭该用户的待处理申请
func (s *AccountService) SetWallet(ctx context.Context, req *SetWalletRequest) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUID(ctx, tx, req.UID)
		if err != nil {
			return err
		}
		if err := s.accountRepo.SetWallet(ctx, tx, account.ID, strings.TrimSpace(req.Wallet)); err != nil {
			return err
		}
		return s.walletRequestRepo.CompleteForAccount(ctx, tx, account.ID)
	})
}

type AdminCreditRequest struct {
	UID    int64           `json:"uid" binding:"required"`
	Asset  string          `json:"asset" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// AdminCredit 运营手动加款，记一条 DEPOSIT 流水
func (s *AccountService) AdminCredit(ctx context.Context, req *AdminCreditRequest) (row *model.AccountTransaction, err error) {
	defer func() { metrics.RecordLedgerOperation("admin_credit", err) }()

	asset, err := parseAsset(req.Asset)
	if err != nil {
		return nil, err
	}
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUID(ctx, tx, req.UID)
		if err != nil {
			return err
		}
		if err := s.accountRepo.Credit(ctx, tx, account.ID, asset, req.Amount); err != nil {
			return err
		}
		account, err = s.accountRepo.GetByID(ctx, tx, account.ID)
		if err != nil {
			return err
		}

		row = newLedgerRow(account.ID, asset, model.TransactionTypeDeposit, req.Amount, account.Balance(asset),
			model.TransactionStatusSuccess, "Admin credit")
		if err := s.transactionRepo.Create(ctx, tx, row); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return enqueueEvent(ctx, tx, s.outboxRepo, s.cfg.Kafka.Topic.LedgerEvent, model.EventBalanceCredited, row.TransactionNo,
			map[string]interface{}{
				"account_id": account.ID,
				"uid":        account.UID,
				"asset":      asset,
				"amount":     req.Amount.String(),
			}, s.now())
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("运营加款", zap.Int64("uid", req.UID), zap.String("asset", string(asset)), zap.String("amount", req.Amount.String()))
	return row, nil
}

// Reconciliation 某资产的余额与未取消流水之和
// 挖矿收益不记流水，PFT 的差额即为累计挖矿所得
type Reconciliation struct {
	Asset     model.Asset     `json:"asset"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
}

func (s *AccountService) Reconcile(ctx context.Context, accountID int64) ([]Reconciliation, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]Reconciliation, 0, 2)
	for _, asset := range []model.Asset{model.AssetStable, model.AssetToken} {
		sum, err := s.transactionRepo.SumByAccountAsset(ctx, account.ID, asset)
		if err != nil {
			return nil, err
		}
		out = append(out, Reconciliation{Asset: asset, Balance: account.Balance(asset), LedgerSum: sum})
	}
	return out, nil
}
