package service

import (
	"testing"

	"polyfinance/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	db := newTestDB(t)
	tokens := newTokenManager()
	svc := NewAccountService(db, testConfig(), tokens)

	resp, err := svc.Register(ctx, &RegisterRequest{Name: "Lan", Email: " Lan@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "lan@example.com", resp.Email)
	assert.Equal(t, model.RoleUser, resp.Role)
	assert.GreaterOrEqual(t, resp.UID, int64(100000))
	assert.LessOrEqual(t, resp.UID, int64(999999))

	claims, err := tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, claims.Role)

	_, err = svc.Register(ctx, &RegisterRequest{Email: "lan@example.com", Password: "secret2"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	login, err := svc.Login(ctx, &LoginRequest{Email: "LAN@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, resp.UID, login.UID)

	_, err = svc.Login(ctx, &LoginRequest{Email: "lan@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, &LoginRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterAdminEmailGetsAdminRole(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testConfig(), newTokenManager())

	resp, err := svc.Register(ctx, &RegisterRequest{Email: "OPS@polyfinance.local", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, resp.Role)
}

func TestChangePassword(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testConfig(), newTokenManager())
	_, err := svc.Register(ctx, &RegisterRequest{Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	acc, err := svc.accountRepo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, &ChangePasswordRequest{AccountID: acc.ID, OldPassword: "nope", NewPassword: "secret2"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.ChangePassword(ctx, &ChangePasswordRequest{AccountID: acc.ID, OldPassword: "secret1", NewPassword: "secret2"}))
	_, err = svc.Login(ctx, &LoginRequest{Email: "a@example.com", Password: "secret2"})
	assert.NoError(t, err)
}

func TestAffiliateStatsAndProfile(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	svc := NewAccountService(db, cfg, newTokenManager())
	mining := NewMiningService(db, nil, cfg)

	referrer := seedAccount(t, db)
	child := seedAccount(t, db, withUSDT("500"), referredBy(referrer.ReferralCode))
	seedAccount(t, db, referredBy(referrer.ReferralCode))

	_, err := mining.Invest(ctx, &InvestRequest{AccountID: child.ID, Amount: dec("200")})
	require.NoError(t, err)

	stats, err := svc.AffiliateStats(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, referrer.ReferralCode, stats.ReferralCode)
	assert.Len(t, stats.Team, 2)
	assertDecimal(t, "20", stats.TotalCommission)

	profile, err := svc.GetProfile(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), profile.TotalRefs)
	assertDecimal(t, "20", profile.UsdtBalance)
}

func TestCheckUID(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testConfig(), newTokenManager())
	a := seedAccount(t, db, func(a *model.Account) { a.Fullname = "Nguyen Van A" })

	found, err := svc.CheckUID(ctx, a.UID)
	require.NoError(t, err)
	assert.True(t, found.Found)
	assert.Equal(t, "Nguyen Van A", found.Name)

	missing, err := svc.CheckUID(ctx, 999996)
	require.NoError(t, err)
	assert.False(t, missing.Found)
}

func TestSubmitKYC(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testConfig(), newTokenManager())
	a := seedAccount(t, db)

	require.NoError(t, svc.SubmitKYC(ctx, &KYCRequest{AccountID: a.ID, Fullname: " Tran B ", IDNumber: "0123"}))
	acc := reload(t, db, a.ID)
	assert.Equal(t, model.KYCPending, acc.KYCStatus)
	assert.Equal(t, "Tran B", acc.KYCFullname)
}

func TestSecurityOptions(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testConfig(), newTokenManager())
	resp, err := svc.Register(ctx, &RegisterRequest{Email: "sec@example.com", Password: "secret1"})
	require.NoError(t, err)
	var acc model.Account
	require.NoError(t, db.Where("uid = ?", resp.UID).First(&acc).Error)

	got, err := svc.GetSecurity(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, SecuritySettings{TwoFactor: false, Biometric: true, EmailAlert: false}, *got)

	on, off := true, false
	got, err = svc.UpdateSecurityOption(ctx, &SecurityOptionRequest{AccountID: acc.ID, Type: "2fa_auth", Status: &on})
	require.NoError(t, err)
	assert.True(t, got.TwoFactor)

	got, err = svc.UpdateSecurityOption(ctx, &SecurityOptionRequest{AccountID: acc.ID, Type: "biometric", Status: &off})
	require.NoError(t, err)
	assert.Equal(t, SecuritySettings{TwoFactor: true, Biometric: false, EmailAlert: false}, *got)

	// 只认开关名，不认列名
	_, err = svc.UpdateSecurityOption(ctx, &SecurityOptionRequest{AccountID: acc.ID, Type: "security_2fa", Status: &on})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.UpdateSecurityOption(ctx, &SecurityOptionRequest{AccountID: acc.ID, Type: "email_alert"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.UpdateSecurityOption(ctx, &SecurityOptionRequest{AccountID: 999, Type: "email_alert", Status: &on})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestWalletRequestFlow(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testConfig(), newTokenManager())
	a := seedAccount(t, db)

	require.NoError(t, svc.RequestWallet(ctx, a.ID))
	require.NoError(t, svc.RequestWallet(ctx, a.ID))
	pending, err := svc.ListWalletRequests(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, svc.SetWallet(ctx, &SetWalletRequest{UID: a.UID, Wallet: "TWallet1"}))
	assert.Equal(t, "TWallet1", reload(t, db, a.ID).AssignedWallet)

	pending, err = svc.ListWalletRequests(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, svc.SetWallet(ctx, &SetWalletRequest{UID: 999995, Wallet: "x"}), ErrAccountNotFound)
}

func TestAdminCreditAndReconcile(t *testing.T) {
	db := newTestDB(t)
	svc := NewAccountService(db, testConfig(), newTokenManager())
	a := seedAccount(t, db)

	row, err := svc.AdminCredit(ctx, &AdminCreditRequest{UID: a.UID, Asset: "PFT", Amount: dec("12.5")})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeDeposit, row.Type)
	assertDecimal(t, "12.5", row.BalanceAfter)

	_, err = svc.AdminCredit(ctx, &AdminCreditRequest{UID: a.UID, Asset: "PFT", Amount: dec("-1")})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AdminCredit(ctx, &AdminCreditRequest{UID: 999994, Asset: "USDT", Amount: dec("1")})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	recs, err := svc.Reconcile(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.True(t, r.Balance.Equal(r.LedgerSum), "asset %s", r.Asset)
	}

	txs, total, err := svc.ListTransactions(ctx, a.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, txs, 1)
}
