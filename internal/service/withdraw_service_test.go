package service

import (
	"strings"
	"testing"

	"polyfinance/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawRequestDebitsImmediately(t *testing.T) {
	db := newTestDB(t)
	svc := NewWithdrawService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("100"))

	row, err := svc.Request(ctx, &WithdrawRequest{AccountID: a.ID, Amount: dec("30"), Address: " TXabc "})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeWithdrawalPending, row.Type)
	assert.Equal(t, model.TransactionStatusPending, row.Status)
	assert.Equal(t, "TXabc", row.Reference)
	assertDecimal(t, "70", reload(t, db, a.ID).UsdtBalance)

	pending, err := svc.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assertReconciled(t, db, a.ID, model.AssetStable, "100")
}

func TestWithdrawRequestRejections(t *testing.T) {
	db := newTestDB(t)
	svc := NewWithdrawService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("10"))

	_, err := svc.Request(ctx, &WithdrawRequest{AccountID: a.ID, Amount: dec("11"), Address: "TX"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = svc.Request(ctx, &WithdrawRequest{AccountID: a.ID, Amount: dec("1"), Address: "   "})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Request(ctx, &WithdrawRequest{AccountID: a.ID, Amount: dec("1"), Address: strings.Repeat("T", model.ReferenceMaxLen+1)})
	assert.ErrorIs(t, err, ErrValidation)

	assertDecimal(t, "10", reload(t, db, a.ID).UsdtBalance)
	assert.Zero(t, countRows(t, db, &model.AccountTransaction{}))
}

func TestWithdrawApproveSettles(t *testing.T) {
	db := newTestDB(t)
	svc := NewWithdrawService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("100"))
	row, err := svc.Request(ctx, &WithdrawRequest{AccountID: a.ID, Amount: dec("30"), Address: "TX"})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, &ResolveWithdrawRequest{TransactionID: row.ID, Action: WithdrawActionApprove})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionTypeWithdrawalSettled, resolved.Type)
	assert.Equal(t, model.TransactionStatusSuccess, resolved.Status)
	assertDecimal(t, "70", reload(t, db, a.ID).UsdtBalance)
	assertReconciled(t, db, a.ID, model.AssetStable, "100")

	_, err = svc.Resolve(ctx, &ResolveWithdrawRequest{TransactionID: row.ID, Action: WithdrawActionReject})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assertDecimal(t, "70", reload(t, db, a.ID).UsdtBalance)
}

func TestWithdrawRejectRefunds(t *testing.T) {
	db := newTestDB(t)
	svc := NewWithdrawService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("100"))
	row, err := svc.Request(ctx, &WithdrawRequest{AccountID: a.ID, Amount: dec("30"), Address: "TX"})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, &ResolveWithdrawRequest{TransactionID: row.ID, Action: WithdrawActionReject})
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCancelled, resolved.Status)
	assertDecimal(t, "100", reload(t, db, a.ID).UsdtBalance)
	assertReconciled(t, db, a.ID, model.AssetStable, "100")

	_, err = svc.Resolve(ctx, &ResolveWithdrawRequest{TransactionID: row.ID, Action: WithdrawActionReject})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assertDecimal(t, "100", reload(t, db, a.ID).UsdtBalance)
}

func TestWithdrawResolveUnknown(t *testing.T) {
	db := newTestDB(t)
	svc := NewWithdrawService(db, nil, testConfig())
	transfer := NewTransferService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("100"))
	b := seedAccount(t, db)

	_, err := svc.Resolve(ctx, &ResolveWithdrawRequest{TransactionID: 12345, Action: WithdrawActionApprove})
	assert.ErrorIs(t, err, ErrWithdrawNotFound)

	// 非提现流水不能被当作提现处理
	_, err = transfer.Transfer(ctx, &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "USDT", Amount: dec("1")})
	require.NoError(t, err)
	rows := ledgerRows(t, db, a.ID)
	require.Len(t, rows, 1)
	_, err = svc.Resolve(ctx, &ResolveWithdrawRequest{TransactionID: rows[0].ID, Action: WithdrawActionReject})
	assert.ErrorIs(t, err, ErrWithdrawNotFound)

	_, err = svc.Resolve(ctx, &ResolveWithdrawRequest{TransactionID: rows[0].ID, Action: "LATER"})
	assert.ErrorIs(t, err, ErrValidation)
}
