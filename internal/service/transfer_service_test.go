package service

import (
	"sync"
	"testing"

	"polyfinance/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferMovesFundsAndWritesTwoRows(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("100"))
	b := seedAccount(t, db)

	resp, err := svc.Transfer(ctx, &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "USDT", Amount: dec("40")})
	require.NoError(t, err)
	assertDecimal(t, "60", resp.NewBalance)

	assertDecimal(t, "60", reload(t, db, a.ID).UsdtBalance)
	assertDecimal(t, "40", reload(t, db, b.ID).UsdtBalance)

	out := ledgerRows(t, db, a.ID)
	require.Len(t, out, 1)
	assert.Equal(t, model.TransactionTypeTransferOut, out[0].Type)
	assertDecimal(t, "-40", out[0].Amount)
	assertDecimal(t, "60", out[0].BalanceAfter)
	assert.Contains(t, out[0].Reference, "To UID:")

	in := ledgerRows(t, db, b.ID)
	require.Len(t, in, 1)
	assert.Equal(t, model.TransactionTypeTransferIn, in[0].Type)
	assertDecimal(t, "40", in[0].Amount)

	assertReconciled(t, db, a.ID, model.AssetStable, "100")
	assertReconciled(t, db, b.ID, model.AssetStable, "0")
	assert.Equal(t, int64(1), countRows(t, db, &model.OutboxMessage{}))
}

func TestTransferInsufficientBalanceChangesNothing(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("30"))
	b := seedAccount(t, db)

	_, err := svc.Transfer(ctx, &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "USDT", Amount: dec("40")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assertDecimal(t, "30", reload(t, db, a.ID).UsdtBalance)
	assertDecimal(t, "0", reload(t, db, b.ID).UsdtBalance)
	assert.Zero(t, countRows(t, db, &model.AccountTransaction{}))
	assert.Zero(t, countRows(t, db, &model.OutboxMessage{}))
}

func TestTransferRejections(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("100"), withPFT("5"))
	b := seedAccount(t, db)

	cases := []struct {
		name string
		req  *TransferRequest
		want error
	}{
		{"unknown recipient", &TransferRequest{SenderID: a.ID, ReceiverUID: 999998, Asset: "USDT", Amount: dec("1")}, ErrUnknownRecipient},
		{"self", &TransferRequest{SenderID: a.ID, ReceiverUID: a.UID, Asset: "USDT", Amount: dec("1")}, ErrSelfTransfer},
		{"zero amount", &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "USDT", Amount: dec("0")}, ErrValidation},
		{"negative amount", &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "USDT", Amount: dec("-5")}, ErrValidation},
		{"unknown asset", &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "BTC", Amount: dec("1")}, ErrValidation},
		{"below store precision", &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "USDT", Amount: dec("0.0000000000000000005")}, ErrValidation},
		{"token short", &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "pft", Amount: dec("6")}, ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, countRows(t, db, &model.AccountTransaction{}))
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, nil, testConfig())
	a := seedAccount(t, db, withUSDT("100"))
	b := seedAccount(t, db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(ctx, &TransferRequest{SenderID: a.ID, ReceiverUID: b.UID, Asset: "USDT", Amount: dec("30")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assertDecimal(t, "10", reload(t, db, a.ID).UsdtBalance)
	assertDecimal(t, "90", reload(t, db, b.ID).UsdtBalance)
	assertReconciled(t, db, a.ID, model.AssetStable, "100")
}
