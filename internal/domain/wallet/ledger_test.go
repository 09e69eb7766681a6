package wallet

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferFromUnknownSenderIsNotFound(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, &TransferRequest{FromUserID: "ghost", ToUserID: "buyer", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, err = svc.Burn(ctx, "ghost", &BurnRequest{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrWalletNotFound)

	assert.NotContains(t, repo.wallets, "ghost")
	assert.NotContains(t, repo.wallets, "buyer")

	rec := do(newTestRouter(svc), http.MethodPost, "/transfer", "svc-secret", "",
		`{"fromUserId":"ghost","toUserId":"buyer","amount":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "WALLET_NOT_FOUND")
}

func TestInsufficientBalanceLeavesBothBalances(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Mint(ctx, "a", decimal.RequireFromString("2.5"), "", "seed")
	require.NoError(t, err)
	_, err = svc.Mint(ctx, "b", decimal.NewFromInt(1), "", "seed")
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, &TransferRequest{FromUserID: "a", ToUserID: "b", Amount: decimal.RequireFromString("2.501")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.True(t, repo.wallets["a"].Balance.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, repo.wallets["b"].Balance.Equal(decimal.NewFromInt(1)))
	assert.Len(t, repo.txs, 2, "a failed transfer books nothing")
}

func TestBalancesSumToMintedMinusBurned(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()
	users := []string{"u0", "u1", "u2"}

	for i, u := range users {
		_, err := svc.Mint(ctx, u, decimal.NewFromInt(int64(10*(i+1))), "", "seed")
		require.NoError(t, err)
	}

	_, err := svc.Transfer(ctx, &TransferRequest{FromUserID: "u0", ToUserID: "u1", Amount: decimal.RequireFromString("4.25")})
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, &TransferRequest{FromUserID: "u2", ToUserID: "u0", Amount: decimal.NewFromInt(12)})
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, &TransferRequest{FromUserID: "u1", ToUserID: "u2", Amount: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = svc.Burn(ctx, "u2", &BurnRequest{Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	minted, burned, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, tx := range repo.txs {
		switch tx.Type {
		case TransactionTypeMint:
			minted = minted.Add(tx.Amount)
		case TransactionTypeBurn:
			burned = burned.Add(tx.Amount)
		}
	}
	for _, u := range users {
		s, err := svc.GetWallet(ctx, u)
		require.NoError(t, err)
		assert.True(t, s.Wallet.Balance.Equal(s.TotalEarned.Sub(s.TotalSpent)), u)
		total = total.Add(s.Wallet.Balance)
	}

	assert.True(t, minted.Equal(decimal.NewFromInt(60)))
	assert.True(t, total.Equal(minted.Sub(burned)), "sum of balances %s", total)
}

func TestAmountFinerThanLedgerScaleIsRejected(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Mint(ctx, "a", decimal.NewFromInt(1), "", "seed")
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, &TransferRequest{FromUserID: "a", ToUserID: "b", Amount: decimal.RequireFromString("0.0004")})
	assert.ErrorIs(t, err, ErrAmountPrecision)
	_, err = svc.Mint(ctx, "a", decimal.RequireFromString("1.0005"), "", "")
	assert.ErrorIs(t, err, ErrAmountPrecision)

	// trailing zeros are not extra precision
	_, err = svc.Transfer(ctx, &TransferRequest{FromUserID: "a", ToUserID: "b", Amount: decimal.RequireFromString("0.2500")})
	assert.NoError(t, err)

	rec := do(newTestRouter(svc), http.MethodPost, "/transfer", "svc-secret", "",
		`{"fromUserId":"a","toUserId":"b","amount":0.0004}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "decimal places")
}
