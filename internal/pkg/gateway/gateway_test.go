package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1050), MinorUnits(decimal.RequireFromString("10.50")))
	assert.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.005")))
	assert.Equal(t, int64(0), MinorUnits(decimal.Zero))
}

func TestMockGateway(t *testing.T) {
	g := NewMockGateway()
	g.now = func() time.Time { return time.UnixMilli(1700000000000) }

	out, err := g.Payout(context.Background(), PayoutRequest{Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.Equal(t, "mock_tr_1700000000000", out.TransferID)

	intent, err := g.CreateIntent(context.Background(), IntentRequest{Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.NotEmpty(t, intent.ClientSecret)

	confirmed, err := g.ConfirmIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", confirmed.Status)
}

func TestNewPicksMockWithoutKey(t *testing.T) {
	assert.Equal(t, ProviderMock, New("", "usd", false).Name())
	assert.Equal(t, ProviderMock, New("sk_test", "usd", true).Name())
	assert.Equal(t, ProviderStripe, New("sk_test", "usd", false).Name())
}
