package svcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/response"
)

func TestTransferSendsBearerAndPayload(t *testing.T) {
	var got TransferPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathWalletXfer, r.URL.Path)
		assert.Equal(t, "Bearer svc-secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		response.OK(w, map[string]any{"transaction_id": "tx-1", "balance": "0"})
	}))
	defer srv.Close()

	wc := NewWalletClient(srv.URL, "svc-secret", time.Second)
	res, err := wc.Transfer(context.Background(), TransferPayload{
		FromUserID: "seller",
		ToUserID:   "buyer",
		Amount:     decimal.NewFromInt(10),
		Reference:  "purchase:l1:buyer:1",
	})

	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.TransactionID)
	assert.Equal(t, "seller", got.FromUserID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(10)))
}

func TestInsufficientBalanceIsMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient wallet balance")
	}))
	defer srv.Close()

	_, err := NewWalletClient(srv.URL, "s", time.Second).Transfer(context.Background(), TransferPayload{Amount: decimal.NewFromInt(1)})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, apperr.KindInsufficientResource, apperr.KindOf(err))
}

func TestServerErrorsAreRetryableClientErrorsFatal(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, status, "DOWN", "down")
	}))
	defer srv.Close()

	vc := NewVerificationClient(srv.URL, "s", time.Second)

	_, err := vc.Submit(context.Background(), VerificationPayload{UserID: "u"})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))

	status = http.StatusUnprocessableEntity
	_, err = vc.Submit(context.Background(), VerificationPayload{UserID: "u"})
	require.Error(t, err)
	assert.False(t, apperr.IsRetryable(err))
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestSuccessFalseIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"data":null}`))
	}))
	defer srv.Close()

	_, err := NewWalletClient(srv.URL, "s", time.Second).Transfer(context.Background(), TransferPayload{})
	require.Error(t, err)
	assert.False(t, apperr.IsRetryable(err))
}

func TestCreditClientReportsReplay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{"id": "cr-1", "status": "forwarded"})
	}))
	defer srv.Close()

	res, err := NewCreditClient(srv.URL, "s", time.Second).RequestCredits(context.Background(), CreditRequestPayload{UserID: "u"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "cr-1", res.ID)
}

func TestTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		response.OK(w, nil)
	}))
	defer srv.Close()

	_, err := NewWalletClient(srv.URL, "s", 50*time.Millisecond).IssueCredits(context.Background(), IssueCreditsPayload{})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}

func TestConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewWalletClient(url, "s", time.Second).Transfer(context.Background(), TransferPayload{})
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}
