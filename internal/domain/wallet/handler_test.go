package wallet

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
)

// memRepo keeps balances in memory with the same booking rules as Postgres
type memRepo struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	txs     []*Transaction
}

func newMemRepo() *memRepo { return &memRepo{wallets: map[string]*Wallet{}} }

func (r *memRepo) getOrCreate(userID string) *Wallet {
	w, ok := r.wallets[userID]
	if !ok {
		w = &Wallet{ID: uuid.New(), UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		r.wallets[userID] = w
	}
	return w
}

func (r *memRepo) GetOrCreate(_ context.Context, userID string) (*Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.getOrCreate(userID)
	return &cp, nil
}

func (r *memRepo) GetByUser(_ context.Context, userID string) (*Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *memRepo) Apply(_ context.Context, m Movement) (*Applied, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Reference != "" {
		for _, t := range r.txs {
			if t.Type == m.Type && t.ReferenceID.String == m.Reference {
				if !t.Amount.Equal(m.Amount) {
					return nil, ErrReferenceConflict
				}
				return &Applied{Transaction: t, Replayed: true}, nil
			}
		}
	}
	t := &Transaction{ID: uuid.New(), Amount: m.Amount, Type: m.Type, CreatedAt: time.Now()}
	t.ReferenceID.String, t.ReferenceID.Valid = m.Reference, m.Reference != ""
	if m.FromUserID != "" {
		from, ok := r.wallets[m.FromUserID]
		if !ok {
			return nil, ErrWalletNotFound
		}
		if from.Balance.LessThan(m.Amount) {
			return nil, ErrInsufficientBalance
		}
		from.Balance = from.Balance.Sub(m.Amount)
		t.FromWalletID = uuid.NullUUID{UUID: from.ID, Valid: true}
	}
	if m.ToUserID != "" {
		to := r.getOrCreate(m.ToUserID)
		to.Balance = to.Balance.Add(m.Amount)
		t.ToWalletID = uuid.NullUUID{UUID: to.ID, Valid: true}
	}
	r.txs = append(r.txs, t)
	return &Applied{Transaction: t}, nil
}

func (r *memRepo) filter(keep func(*Transaction) bool) []*Transaction {
	var out []*Transaction
	for _, t := range r.txs {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *memRepo) Totals(_ context.Context, walletID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	earned, spent := decimal.Zero, decimal.Zero
	for _, t := range r.txs {
		if t.ToWalletID.UUID == walletID {
			earned = earned.Add(t.Amount)
		}
		if t.FromWalletID.UUID == walletID {
			spent = spent.Add(t.Amount)
		}
	}
	return earned, spent, nil
}

func (r *memRepo) ListTransactions(_ context.Context, walletID uuid.UUID, limit, offset int) ([]*Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(t *Transaction) bool { return t.ToWalletID.UUID == walletID || t.FromWalletID.UUID == walletID })
	return out, len(out), nil
}

func (r *memRepo) ListIncoming(_ context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(t *Transaction) bool { return t.ToWalletID.UUID == walletID }), nil
}

func (r *memRepo) ListOutgoing(_ context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(t *Transaction) bool { return t.FromWalletID.UUID == walletID }), nil
}

func newTestRouter(svc *Service) http.Handler {
	asUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), r.Header.Get("X-Test-User"), "ev_owner")))
		})
	}
	return NewHandler(svc).Routes(asUser, middleware.ServiceAuth("svc-secret"))
}

func do(router http.Handler, method, path, token, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIssueAndTransferEndpoints(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(NewService(repo))

	issue := `{"user_id":"seller","amount":10,"verification_id":"ver-1","co2_amount":10000}`
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodPost, "/credits/issue", "nope", "", issue).Code)
	assert.Equal(t, http.StatusCreated, do(router, http.MethodPost, "/credits/issue", "svc-secret", "", issue).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/credits/issue", "svc-secret", "", issue).Code)

	rec := do(router, http.MethodPost, "/transfer", "svc-secret", "",
		`{"fromUserId":"seller","toUserId":"buyer","amount":4,"reference":"purchase:l1:buyer:1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"6"`)

	rec = do(router, http.MethodPost, "/transfer", "svc-secret", "",
		`{"fromUserId":"seller","toUserId":"buyer","amount":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INSUFFICIENT_BALANCE")
	assert.True(t, repo.wallets["seller"].Balance.Equal(decimal.NewFromInt(6)))
	assert.True(t, repo.wallets["buyer"].Balance.Equal(decimal.NewFromInt(4)))
}

func TestTransferValidation(t *testing.T) {
	router := newTestRouter(NewService(newMemRepo()))

	rec := do(router, http.MethodPost, "/transfer", "svc-secret", "", `{"fromUserId":"a","toUserId":"b","amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "amount")

	rec = do(router, http.MethodPost, "/transfer", "svc-secret", "", `{"fromUserId":"a","toUserId":"a","amount":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "SAME_WALLET")
}

func TestGetWalletSummary(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Mint(ctx, "owner", decimal.NewFromInt(5), "ver-9", "")
	require.NoError(t, err)
	_, err = svc.Burn(ctx, "owner", &BurnRequest{Amount: decimal.RequireFromString("1.25")})
	require.NoError(t, err)

	rec := do(newTestRouter(svc), http.MethodGet, "/", "", "owner", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"balance":"3.75"`)
	assert.Contains(t, body, `"totalEarned":"5"`)
	assert.Contains(t, body, `"totalSpent":"1.25"`)
}
