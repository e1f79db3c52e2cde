package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dwondim/networth-tracking-mvp/internal/app"
	"github.com/dwondim/networth-tracking-mvp/internal/domain"
	"github.com/dwondim/networth-tracking-mvp/internal/store"
	"github.com/dwondim/networth-tracking-mvp/pkg/plaidclient"
)

// handlerRepo is a minimal in-memory store.Repository for handler tests.
type handlerRepo struct {
	accounts []domain.Account
	items    []domain.PlaidItem
}

func (r *handlerRepo) ListActiveCreditAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	var out []domain.Account
	for _, a := range r.accounts {
		if a.UserID == userID && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *handlerRepo) InsertManualAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	created := *account
	created.ID = uuid.New()
	created.IsActive = true
	created.UpdatedAt = time.Now()
	r.accounts = append(r.accounts, created)
	return &created, nil
}

func (r *handlerRepo) UpdateAccountBalance(ctx context.Context, userID, accountID uuid.UUID, balance decimal.Decimal) error {
	for i, a := range r.accounts {
		if a.ID == accountID && a.UserID == userID && a.IsActive {
			r.accounts[i].CurrentBalance = balance
			return nil
		}
	}
	return store.ErrAccountNotFound
}

func (r *handlerRepo) DeactivateAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	for i, a := range r.accounts {
		if a.ID == accountID && a.UserID == userID && a.IsActive {
			r.accounts[i].IsActive = false
			return nil
		}
	}
	return store.ErrAccountNotFound
}

func (r *handlerRepo) UpsertLinkedAccounts(ctx context.Context, userID uuid.UUID, accounts []domain.Account) (int, error) {
	for _, a := range accounts {
		a.ID = uuid.New()
		r.accounts = append(r.accounts, a)
	}
	return len(accounts), nil
}

func (r *handlerRepo) UpdateLinkedAccountBalance(ctx context.Context, userID uuid.UUID, externalAccountID string, balance decimal.Decimal) error {
	return store.ErrAccountNotFound
}

func (r *handlerRepo) ComputeNetWorth(ctx context.Context, userID uuid.UUID) (*domain.NetWorthSnapshot, error) {
	snapshot := domain.ZeroNetWorthSnapshot()
	for _, a := range r.accounts {
		if a.UserID != userID || !a.IsActive {
			continue
		}
		if a.IsAsset {
			snapshot.TotalAssets = snapshot.TotalAssets.Add(a.CurrentBalance)
		} else {
			snapshot.TotalLiabilities = snapshot.TotalLiabilities.Add(a.CurrentBalance.Neg())
		}
		snapshot.NetWorth = snapshot.NetWorth.Add(a.CurrentBalance)
	}
	return &snapshot, nil
}

func (r *handlerRepo) SavePlaidItem(ctx context.Context, item *domain.PlaidItem) error {
	r.items = append(r.items, *item)
	return nil
}

func (r *handlerRepo) FindPlaidItemsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.PlaidItem, error) {
	return nil, nil
}

func (r *handlerRepo) ListPlaidItems(ctx context.Context) ([]domain.PlaidItem, error) {
	return nil, nil
}

// handlerPlaid is a scripted app.PlaidAPI recording how often it was called.
type handlerPlaid struct {
	linkToken   string
	exchange    *plaidclient.ExchangeResponse
	exchangeErr error
	accounts    *plaidclient.AccountsResponse

	calls int
}

func (p *handlerPlaid) CreateLinkToken(ctx context.Context, clientUserID string) (string, error) {
	p.calls++
	return p.linkToken, nil
}

func (p *handlerPlaid) ExchangePublicToken(ctx context.Context, publicToken string) (*plaidclient.ExchangeResponse, error) {
	p.calls++
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return p.exchange, nil
}

func (p *handlerPlaid) GetAccounts(ctx context.Context, accessToken string) (*plaidclient.AccountsResponse, error) {
	p.calls++
	return p.accounts, nil
}

type handlerLimiter struct {
	count      int
	retryAfter int
}

func (l *handlerLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, l.retryAfter, nil
}

func authedRequest(t *testing.T, method, target string, body []byte, userID uuid.UUID) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(context.WithValue(req.Context(), authUserIDKey, userID.String()))
}

func withChiParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body, got %q: %v", rec.Body.String(), err)
	}
	msg, ok := body["error"]
	if !ok {
		t.Fatalf("expected 'error' field in body %q", rec.Body.String())
	}
	return msg
}

func TestRouterRejectsUnauthenticatedRequests(t *testing.T) {
	plaid := &handlerPlaid{linkToken: "link-sandbox-abc"}
	service := app.NewService(&handlerRepo{}, plaid, nil, "ins_3")
	router := NewRouter(NewAccountHandlers(service), "http://127.0.0.1:1/jwks")

	tests := []struct {
		method string
		target string
		header string
	}{
		{"POST", "/plaid/link-token", ""},
		{"POST", "/plaid/exchange", ""},
		{"POST", "/plaid/refresh", ""},
		{"GET", "/networth", ""},
		{"GET", "/accounts", ""},
		{"POST", "/accounts", ""},
		{"PUT", "/accounts/" + uuid.NewString() + "/balance", ""},
		{"DELETE", "/accounts/" + uuid.NewString(), ""},
		{"POST", "/plaid/link-token", "Token abc"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if msg := decodeErrorBody(t, rec); msg == "" {
				t.Fatal("expected a non-empty error message")
			}
		})
	}

	// The middleware rejects before any handler runs, so the provider is
	// never contacted for an unauthenticated request.
	if plaid.calls != 0 {
		t.Fatalf("expected zero provider calls, got %d", plaid.calls)
	}

	// The health endpoint stays open.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
}

func TestNetWorthHandler(t *testing.T) {
	repo := &handlerRepo{}
	service := app.NewService(repo, nil, nil, "ins_3")
	handlers := NewAccountHandlers(service)
	userID := uuid.New()

	// No accounts yet: every figure is zero.
	rec := httptest.NewRecorder()
	handlers.NetWorthHandler(rec, authedRequest(t, "GET", "/networth", nil, userID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snapshot domain.NetWorthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if !snapshot.NetWorth.IsZero() || !snapshot.TotalAssets.IsZero() || !snapshot.TotalLiabilities.IsZero() {
		t.Fatalf("expected all-zero snapshot, got %+v", snapshot)
	}

	repo.accounts = append(repo.accounts,
		domain.Account{ID: uuid.New(), UserID: userID, Name: "Brokerage", Type: "investment", CurrentBalance: decimal.NewFromInt(10000), IsAsset: true, IsActive: true},
		domain.Account{ID: uuid.New(), UserID: userID, Name: "Amex Gold", Type: domain.TypeCreditCard, CurrentBalance: decimal.NewFromInt(-3500), IsActive: true},
	)

	rec = httptest.NewRecorder()
	handlers.NetWorthHandler(rec, authedRequest(t, "GET", "/networth", nil, userID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snapshot.TotalAssets.String() != "10000" || snapshot.TotalLiabilities.String() != "3500" || snapshot.NetWorth.String() != "6500" {
		t.Fatalf("expected 10000/3500/6500, got %s/%s/%s", snapshot.TotalAssets, snapshot.TotalLiabilities, snapshot.NetWorth)
	}
}

func TestCreateLinkTokenHandler(t *testing.T) {
	t.Run("issues token", func(t *testing.T) {
		plaid := &handlerPlaid{linkToken: "link-sandbox-abc"}
		service := app.NewService(&handlerRepo{}, plaid, nil, "ins_3")
		handlers := NewAccountHandlers(service)

		rec := httptest.NewRecorder()
		handlers.CreateLinkTokenHandler(rec, authedRequest(t, "POST", "/plaid/link-token", nil, uuid.New()))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body domain.LinkTokenResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body.LinkToken != "link-sandbox-abc" {
			t.Fatalf("expected forwarded link token, got %q", body.LinkToken)
		}
	})

	t.Run("plaid not configured", func(t *testing.T) {
		service := app.NewService(&handlerRepo{}, nil, nil, "ins_3")
		handlers := NewAccountHandlers(service)

		rec := httptest.NewRecorder()
		handlers.CreateLinkTokenHandler(rec, authedRequest(t, "POST", "/plaid/link-token", nil, uuid.New()))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if msg := decodeErrorBody(t, rec); msg != "Plaid configuration missing" {
			t.Fatalf("unexpected error message %q", msg)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		plaid := &handlerPlaid{linkToken: "link-sandbox-abc"}
		service := app.NewService(&handlerRepo{}, plaid, nil, "ins_3")
		service.SetPlaidRateLimiter(&handlerLimiter{count: 11, retryAfter: 30}, 10)
		handlers := NewAccountHandlers(service)

		rec := httptest.NewRecorder()
		handlers.CreateLinkTokenHandler(rec, authedRequest(t, "POST", "/plaid/link-token", nil, uuid.New()))
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "30" {
			t.Fatalf("expected Retry-After 30, got %q", got)
		}
	})
}

func TestExchangeTokenHandler(t *testing.T) {
	exchangeBody := []byte(`{"public_token":"public-sandbox-token"}`)

	t.Run("imports filtered accounts", func(t *testing.T) {
		repo := &handlerRepo{}
		current := 200.0
		resp := &plaidclient.AccountsResponse{
			Accounts: []plaidclient.Account{
				{AccountID: "amex-1", Name: "Amex Gold", Type: "credit", InstitutionID: "ins_3", Balances: plaidclient.Balances{Current: &current}},
			},
		}
		resp.Item.ItemID = "item-1"
		plaid := &handlerPlaid{
			exchange: &plaidclient.ExchangeResponse{AccessToken: "access-1", ItemID: "item-1"},
			accounts: resp,
		}
		service := app.NewService(repo, plaid, nil, "ins_3")
		handlers := NewAccountHandlers(service)

		rec := httptest.NewRecorder()
		handlers.ExchangeTokenHandler(rec, authedRequest(t, "POST", "/plaid/exchange", exchangeBody, uuid.New()))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var body domain.ExchangeTokenResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body.Accounts != 1 {
			t.Fatalf("expected 1 imported account, got %d", body.Accounts)
		}
		if body.Message != "Successfully connected 1 Amex accounts" {
			t.Fatalf("unexpected message %q", body.Message)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		service := app.NewService(&handlerRepo{}, &handlerPlaid{}, nil, "ins_3")
		handlers := NewAccountHandlers(service)

		rec := httptest.NewRecorder()
		handlers.ExchangeTokenHandler(rec, authedRequest(t, "POST", "/plaid/exchange", []byte(`{`), uuid.New()))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("missing public token", func(t *testing.T) {
		service := app.NewService(&handlerRepo{}, &handlerPlaid{}, nil, "ins_3")
		handlers := NewAccountHandlers(service)

		rec := httptest.NewRecorder()
		handlers.ExchangeTokenHandler(rec, authedRequest(t, "POST", "/plaid/exchange", []byte(`{}`), uuid.New()))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if msg := decodeErrorBody(t, rec); msg != "public_token is required" {
			t.Fatalf("unexpected error message %q", msg)
		}
	})

	t.Run("upstream failure surfaces message and writes nothing", func(t *testing.T) {
		repo := &handlerRepo{}
		plaid := &handlerPlaid{
			exchangeErr: &plaidclient.ErrorResponse{
				StatusCode:   400,
				ErrorCode:    "INVALID_PUBLIC_TOKEN",
				ErrorMessage: "the provided public token is invalid",
			},
		}
		service := app.NewService(repo, plaid, nil, "ins_3")
		handlers := NewAccountHandlers(service)

		rec := httptest.NewRecorder()
		handlers.ExchangeTokenHandler(rec, authedRequest(t, "POST", "/plaid/exchange", exchangeBody, uuid.New()))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if msg := decodeErrorBody(t, rec); msg != "the provided public token is invalid" {
			t.Fatalf("expected provider message surfaced, got %q", msg)
		}
		if len(repo.accounts) != 0 || len(repo.items) != 0 {
			t.Fatal("nothing may be written after a failed exchange")
		}
	})
}

func TestAddAccountHandler(t *testing.T) {
	repo := &handlerRepo{}
	service := app.NewService(repo, nil, nil, "ins_3")
	handlers := NewAccountHandlers(service)
	userID := uuid.New()

	rec := httptest.NewRecorder()
	handlers.AddAccountHandler(rec, authedRequest(t, "POST", "/accounts",
		[]byte(`{"name":"Amex Gold","type":"credit","balance":1234.56}`), userID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var view domain.AccountView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	if view.Type != "credit" {
		t.Fatalf("expected view type credit, got %q", view.Type)
	}
	if view.Balance.String() != "1234.56" {
		t.Fatalf("expected positive magnitude 1234.56, got %s", view.Balance)
	}
	if got := repo.accounts[0].CurrentBalance.String(); got != "-1234.56" {
		t.Fatalf("expected stored balance -1234.56, got %s", got)
	}

	rec = httptest.NewRecorder()
	handlers.AddAccountHandler(rec, authedRequest(t, "POST", "/accounts",
		[]byte(`{"name":"Savings","type":"depository","balance":100}`), userID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handlers.AddAccountHandler(rec, authedRequest(t, "POST", "/accounts", []byte(`not json`), userID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestUpdateBalanceHandler(t *testing.T) {
	repo := &handlerRepo{}
	service := app.NewService(repo, nil, nil, "ins_3")
	handlers := NewAccountHandlers(service)
	userID := uuid.New()

	created, err := service.AddManualAccount(context.Background(), userID, domain.AddAccountRequest{
		Name: "Amex Gold", Type: "credit", Balance: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	req := authedRequest(t, "PUT", "/accounts/"+created.ID.String()+"/balance", []byte(`{"balance":750}`), userID)
	handlers.UpdateBalanceHandler(rec, withChiParam(req, "accountID", created.ID.String()))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := repo.accounts[0].CurrentBalance.String(); got != "-750" {
		t.Fatalf("expected stored balance -750, got %s", got)
	}

	rec = httptest.NewRecorder()
	unknown := uuid.NewString()
	req = authedRequest(t, "PUT", "/accounts/"+unknown+"/balance", []byte(`{"balance":750}`), userID)
	handlers.UpdateBalanceHandler(rec, withChiParam(req, "accountID", unknown))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = authedRequest(t, "PUT", "/accounts/not-a-uuid/balance", []byte(`{"balance":750}`), userID)
	handlers.UpdateBalanceHandler(rec, withChiParam(req, "accountID", "not-a-uuid"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed account id, got %d", rec.Code)
	}
}

func TestRemoveAccountHandler(t *testing.T) {
	repo := &handlerRepo{}
	service := app.NewService(repo, nil, nil, "ins_3")
	handlers := NewAccountHandlers(service)
	userID := uuid.New()

	created, err := service.AddManualAccount(context.Background(), userID, domain.AddAccountRequest{
		Name: "Amex Gold", Type: "credit", Balance: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	req := authedRequest(t, "DELETE", "/accounts/"+created.ID.String(), nil, userID)
	handlers.RemoveAccountHandler(rec, withChiParam(req, "accountID", created.ID.String()))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if repo.accounts[0].IsActive {
		t.Fatal("expected row flagged inactive")
	}

	// A second delete finds no active row.
	rec = httptest.NewRecorder()
	req = authedRequest(t, "DELETE", "/accounts/"+created.ID.String(), nil, userID)
	handlers.RemoveAccountHandler(rec, withChiParam(req, "accountID", created.ID.String()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeat delete, got %d", rec.Code)
	}
}
