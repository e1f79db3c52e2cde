package plaidclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, maxRetries int) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("sandbox", "client-id", "secret", "ins_3", 5*time.Second, maxRetries)
	client.BaseURL = server.URL
	return client, server
}

func TestBaseURLForEnvironment(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"production", "https://production.plaid.com"},
		{"development", "https://development.plaid.com"},
		{"sandbox", "https://sandbox.plaid.com"},
		{"", "https://sandbox.plaid.com"},
		{"bogus", "https://sandbox.plaid.com"},
	}
	for _, tt := range tests {
		if got := BaseURLForEnvironment(tt.env); got != tt.want {
			t.Fatalf("BaseURLForEnvironment(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestCreateLinkTokenRequestShape(t *testing.T) {
	var captured LinkTokenRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/link/token/create" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(LinkTokenResponse{LinkToken: "link-sandbox-abc"})
	}, 0)

	token, err := client.CreateLinkToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "link-sandbox-abc" {
		t.Fatalf("expected link-sandbox-abc, got %q", token)
	}

	if captured.ClientID != "client-id" || captured.Secret != "secret" {
		t.Fatal("credentials missing from request body")
	}
	if captured.User.ClientUserID != "user-123" {
		t.Fatalf("expected client_user_id user-123, got %q", captured.User.ClientUserID)
	}
	if len(captured.InstitutionIDs) != 1 || captured.InstitutionIDs[0] != "ins_3" {
		t.Fatalf("expected institution_ids [ins_3], got %v", captured.InstitutionIDs)
	}
	if len(captured.AccountFilters.Credit.AccountSubtypes) != 1 || captured.AccountFilters.Credit.AccountSubtypes[0] != "credit card" {
		t.Fatalf("expected credit card account filter, got %v", captured.AccountFilters.Credit.AccountSubtypes)
	}
	if len(captured.Products) == 0 {
		t.Fatal("expected products in request body")
	}
}

func TestExchangePublicTokenIsNeverRetried(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(ErrorResponse{
			ErrorType:    "API_ERROR",
			ErrorCode:    "INTERNAL_SERVER_ERROR",
			ErrorMessage: "plaid is having a bad day",
		})
	}, 3)

	_, err := client.ExchangePublicToken(context.Background(), "public-token")
	if err == nil {
		t.Fatal("expected error")
	}
	// A public token is consumed on first use, so even a 5xx gets one attempt.
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
	var upstream *ErrorResponse
	if !errors.As(err, &upstream) {
		t.Fatalf("expected *ErrorResponse, got %T: %v", err, err)
	}
	if upstream.ErrorCode != "INTERNAL_SERVER_ERROR" {
		t.Fatalf("unexpected error code %q", upstream.ErrorCode)
	}
}

func TestGetAccountsRetriesOn5xx(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(ErrorResponse{ErrorMessage: "upstream unavailable"})
			return
		}
		resp := AccountsResponse{
			Accounts: []Account{{AccountID: "amex-1", Name: "Amex Gold", Type: "credit"}},
		}
		resp.Item.ItemID = "item-1"
		json.NewEncoder(w).Encode(resp)
	}, 2)

	resp, err := client.GetAccounts(context.Background(), "access-token")
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if len(resp.Accounts) != 1 || resp.Accounts[0].AccountID != "amex-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRetryableCallStopsOn4xx(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{
			ErrorCode:    "INVALID_ACCESS_TOKEN",
			ErrorMessage: "access token is not valid",
		})
	}, 3)

	_, err := client.GetAccounts(context.Background(), "bad-token")
	if err == nil {
		t.Fatal("expected error")
	}
	// Client errors are terminal; retrying cannot fix the request.
	if attempts != 1 {
		t.Fatalf("expected 1 attempt on 4xx, got %d", attempts)
	}
	var upstream *ErrorResponse
	if !errors.As(err, &upstream) {
		t.Fatalf("expected *ErrorResponse, got %T", err)
	}
	if upstream.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", upstream.StatusCode)
	}
	if upstream.Message() != "access token is not valid" {
		t.Fatalf("unexpected message %q", upstream.Message())
	}
}

func TestErrorResponseMessage(t *testing.T) {
	withMessage := &ErrorResponse{StatusCode: 400, ErrorCode: "X", ErrorMessage: "something specific"}
	if withMessage.Message() != "something specific" {
		t.Fatalf("unexpected message %q", withMessage.Message())
	}
	bare := &ErrorResponse{StatusCode: 502}
	if bare.Message() == "" {
		t.Fatal("expected a fallback message")
	}
}
