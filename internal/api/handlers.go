/**
 * @description
 * This file contains the HTTP handlers for the net-worth service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dwondim/networth-tracking-mvp/internal/app"
	"github.com/dwondim/networth-tracking-mvp/internal/domain"
	"github.com/dwondim/networth-tracking-mvp/internal/store"
	"github.com/dwondim/networth-tracking-mvp/pkg/plaidclient"
)

// AccountHandlers holds the application service that handlers will use.
type AccountHandlers struct {
	service *app.Service
}

// NewAccountHandlers creates a new instance of AccountHandlers.
func NewAccountHandlers(service *app.Service) *AccountHandlers {
	return &AccountHandlers{service: service}
}

// authenticatedUserID resolves the caller's UUID from the request context.
// Returns false after writing the response when the identity is unusable.
func (h *AccountHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id user_id=%q", userIDStr)
		h.writeError(w, http.StatusUnauthorized, "Invalid user identity")
		return uuid.Nil, false
	}
	return userID, true
}

// writePlaidFlowError maps the import-workflow error taxonomy onto HTTP
// statuses: configuration errors and upstream failures are 500 with the
// provider's message where one exists, rate limiting is 429 with Retry-After.
func (h *AccountHandlers) writePlaidFlowError(w http.ResponseWriter, endpoint string, err error) {
	var rateLimited *app.RateLimitedError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again shortly.")
		return
	}
	if errors.Is(err, app.ErrPlaidNotConfigured) {
		log.Printf("level=error component=api endpoint=%s outcome=failed reason=plaid_not_configured", endpoint)
		h.writeError(w, http.StatusInternalServerError, "Plaid configuration missing")
		return
	}
	var upstream *plaidclient.ErrorResponse
	if errors.As(err, &upstream) {
		h.writeError(w, http.StatusInternalServerError, upstream.Message())
		return
	}
	log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
	h.writeError(w, http.StatusInternalServerError, "Internal server error")
}

// CreateLinkTokenHandler issues a short-lived Plaid link token for the caller.
func (h *AccountHandlers) CreateLinkTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	token, err := h.service.CreateLinkToken(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_link_token outcome=failed user_id=%s err=%v", userID, err)
		h.writePlaidFlowError(w, "create_link_token", err)
		return
	}

	h.writeJSON(w, http.StatusOK, domain.LinkTokenResponse{LinkToken: token})
}

// ExchangeTokenHandler exchanges a one-time public token and imports the
// caller's credit accounts at the target institution.
func (h *AccountHandlers) ExchangeTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req domain.ExchangeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=exchange_token outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	count, message, err := h.service.ExchangePublicToken(r.Context(), userID, req.PublicToken)
	if err != nil {
		if errors.Is(err, app.ErrInvalidPublicToken) {
			h.writeError(w, http.StatusBadRequest, "public_token is required")
			return
		}
		log.Printf("level=warn component=api endpoint=exchange_token outcome=failed user_id=%s err=%v", userID, err)
		h.writePlaidFlowError(w, "exchange_token", err)
		return
	}

	h.writeJSON(w, http.StatusOK, domain.ExchangeTokenResponse{Accounts: count, Message: message})
}

// RefreshHandler re-fetches balances for the caller's linked accounts.
func (h *AccountHandlers) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	count, err := h.service.RefreshLinkedBalances(r.Context(), userID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=refresh outcome=failed user_id=%s err=%v", userID, err)
		h.writePlaidFlowError(w, "refresh", err)
		return
	}

	h.writeJSON(w, http.StatusOK, domain.ExchangeTokenResponse{
		Accounts: count,
		Message:  fmt.Sprintf("Refreshed %d accounts", count),
	})
}

// NetWorthHandler returns the caller's net-worth snapshot.
func (h *AccountHandlers) NetWorthHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.NetWorth(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=networth outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to compute net worth")
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot)
}

// ListAccountsHandler returns the caller's active credit accounts.
func (h *AccountHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to retrieve accounts")
		return
	}

	h.writeJSON(w, http.StatusOK, accounts)
}

// AddAccountHandler creates a manually entered credit account.
func (h *AccountHandlers) AddAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req domain.AddAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	view, err := h.service.AddManualAccount(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidAccountName) || errors.Is(err, app.ErrInvalidAccountType) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=add_account outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to create manual account")
		return
	}

	h.writeJSON(w, http.StatusCreated, view)
}

// UpdateBalanceHandler sets a new balance on one of the caller's accounts.
func (h *AccountHandlers) UpdateBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	var req domain.UpdateBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.UpdateManualBalance(r.Context(), userID, accountID, req.Balance); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=update_balance outcome=failed user_id=%s account_id=%s err=%v", userID, accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to update account balance")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveAccountHandler soft-deletes one of the caller's accounts.
func (h *AccountHandlers) RemoveAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return
	}

	if err := h.service.RemoveAccount(r.Context(), userID, accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=remove_account outcome=failed user_id=%s account_id=%s err=%v", userID, accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeJSON is a helper for writing JSON responses.
func (h *AccountHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AccountHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
