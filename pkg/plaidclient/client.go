/**
 * @description
 * This package provides a client for interacting with the Plaid API.
 * It encapsulates the logic for making authenticated HTTP requests to Plaid's
 * endpoints, handling request body construction, and parsing responses.
 *
 * The three calls this service needs are covered: creating a link token,
 * exchanging a public token for an access token, and listing accounts.
 * Link-token creation and account listing are idempotent and retried with
 * jittered backoff on transport errors and 5xx responses; a public-token
 * exchange is single-use by Plaid contract and is never retried.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package plaidclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"
)

// Client is a client for the Plaid API.
type Client struct {
	BaseURL       string
	ClientID      string
	Secret        string
	InstitutionID string
	ClientName    string
	MaxRetries    int
	HTTPClient    *http.Client
}

// BaseURLForEnvironment maps a Plaid environment selector to its API host.
func BaseURLForEnvironment(env string) string {
	switch env {
	case "production":
		return "https://production.plaid.com"
	case "development":
		return "https://development.plaid.com"
	default:
		return "https://sandbox.plaid.com"
	}
}

// NewClient creates a new Plaid API client for the given environment.
func NewClient(env, clientID, secret, institutionID string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		BaseURL:       BaseURLForEnvironment(env),
		ClientID:      clientID,
		Secret:        secret,
		InstitutionID: institutionID,
		ClientName:    "Net Worth Tracker",
		MaxRetries:    maxRetries,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LinkTokenRequest represents the payload for /link/token/create, scoped to
// credit-card accounts at one institution.
type LinkTokenRequest struct {
	ClientID     string   `json:"client_id"`
	Secret       string   `json:"secret"`
	ClientName   string   `json:"client_name"`
	CountryCodes []string `json:"country_codes"`
	Language     string   `json:"language"`
	User         struct {
		ClientUserID string `json:"client_user_id"`
	} `json:"user"`
	Products       []string `json:"products"`
	AccountFilters struct {
		Credit struct {
			AccountSubtypes []string `json:"account_subtypes"`
		} `json:"credit"`
	} `json:"account_filters"`
	InstitutionIDs []string `json:"institution_ids"`
}

// LinkTokenResponse is the expected response from /link/token/create.
type LinkTokenResponse struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
	RequestID  string `json:"request_id"`
}

// ExchangeRequest represents the payload for /item/public_token/exchange.
type ExchangeRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token"`
}

// ExchangeResponse is the expected response from /item/public_token/exchange.
type ExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

// AccountsRequest represents the payload for /accounts/get.
type AccountsRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

// Balances carries the balance figures Plaid reports for one account.
// Current may be absent for some account types.
type Balances struct {
	Available *float64 `json:"available"`
	Current   *float64 `json:"current"`
	Limit     *float64 `json:"limit"`
}

// Account is one account entry in an /accounts/get response.
type Account struct {
	AccountID     string   `json:"account_id"`
	Name          string   `json:"name"`
	OfficialName  *string  `json:"official_name"`
	Type          string   `json:"type"`
	Subtype       string   `json:"subtype"`
	InstitutionID string   `json:"institution_id"`
	Balances      Balances `json:"balances"`
}

// AccountsResponse is the expected response from /accounts/get.
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
	Item     struct {
		ItemID        string `json:"item_id"`
		InstitutionID string `json:"institution_id"`
	} `json:"item"`
	RequestID string `json:"request_id"`
}

// ErrorResponse represents an error from the Plaid API.
type ErrorResponse struct {
	StatusCode     int     `json:"-"`
	ErrorType      string  `json:"error_type"`
	ErrorCode      string  `json:"error_code"`
	ErrorMessage   string  `json:"error_message"`
	DisplayMessage *string `json:"display_message"`
	RequestID      string  `json:"request_id"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("plaid api error: %s - %s", e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("plaid api error (status %d)", e.StatusCode)
}

// Message returns the human-readable text to surface to a caller.
func (e *ErrorResponse) Message() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	return e.Error()
}

// CreateLinkToken requests a short-lived link token for the given user,
// scoped to credit-card products at the configured institution.
func (c *Client) CreateLinkToken(ctx context.Context, clientUserID string) (string, error) {
	reqPayload := LinkTokenRequest{
		ClientID:     c.ClientID,
		Secret:       c.Secret,
		ClientName:   c.ClientName,
		CountryCodes: []string{"US"},
		Language:     "en",
		Products:     []string{"transactions", "accounts"},
	}
	reqPayload.User.ClientUserID = clientUserID
	reqPayload.AccountFilters.Credit.AccountSubtypes = []string{"credit card"}
	if c.InstitutionID != "" {
		reqPayload.InstitutionIDs = []string{c.InstitutionID}
	}

	var resp LinkTokenResponse
	if err := c.doPost(ctx, "/link/token/create", reqPayload, &resp, true); err != nil {
		return "", err
	}
	return resp.LinkToken, nil
}

// ExchangePublicToken trades a one-time public token for a durable access
// token. The call is never retried: the token is consumed on first use.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error) {
	reqPayload := ExchangeRequest{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		PublicToken: publicToken,
	}

	var resp ExchangeResponse
	if err := c.doPost(ctx, "/item/public_token/exchange", reqPayload, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccounts fetches the full account list for an access token.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	reqPayload := AccountsRequest{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		AccessToken: accessToken,
	}

	var resp AccountsResponse
	if err := c.doPost(ctx, "/accounts/get", reqPayload, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doPost is the shared request helper. When retryable is true, transport
// failures and 5xx responses are retried up to MaxRetries times with jittered
// backoff; 4xx responses are terminal either way.
func (c *Client) doPost(ctx context.Context, path string, payload interface{}, out interface{}, retryable bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal plaid request: %w", err)
	}

	attempts := 1
	if retryable && c.MaxRetries > 0 {
		attempts += c.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt)*500*time.Millisecond + time.Duration(rand.Intn(250))*time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			log.Printf("level=info component=plaid_client op=%s attempt=%d msg=\"retrying plaid request\"", path, attempt+1)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create plaid request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to execute plaid request: %w", err)
			continue
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read plaid response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.Unmarshal(bodyBytes, out); err != nil {
				return fmt.Errorf("failed to decode plaid response: %w", err)
			}
			return nil
		}

		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=plaid_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			lastErr = fmt.Errorf("plaid request failed with status %d", resp.StatusCode)
		} else {
			errResp.StatusCode = resp.StatusCode
			log.Printf("level=warn component=plaid_client op=%s status=%d code=%q msg=%q", path, resp.StatusCode, errResp.ErrorCode, errResp.ErrorMessage)
			lastErr = &errResp
		}

		if resp.StatusCode < 500 {
			return lastErr
		}
	}

	return lastErr
}
