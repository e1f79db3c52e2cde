/**
 * @description
 * This file defines the core domain models for the net-worth service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database rows, and client-facing
 *   views ensures clear separation of concerns and type safety.
 * - Balances are stored as `decimal.Decimal` to avoid floating-point
 *   inaccuracies with financial data. Liabilities are stored as non-positive
 *   values and assets as non-negative values, so that a single summation
 *   over a user's rows yields their net worth.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider identifies where an account's data comes from. It is a closed set:
// adding a provider requires a code change so a typo cannot silently create a
// new provenance tag.
type Provider string

const (
	ProviderPlaid  Provider = "plaid"
	ProviderDirect Provider = "direct"
	ProviderManual Provider = "manual"
)

// ParseProvider validates a raw provider tag against the closed set.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderPlaid:
		return ProviderPlaid, nil
	case ProviderDirect:
		return ProviderDirect, nil
	case ProviderManual:
		return ProviderManual, nil
	default:
		return "", fmt.Errorf("unknown provider %q", raw)
	}
}

// Stored account types for credit accounts.
const (
	TypeCreditCard = "credit_card"
	TypeChargeCard = "charge_card"
)

// Account represents one row of a user's ledger. This struct maps directly to
// the `accounts` table.
type Account struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	Name              string          `json:"name"`
	Type              string          `json:"type"` // e.g., 'credit_card', 'charge_card', or an asset category
	CurrentBalance    decimal.Decimal `json:"current_balance"`
	IsAsset           bool            `json:"is_asset"`
	Provider          Provider        `json:"provider"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	IsActive          bool            `json:"is_active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// PlaidItem holds the durable access credential obtained when a user links an
// institution through Plaid. Access tokens are server-side only and must never
// be serialized into an API response.
type PlaidItem struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	ItemID        string    `json:"item_id"`
	AccessToken   string    `json:"-"`
	InstitutionID string    `json:"institution_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// NetWorthSnapshot is the derived aggregate over a user's active accounts.
// It is computed on demand and never stored.
type NetWorthSnapshot struct {
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	NetWorth         decimal.Decimal `json:"net_worth"`
}

// ZeroNetWorthSnapshot is the snapshot for a user with no active accounts.
func ZeroNetWorthSnapshot() NetWorthSnapshot {
	return NetWorthSnapshot{
		TotalAssets:      decimal.Zero,
		TotalLiabilities: decimal.Zero,
		NetWorth:         decimal.Zero,
	}
}

// AccountView is the client-facing shape of a credit account. Balances are
// reported as positive magnitudes; the stored sign convention is an internal
// detail of the ledger.
type AccountView struct {
	ID                uuid.UUID        `json:"id"`
	Name              string           `json:"name"`
	Type              string           `json:"type"` // 'credit' or 'charge'
	Balance           decimal.Decimal  `json:"balance"`
	AvailableCredit   *decimal.Decimal `json:"available_credit,omitempty"`
	Provider          Provider         `json:"provider"`
	ExternalAccountID *string          `json:"external_account_id,omitempty"`
	LastUpdated       time.Time        `json:"last_updated"`
}

// NewAccountView converts a stored ledger row into its client-facing view.
func NewAccountView(a Account) AccountView {
	viewType := "credit"
	if a.Type == TypeChargeCard {
		viewType = "charge"
	}
	provider := a.Provider
	if provider == "" {
		provider = ProviderManual
	}
	return AccountView{
		ID:                a.ID,
		Name:              a.Name,
		Type:              viewType,
		Balance:           a.CurrentBalance.Abs(),
		Provider:          provider,
		ExternalAccountID: a.ExternalAccountID,
		LastUpdated:       a.UpdatedAt,
	}
}

// NormalizeLiability applies the sign-normalization invariant for liability
// balances: the stored value is the negative of the absolute owed amount.
func NormalizeLiability(balance decimal.Decimal) decimal.Decimal {
	if balance.IsZero() {
		return decimal.Zero
	}
	return balance.Abs().Neg()
}

// AddAccountRequest is the DTO for manually creating a credit account.
type AddAccountRequest struct {
	Name            string           `json:"name"`
	Type            string           `json:"type"` // 'credit' or 'charge'
	Balance         decimal.Decimal  `json:"balance"`
	AvailableCredit *decimal.Decimal `json:"available_credit,omitempty"`
}

// UpdateBalanceRequest is the DTO for a manual balance update.
type UpdateBalanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

// ExchangeTokenRequest carries the one-time public token returned by Plaid
// Link after the user completes the linking flow.
type ExchangeTokenRequest struct {
	PublicToken string `json:"public_token"`
}

// LinkTokenResponse is returned by the link-token endpoint.
type LinkTokenResponse struct {
	LinkToken string `json:"link_token"`
}

// ExchangeTokenResponse summarizes an import; the raw Plaid payload is never
// forwarded to the client.
type ExchangeTokenResponse struct {
	Accounts int    `json:"accounts"`
	Message  string `json:"message"`
}
