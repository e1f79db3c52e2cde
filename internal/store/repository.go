/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the net-worth service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: For balance values.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dwondim/networth-tracking-mvp/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
// Every method is scoped to a single owner; cross-user access is structurally
// impossible at this layer.
type Repository interface {
	// Ledger methods
	ListActiveCreditAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	InsertManualAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, userID, accountID uuid.UUID, balance decimal.Decimal) error
	DeactivateAccount(ctx context.Context, userID, accountID uuid.UUID) error

	// Linked-account methods
	// UpsertLinkedAccounts writes provider-sourced rows keyed by
	// (user_id, external_account_id); re-importing refreshes name and
	// balance instead of duplicating rows. Returns the number of rows written.
	UpsertLinkedAccounts(ctx context.Context, userID uuid.UUID, accounts []domain.Account) (int, error)
	UpdateLinkedAccountBalance(ctx context.Context, userID uuid.UUID, externalAccountID string, balance decimal.Decimal) error

	// Net-worth aggregation
	ComputeNetWorth(ctx context.Context, userID uuid.UUID) (*domain.NetWorthSnapshot, error)

	// Plaid item methods
	SavePlaidItem(ctx context.Context, item *domain.PlaidItem) error
	FindPlaidItemsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.PlaidItem, error)
	ListPlaidItems(ctx context.Context) ([]domain.PlaidItem, error)
}
