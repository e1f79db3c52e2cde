/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to ledger accounts and Plaid items.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dwondim/networth-tracking-mvp/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrPlaidItemNotFound = errors.New("plaid item not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListActiveCreditAccounts retrieves the caller's active credit-type rows.
func (r *PostgresRepository) ListActiveCreditAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `
		SELECT id, user_id, name, type, current_balance, is_asset, provider,
		       external_account_id, is_active, created_at, updated_at
		FROM accounts
		WHERE user_id = $1 AND is_active AND type IN ('credit_card', 'charge_card')
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Name,
			&a.Type,
			&a.CurrentBalance,
			&a.IsAsset,
			&a.Provider,
			&a.ExternalAccountID,
			&a.IsActive,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// InsertManualAccount creates a single user-entered ledger row.
func (r *PostgresRepository) InsertManualAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	var created domain.Account
	query := `
		INSERT INTO accounts (user_id, name, type, current_balance, is_asset, provider)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, name, type, current_balance, is_asset, provider,
		          external_account_id, is_active, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.UserID,
		account.Name,
		account.Type,
		account.CurrentBalance,
		account.IsAsset,
		account.Provider,
	).Scan(
		&created.ID,
		&created.UserID,
		&created.Name,
		&created.Type,
		&created.CurrentBalance,
		&created.IsAsset,
		&created.Provider,
		&created.ExternalAccountID,
		&created.IsActive,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateAccountBalance sets a new balance on one of the caller's rows and
// bumps its last-reconciled marker.
func (r *PostgresRepository) UpdateAccountBalance(ctx context.Context, userID, accountID uuid.UUID, balance decimal.Decimal) error {
	query := `UPDATE accounts SET current_balance = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3 AND is_active`
	result, err := r.db.Exec(ctx, query, balance, accountID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeactivateAccount performs the logical delete; rows are never removed.
func (r *PostgresRepository) DeactivateAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	query := `UPDATE accounts SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND user_id = $2 AND is_active`
	result, err := r.db.Exec(ctx, query, accountID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpsertLinkedAccounts writes provider-sourced rows in a single transaction.
// The partial unique index on (user_id, external_account_id) makes repeated
// imports refresh existing rows rather than duplicate them.
func (r *PostgresRepository) UpsertLinkedAccounts(ctx context.Context, userID uuid.UUID, accounts []domain.Account) (int, error) {
	if len(accounts) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO accounts (user_id, name, type, current_balance, is_asset, provider, external_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, external_account_id) WHERE external_account_id IS NOT NULL
		DO UPDATE SET
			name = EXCLUDED.name,
			current_balance = EXCLUDED.current_balance,
			is_active = TRUE,
			updated_at = NOW()
	`
	written := 0
	for _, account := range accounts {
		if account.ExternalAccountID == nil {
			return 0, fmt.Errorf("linked account %q has no external account id", account.Name)
		}
		if _, err := tx.Exec(ctx, query,
			userID,
			account.Name,
			account.Type,
			account.CurrentBalance,
			account.IsAsset,
			account.Provider,
			account.ExternalAccountID,
		); err != nil {
			return 0, err
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return written, nil
}

// UpdateLinkedAccountBalance refreshes one provider-linked row matched by its
// external account id.
func (r *PostgresRepository) UpdateLinkedAccountBalance(ctx context.Context, userID uuid.UUID, externalAccountID string, balance decimal.Decimal) error {
	query := `
		UPDATE accounts SET current_balance = $1, updated_at = NOW()
		WHERE user_id = $2 AND external_account_id = $3 AND is_active
	`
	result, err := r.db.Exec(ctx, query, balance, userID, externalAccountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ComputeNetWorth aggregates the caller's active rows in one query. An empty
// account set yields an all-zero snapshot, not an error.
func (r *PostgresRepository) ComputeNetWorth(ctx context.Context, userID uuid.UUID) (*domain.NetWorthSnapshot, error) {
	var snapshot domain.NetWorthSnapshot
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN is_asset THEN current_balance ELSE 0 END), 0) AS total_assets,
			COALESCE(SUM(CASE WHEN NOT is_asset THEN -current_balance ELSE 0 END), 0) AS total_liabilities,
			COALESCE(SUM(current_balance), 0) AS net_worth
		FROM accounts
		WHERE user_id = $1 AND is_active
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&snapshot.TotalAssets,
		&snapshot.TotalLiabilities,
		&snapshot.NetWorth,
	)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SavePlaidItem stores (or refreshes) the durable access credential for a
// linked item.
func (r *PostgresRepository) SavePlaidItem(ctx context.Context, item *domain.PlaidItem) error {
	query := `
		INSERT INTO plaid_items (user_id, item_id, access_token, institution_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			institution_id = EXCLUDED.institution_id
	`
	_, err := r.db.Exec(ctx, query, item.UserID, item.ItemID, item.AccessToken, item.InstitutionID)
	return err
}

// FindPlaidItemsByUserID returns the caller's linked items.
func (r *PostgresRepository) FindPlaidItemsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.PlaidItem, error) {
	query := `
		SELECT id, user_id, item_id, access_token, COALESCE(institution_id, ''), created_at
		FROM plaid_items
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlaidItems(rows)
}

// ListPlaidItems returns every linked item; used by the periodic refresh job.
func (r *PostgresRepository) ListPlaidItems(ctx context.Context) ([]domain.PlaidItem, error) {
	query := `
		SELECT id, user_id, item_id, access_token, COALESCE(institution_id, ''), created_at
		FROM plaid_items
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlaidItems(rows)
}

func scanPlaidItems(rows pgx.Rows) ([]domain.PlaidItem, error) {
	var items []domain.PlaidItem
	for rows.Next() {
		var item domain.PlaidItem
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ItemID,
			&item.AccessToken,
			&item.InstitutionID,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
