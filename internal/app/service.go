/**
 * @description
 * This file contains the core business logic for the net-worth service. The `Service`
 * struct orchestrates the account aggregation workflow, coordinating between the
 * database repository, the Plaid API client, and the message broker.
 *
 * Key features:
 * - Implements the main use cases: link-token issuance, public-token exchange
 *   with account import, manual account management, balance refresh, and the
 *   net-worth read path.
 * - Enforces the sign-normalization invariant on every ingestion path:
 *   liabilities are stored as non-positive values.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: For balance arithmetic.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/plaidclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dwondim/networth-tracking-mvp/internal/domain"
	"github.com/dwondim/networth-tracking-mvp/internal/store"
	"github.com/dwondim/networth-tracking-mvp/pkg/plaidclient"
	"github.com/dwondim/networth-tracking-mvp/pkg/rabbitmq"
)

var (
	ErrPlaidNotConfigured = errors.New("plaid credentials are not configured")
	ErrInvalidPublicToken = errors.New("public token is required")
	ErrInvalidAccountName = errors.New("account name is required")
	ErrInvalidAccountType = errors.New("account type must be 'credit' or 'charge'")
)

// RateLimitedError is returned when a Plaid-facing operation exceeds the
// caller's allowance. RetryAfter is in seconds.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfter)
}

// PlaidAPI is the subset of the Plaid client the service depends on.
// Declared as an interface so tests can substitute a fake.
type PlaidAPI interface {
	CreateLinkToken(ctx context.Context, clientUserID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*plaidclient.ExchangeResponse, error)
	GetAccounts(ctx context.Context, accessToken string) (*plaidclient.AccountsResponse, error)
}

// PlaidRateLimiter consumes one unit from a (scope, subject) allowance and
// reports the running count and retry-after hint.
type PlaidRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the net-worth ledger.
type Service struct {
	repo          store.Repository
	plaid         PlaidAPI
	events        rabbitmq.Publisher
	institutionID string

	rateLimiter         PlaidRateLimiter
	linkRateLimitPerMin int
}

// NewService creates a new net-worth service instance. A nil plaid client
// means the deployment has no Plaid credentials; linking operations will fail
// with ErrPlaidNotConfigured while the rest of the ledger keeps working.
func NewService(repo store.Repository, plaid PlaidAPI, events rabbitmq.Publisher, institutionID string) *Service {
	return &Service{
		repo:          repo,
		plaid:         plaid,
		events:        events,
		institutionID: institutionID,
	}
}

// SetPlaidRateLimiter wires an optional distributed rate limiter for
// Plaid-facing operations.
func (s *Service) SetPlaidRateLimiter(limiter PlaidRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.linkRateLimitPerMin = perMinute
}

func (s *Service) checkPlaidRateLimit(ctx context.Context, scope string, userID uuid.UUID) error {
	if s.rateLimiter == nil || s.linkRateLimitPerMin <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, userID.String(), s.linkRateLimitPerMin, time.Minute)
	if err != nil {
		// The limiter protects the Plaid quota; its own failure must not take
		// down linking.
		log.Printf("level=warn component=app scope=%s msg=\"rate limiter unavailable; allowing request\" err=%v", scope, err)
		return nil
	}
	if count > s.linkRateLimitPerMin {
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

// CreateLinkToken requests a short-lived Plaid link token for the user,
// scoped to credit-card products at the configured institution. The token is
// forwarded verbatim to the caller; nothing is stored.
func (s *Service) CreateLinkToken(ctx context.Context, userID uuid.UUID) (string, error) {
	if s.plaid == nil {
		return "", ErrPlaidNotConfigured
	}
	if err := s.checkPlaidRateLimit(ctx, "plaid_link", userID); err != nil {
		return "", err
	}

	token, err := s.plaid.CreateLinkToken(ctx, userID.String())
	if err != nil {
		return "", fmt.Errorf("failed to create link token: %w", err)
	}
	log.Printf("level=info component=app op=create_link_token user_id=%s", userID)
	return token, nil
}

// ExchangePublicToken runs the import workflow: exchange the one-time public
// token for an access token, fetch the account list, filter to the target
// institution's credit accounts, normalize sign and shape, and upsert the
// rows under the caller. Nothing is written until both network calls succeed.
func (s *Service) ExchangePublicToken(ctx context.Context, userID uuid.UUID, publicToken string) (int, string, error) {
	if strings.TrimSpace(publicToken) == "" {
		return 0, "", ErrInvalidPublicToken
	}
	if s.plaid == nil {
		return 0, "", ErrPlaidNotConfigured
	}
	if err := s.checkPlaidRateLimit(ctx, "plaid_exchange", userID); err != nil {
		return 0, "", err
	}

	exchange, err := s.plaid.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return 0, "", fmt.Errorf("failed to exchange token: %w", err)
	}

	accountsResp, err := s.plaid.GetAccounts(ctx, exchange.AccessToken)
	if err != nil {
		return 0, "", fmt.Errorf("failed to fetch accounts: %w", err)
	}

	linked := s.normalizeLinkedAccounts(userID, accountsResp.Accounts)

	written := 0
	if len(linked) > 0 {
		written, err = s.repo.UpsertLinkedAccounts(ctx, userID, linked)
		if err != nil {
			return 0, "", fmt.Errorf("failed to store accounts: %w", err)
		}
	}

	// Persist the access credential so balances can be re-fetched later.
	institutionID := accountsResp.Item.InstitutionID
	if institutionID == "" {
		institutionID = s.institutionID
	}
	item := &domain.PlaidItem{
		UserID:        userID,
		ItemID:        exchange.ItemID,
		AccessToken:   exchange.AccessToken,
		InstitutionID: institutionID,
	}
	if err := s.repo.SavePlaidItem(ctx, item); err != nil {
		// The import itself succeeded; losing the item only disables refresh.
		log.Printf("level=warn component=app op=exchange_token msg=\"failed to persist plaid item\" user_id=%s err=%v", userID, err)
	}

	if s.events != nil && written > 0 {
		event := rabbitmq.AccountsLinkedEvent{
			UserID:        userID,
			InstitutionID: institutionID,
			Accounts:      written,
			Timestamp:     time.Now(),
		}
		if err := s.events.PublishAccountsLinkedEvent(ctx, event); err != nil {
			log.Printf("level=warn component=app op=exchange_token msg=\"accounts linked event publish failed\" user_id=%s err=%v", userID, err)
		}
	}

	log.Printf("level=info component=app op=exchange_token user_id=%s imported=%d", userID, written)
	return written, fmt.Sprintf("Successfully connected %d Amex accounts", written), nil
}

// normalizeLinkedAccounts filters the provider payload to the target
// institution's credit accounts and maps each to a ledger row obeying the
// sign-normalization invariant. Everything else is dropped by design: this
// ledger only manages one institution's credit accounts.
func (s *Service) normalizeLinkedAccounts(userID uuid.UUID, accounts []plaidclient.Account) []domain.Account {
	var linked []domain.Account
	for _, account := range accounts {
		if account.InstitutionID != s.institutionID || account.Type != "credit" {
			continue
		}
		balance := decimal.Zero
		if account.Balances.Current != nil {
			balance = decimal.NewFromFloat(*account.Balances.Current)
		}
		externalID := account.AccountID
		linked = append(linked, domain.Account{
			UserID:            userID,
			Name:              account.Name,
			Type:              domain.TypeCreditCard,
			CurrentBalance:    domain.NormalizeLiability(balance),
			IsAsset:           false,
			Provider:          domain.ProviderPlaid,
			ExternalAccountID: &externalID,
			IsActive:          true,
		})
	}
	return linked
}

// NetWorth computes the caller's snapshot over active rows.
func (s *Service) NetWorth(ctx context.Context, userID uuid.UUID) (*domain.NetWorthSnapshot, error) {
	snapshot, err := s.repo.ComputeNetWorth(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute net worth: %w", err)
	}
	return snapshot, nil
}

// ListAccounts returns the caller's active credit accounts in client shape.
func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.AccountView, error) {
	accounts, err := s.repo.ListActiveCreditAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	views := make([]domain.AccountView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, domain.NewAccountView(account))
	}
	return views, nil
}

// AddManualAccount creates a user-entered credit account. The entered balance
// is stored as a non-positive value regardless of the sign the user typed.
func (s *Service) AddManualAccount(ctx context.Context, userID uuid.UUID, req domain.AddAccountRequest) (*domain.AccountView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidAccountName
	}

	var storedType string
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "credit":
		storedType = domain.TypeCreditCard
	case "charge":
		storedType = domain.TypeChargeCard
	default:
		return nil, ErrInvalidAccountType
	}

	account := &domain.Account{
		UserID:         userID,
		Name:           name,
		Type:           storedType,
		CurrentBalance: domain.NormalizeLiability(req.Balance),
		IsAsset:        false,
		Provider:       domain.ProviderManual,
		IsActive:       true,
	}
	created, err := s.repo.InsertManualAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create manual account: %w", err)
	}

	view := domain.NewAccountView(*created)
	view.AvailableCredit = req.AvailableCredit
	return &view, nil
}

// UpdateManualBalance sets a new balance on one of the caller's accounts,
// applying the liability sign convention.
func (s *Service) UpdateManualBalance(ctx context.Context, userID, accountID uuid.UUID, balance decimal.Decimal) error {
	return s.repo.UpdateAccountBalance(ctx, userID, accountID, domain.NormalizeLiability(balance))
}

// RemoveAccount soft-deletes one of the caller's accounts.
func (s *Service) RemoveAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	return s.repo.DeactivateAccount(ctx, userID, accountID)
}

// RefreshLinkedBalances re-fetches balances for every Plaid item the caller
// has linked and updates the matching ledger rows. Returns the number of rows
// refreshed.
func (s *Service) RefreshLinkedBalances(ctx context.Context, userID uuid.UUID) (int, error) {
	if s.plaid == nil {
		return 0, ErrPlaidNotConfigured
	}

	items, err := s.repo.FindPlaidItemsByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load plaid items: %w", err)
	}

	refreshed := 0
	for _, item := range items {
		accountsResp, err := s.plaid.GetAccounts(ctx, item.AccessToken)
		if err != nil {
			return refreshed, fmt.Errorf("failed to fetch accounts: %w", err)
		}
		for _, account := range accountsResp.Accounts {
			balance := decimal.Zero
			if account.Balances.Current != nil {
				balance = decimal.NewFromFloat(*account.Balances.Current)
			}
			err := s.repo.UpdateLinkedAccountBalance(ctx, userID, account.AccountID, domain.NormalizeLiability(balance))
			if err != nil {
				if errors.Is(err, store.ErrAccountNotFound) {
					// Row was soft-deleted or never imported; skip.
					continue
				}
				return refreshed, fmt.Errorf("failed to update balance: %w", err)
			}
			refreshed++
		}
	}

	if s.events != nil && refreshed > 0 {
		event := rabbitmq.BalancesRefreshedEvent{
			UserID:    userID,
			Accounts:  refreshed,
			Timestamp: time.Now(),
		}
		if err := s.events.PublishBalancesRefreshedEvent(ctx, event); err != nil {
			log.Printf("level=warn component=app op=refresh msg=\"balances refreshed event publish failed\" user_id=%s err=%v", userID, err)
		}
	}

	return refreshed, nil
}

// RefreshAllLinkedBalances walks every stored Plaid item and refreshes its
// owner's balances. One item failing does not stop the sweep; used by the
// periodic refresh job.
func (s *Service) RefreshAllLinkedBalances(ctx context.Context) error {
	if s.plaid == nil {
		return ErrPlaidNotConfigured
	}

	items, err := s.repo.ListPlaidItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list plaid items: %w", err)
	}

	seen := make(map[uuid.UUID]bool)
	for _, item := range items {
		if seen[item.UserID] {
			continue
		}
		seen[item.UserID] = true
		if _, err := s.RefreshLinkedBalances(ctx, item.UserID); err != nil {
			log.Printf("level=warn component=app op=refresh_all msg=\"refresh failed for user\" user_id=%s err=%v", item.UserID, err)
		}
	}
	return nil
}
