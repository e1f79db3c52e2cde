package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		raw     string
		want    Provider
		wantErr bool
	}{
		{"plaid", ProviderPlaid, false},
		{"direct", ProviderDirect, false},
		{"manual", ProviderManual, false},
		{"  Plaid  ", ProviderPlaid, false},
		{"MANUAL", ProviderManual, false},
		{"yodlee", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseProvider(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizeLiability(t *testing.T) {
	tests := []struct {
		name string
		in   decimal.Decimal
		want string
	}{
		{"positive owed amount", decimal.NewFromFloat(1234.56), "-1234.56"},
		{"already negative", decimal.NewFromInt(-500), "-500"},
		{"zero stays unsigned", decimal.Zero, "0"},
		{"negative zero collapses", decimal.NewFromFloat(-0.0), "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeLiability(tt.in).String(); got != tt.want {
				t.Fatalf("NormalizeLiability(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewAccountView(t *testing.T) {
	externalID := "amex-1"
	updated := time.Now()

	t.Run("credit card row", func(t *testing.T) {
		view := NewAccountView(Account{
			ID:                uuid.New(),
			Name:              "Amex Gold",
			Type:              TypeCreditCard,
			CurrentBalance:    decimal.NewFromInt(-3500),
			Provider:          ProviderPlaid,
			ExternalAccountID: &externalID,
			UpdatedAt:         updated,
		})
		if view.Type != "credit" {
			t.Fatalf("expected view type credit, got %q", view.Type)
		}
		if view.Balance.String() != "3500" {
			t.Fatalf("expected positive magnitude 3500, got %s", view.Balance)
		}
		if view.Provider != ProviderPlaid {
			t.Fatalf("expected provider plaid, got %q", view.Provider)
		}
		if view.ExternalAccountID == nil || *view.ExternalAccountID != externalID {
			t.Fatal("external account id must be carried over")
		}
		if !view.LastUpdated.Equal(updated) {
			t.Fatal("last updated must mirror the row's updated_at")
		}
	})

	t.Run("charge card row", func(t *testing.T) {
		view := NewAccountView(Account{Name: "Amex Green", Type: TypeChargeCard, CurrentBalance: decimal.NewFromInt(-100)})
		if view.Type != "charge" {
			t.Fatalf("expected view type charge, got %q", view.Type)
		}
	})

	t.Run("missing provider defaults to manual", func(t *testing.T) {
		view := NewAccountView(Account{Name: "Legacy", Type: TypeCreditCard})
		if view.Provider != ProviderManual {
			t.Fatalf("expected provider manual, got %q", view.Provider)
		}
	})
}

func TestZeroNetWorthSnapshot(t *testing.T) {
	s := ZeroNetWorthSnapshot()
	if !s.TotalAssets.IsZero() || !s.TotalLiabilities.IsZero() || !s.NetWorth.IsZero() {
		t.Fatalf("expected all-zero snapshot, got %+v", s)
	}
}
