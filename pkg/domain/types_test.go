package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTransitions(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderPending:   {OrderConfirmed, OrderCanceled},
		OrderConfirmed: {OrderDelivered, OrderCanceled},
		OrderDelivered: {OrderCompleted},
	}
	all := []OrderStatus{OrderPending, OrderConfirmed, OrderDelivered, OrderCompleted, OrderCanceled}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
	}
}

func TestParseEnumsIgnoreCase(t *testing.T) {
	if s, ok := ParseOrderStatus(" delivered "); !ok || s != OrderDelivered {
		t.Fatalf("unexpected status %q ok=%v", s, ok)
	}
	if _, ok := ParseOrderStatus("shipped"); ok {
		t.Fatalf("expected unknown status to fail")
	}
	if m, ok := ParsePaymentMethod("ewallet"); !ok || m != PaymentEWallet {
		t.Fatalf("unexpected payment method %q ok=%v", m, ok)
	}
	if _, ok := ParsePaymentMethod("cheque"); ok {
		t.Fatalf("expected unknown payment method to fail")
	}
}

func TestRefreshTokenIsExpired(t *testing.T) {
	expiry := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token := RefreshToken{ExpiresAt: expiry}
	if token.IsExpired(expiry.Add(-time.Nanosecond)) {
		t.Fatalf("token must be valid before expiry")
	}
	if !token.IsExpired(expiry) {
		t.Fatalf("token must be expired at expiry")
	}
	if !token.IsExpired(expiry.Add(time.Second)) {
		t.Fatalf("token must be expired after expiry")
	}
}

func TestOrderItemLineTotal(t *testing.T) {
	item := OrderItem{Quantity: 3, UnitPrice: decimal.RequireFromString("12.40")}
	if got := item.LineTotal(); !got.Equal(decimal.RequireFromString("37.20")) {
		t.Fatalf("unexpected line total %s", got)
	}
}

func TestValidateRejectsNegativeMoney(t *testing.T) {
	if failures := (Book{Price: decimal.NewFromInt(-1)}).Validate(); len(failures) != 1 || failures[0].Field != "Price" {
		t.Fatalf("unexpected book failures %+v", failures)
	}
	if failures := (Order{ShippingFee: decimal.NewFromInt(-5)}).Validate(); len(failures) != 1 {
		t.Fatalf("unexpected order failures %+v", failures)
	}
	if failures := (Book{Price: decimal.Zero}).Validate(); len(failures) != 0 {
		t.Fatalf("zero price must be valid, got %+v", failures)
	}
}
