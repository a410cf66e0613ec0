package payments

import "testing"

func TestMinorUnits(t *testing.T) {
	cases := map[float64]int64{450: 45000, 10.5: 1050, 0.1 + 0.2: 30, 0: 0}
	for in, want := range cases {
		if got := MinorUnits(in); got != want {
			t.Fatalf("MinorUnits(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestNewStripeClientDefaultsCurrency(t *testing.T) {
	if c := NewStripeClient("", ""); c.currency != "inr" {
		t.Fatalf("expected inr, got %s", c.currency)
	}
}
