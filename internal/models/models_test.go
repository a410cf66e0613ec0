package models

import "testing"

func TestParseStatusCoversBackendValues(t *testing.T) {
	cases := map[string]Status{
		"pending":   StatusPending,
		"Accepted":  StatusAccepted,
		"rejected":  StatusRejected,
		"completed": StatusCompleted,
		"paid":      StatusPaid,
		"cancelled": StatusCancelled,
		"canceled":  StatusCancelled,
		"lost":      "",
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Fatalf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusRankOrdersLifecycle(t *testing.T) {
	order := []Status{StatusPending, StatusAccepted, StatusCompleted, StatusPaid}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s should rank above %s", order[i], order[i-1])
		}
	}
	if StatusCancelled.Rank() != StatusRejected.Rank() {
		t.Fatalf("cancelled and rejected should share a rank")
	}
}

func TestTerminal(t *testing.T) {
	rated := &RatingRecord{Stars: 5}
	cases := []struct {
		r    ServiceRequest
		want bool
	}{
		{ServiceRequest{Status: StatusRejected}, true},
		{ServiceRequest{Status: StatusCancelled}, true},
		{ServiceRequest{Status: StatusCompleted, Rating: rated}, false},
		{ServiceRequest{Status: StatusPaid}, false},
		{ServiceRequest{Status: StatusPaid, Rating: rated}, true},
		{ServiceRequest{Status: StatusCompleted, Payment: &PaymentRecord{Method: "cod"}, Rating: rated}, true},
	}
	for _, c := range cases {
		if got := c.r.Terminal(); got != c.want {
			t.Fatalf("Terminal(%s paid=%v rated=%v) = %v", c.r.Status, c.r.Payment != nil, c.r.Rating != nil, got)
		}
	}
}
