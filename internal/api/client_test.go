package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/roadside-assist/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second)
}

func TestCreateServiceRequestSendsBearerAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/create_service_request" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing request id header")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["shop_id"] != float64(12) || body["service_id"] != float64(3) {
			t.Errorf("unexpected body %v", body)
		}
		if _, ok := body["description"]; ok {
			t.Errorf("empty description should be omitted")
		}
		w.Write([]byte(`{"message":"created","request_id":501}`))
	})
	id, err := c.CreateServiceRequest(context.Background(), "tok", CreateParams{ShopID: 12, ServiceID: 3})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if id != 501 {
		t.Fatalf("expected 501, got %d", id)
	}
}

func TestPathSuffixIsAppended(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/owner/accept_reject_request.php" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"message":"ok"}`))
	})
	c.PathSuffix = ".php"
	if err := c.AcceptReject(context.Background(), "tok", models.RoleOwner, 9, ActionAccept); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestStatusCodesMapToKinds(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   Kind
	}{
		{http.StatusUnauthorized, `{"error":"token expired"}`, KindUnauthorized},
		{http.StatusNotFound, `{"error":"no such request"}`, KindNotFound},
		{http.StatusInternalServerError, `oops`, KindServer},
		{http.StatusBadRequest, `{"message":"looks fine"}`, KindServer},
		{http.StatusOK, `{"error":"request already accepted"}`, KindServer},
		{http.StatusOK, `not json`, KindDecode},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(tc.body))
		})
		err := c.AcceptReject(context.Background(), "tok", models.RoleMechanic, 1, ActionReject)
		if KindOf(err) != tc.kind {
			t.Fatalf("status %d body %q: expected %s, got %v", tc.status, tc.body, tc.kind, err)
		}
		var e *Error
		if errors.As(err, &e) && e.Code != tc.status {
			t.Fatalf("expected code %d, got %d", tc.status, e.Code)
		}
	}
}

func TestNetworkErrorKeepsCause(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.UpdateLocation(ctx, "tok", models.RoleUser, models.LocationUpdate{})
	if !IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestViewRequestsDecodesNestedItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("status") != "pending" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"success":true,"data":{"requests":[{"id":7,"user":{"id":3,"name":"Asha","phone":"99"},
			"fuel_type":"diesel","quantity":"10.5","estimated_price":"950.00","final_price":null,"status":"pending",
			"user_location":{"latitude":13.0,"longitude":80.2},"created_at":"2024-05-01 10:00:00","updated_at":"2024-05-01 10:00:00"}],
			"pagination":{"page":2,"limit":20,"total":21,"pages":2}}}`))
	})
	page, err := c.ViewRequests(context.Background(), "tok", models.RoleOwner, RequestQuery{Status: models.StatusPending, Page: 2})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(page.Requests) != 1 || page.Page.Pages != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	r := page.Requests[0]
	if r.ID != 7 || r.ServiceType != models.ServiceFuel || r.Status != models.StatusPending {
		t.Fatalf("unexpected request %+v", r)
	}
	if r.Quantity == nil || *r.Quantity != 10.5 || r.EstimatedPrice == nil || *r.EstimatedPrice != 950 {
		t.Fatalf("unexpected quantities %+v", r)
	}
	if r.FinalPrice != nil {
		t.Fatalf("final price must be nil before completion")
	}
	if r.Location == nil || r.Location.Lat != 13.0 || r.Requester == nil || r.Requester.Name != "Asha" {
		t.Fatalf("unexpected nested fields %+v", r)
	}
	if r.CreatedAt.IsZero() {
		t.Fatalf("expected created_at parsed")
	}
}

func TestTrackLocationPicksVariantKeys(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"request_id":501,"delivery_personnel":{"name":"Ravi","phone":"1","fuel_bunk_name":"HP"},
			"delivery_location":{"latitude":12.9,"longitude":80.1,"last_updated":"2024-05-01T10:00:00Z"},
			"distance_from_bunk":3.2,"estimated_delivery_time":11.6}`))
	})
	tr, err := c.TrackLocation(context.Background(), "tok", PathTrackOwner, 501)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	s := tr.Snapshot
	if !tr.HasLocation || !tr.HasDistance || !tr.HasETA {
		t.Fatalf("expected all metrics present %+v", tr)
	}
	if s.RequestID != 501 || s.Location.Lat != 12.9 || s.DistanceKm != 3.2 || s.ETAMinutes != 12 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.Counterpart == nil || s.Counterpart.ShopName != "HP" || s.Unit != "km" {
		t.Fatalf("unexpected counterpart %+v", s)
	}
}

func TestOrderStatusMapsPaymentAndRating(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order_id") != "501" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"order":{"id":501,"shop":{"id":12,"name":"Bunk","type":"fuel","location":{"latitude":1,"longitude":2}},
			"service":{"name":"Petrol","price":"100"},"status":"completed","final_amount":450,"liters":10.5,
			"requested_at":"2024-05-01 10:00:00","payment":{"amount":450,"method":"online","status":"paid"},
			"rating":{"stars":5,"review":"Great service"}}}`))
	})
	r, err := c.OrderStatus(context.Background(), "tok", 501)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if r.ShopID != 12 || r.ServiceType != models.ServiceFuel || r.Status != models.StatusCompleted {
		t.Fatalf("unexpected order %+v", r)
	}
	if r.FinalPrice == nil || *r.FinalPrice != 450 || r.Liters == nil || *r.Liters != 10.5 {
		t.Fatalf("unexpected completion data %+v", r)
	}
	if r.Payment == nil || r.Payment.Method != "online" || r.Rating == nil || r.Rating.Stars != 5 {
		t.Fatalf("unexpected records %+v %+v", r.Payment, r.Rating)
	}
}

func TestOrderStatusKeepsCompletionDataWhenPaid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("order_id") == "502" {
			w.Write([]byte(`{"order":{"id":502,"status":"cancelled","final_amount":90}}`))
			return
		}
		w.Write([]byte(`{"order":{"id":501,"shop":{"id":12,"type":"fuel"},"status":"paid","final_amount":450,"liters":10.5,
			"payment":{"amount":450,"method":"online","status":"paid"}}}`))
	})
	r, err := c.OrderStatus(context.Background(), "tok", 501)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if r.Status != models.StatusPaid || !r.Paid() {
		t.Fatalf("expected paid order, got %+v", r)
	}
	if r.FinalPrice == nil || *r.FinalPrice != 450 || r.Liters == nil || r.Payment == nil {
		t.Fatalf("expected completion data kept, got %+v", r)
	}

	r, err = c.OrderStatus(context.Background(), "tok", 502)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if r.Status != models.StatusCancelled || r.FinalPrice != nil || !r.Terminal() {
		t.Fatalf("expected terminal cancelled order without completion data, got %+v", r)
	}
}

func TestLoginDoesNotSendBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("login must not carry a bearer token")
		}
		w.Write([]byte(`{"token":"abc","user":{"id":1,"email":"a@b.c","role":"mechanic"}}`))
	})
	res, err := c.Login(context.Background(), "a@b.c", "pw")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if res.Token != "abc" || res.Role != models.RoleMechanic {
		t.Fatalf("unexpected login %+v", res)
	}
}
