package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/models"
)

type recordingBackend struct {
	calls []string
}

func (r *recordingBackend) ViewRequests(ctx context.Context, token string, role models.Role, q api.RequestQuery) (api.RequestPage, error) {
	r.calls = append(r.calls, api.PathViewRequests(role))
	return api.RequestPage{}, nil
}

func (r *recordingBackend) TrackLocation(ctx context.Context, token, path string, requestID int) (api.Tracking, error) {
	r.calls = append(r.calls, path)
	return api.Tracking{}, nil
}

func (r *recordingBackend) AcceptReject(ctx context.Context, token string, role models.Role, requestID int, action api.Action) error {
	r.calls = append(r.calls, api.PathAcceptReject(role))
	return nil
}

func (r *recordingBackend) CompleteRequest(ctx context.Context, token string, requestID int, finalAmount float64) error {
	r.calls = append(r.calls, api.PathCompleteRepair)
	return nil
}

func (r *recordingBackend) CompleteFuelRequest(ctx context.Context, token string, requestID int, finalAmount, liters float64) error {
	r.calls = append(r.calls, api.PathCompleteFuel)
	return nil
}

func (r *recordingBackend) UpdateLocation(ctx context.Context, token string, role models.Role, u models.LocationUpdate) error {
	r.calls = append(r.calls, api.PathUpdateLocation(role))
	return nil
}

func (r *recordingBackend) CreateServiceRequest(ctx context.Context, token string, p api.CreateParams) (int, error) {
	return 1, nil
}

func (r *recordingBackend) OrderStatus(ctx context.Context, token string, orderID int) (models.ServiceRequest, error) {
	return models.ServiceRequest{}, nil
}

func (r *recordingBackend) MakePayment(ctx context.Context, token string, orderID int, method string) (models.PaymentRecord, error) {
	return models.PaymentRecord{}, nil
}

func (r *recordingBackend) GiveRating(ctx context.Context, token string, orderID, stars int, review string) (models.RatingRecord, error) {
	return models.RatingRecord{}, nil
}

func TestForSelectsRoleRoutes(t *testing.T) {
	ctx := context.Background()
	b := &recordingBackend{}
	liters := 4.0

	mech, err := For(models.RoleMechanic, b)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	_ = mech.AcceptReject(ctx, "t", 1, api.ActionAccept)
	_ = mech.Complete(ctx, "t", 1, 100, &liters)
	_, _ = mech.TrackUser(ctx, "t", 1)

	owner, _ := For(models.RoleOwner, b)
	_ = owner.AcceptReject(ctx, "t", 2, api.ActionReject)
	_ = owner.Complete(ctx, "t", 2, 100, &liters)
	_, _ = owner.TrackUser(ctx, "t", 2)

	want := []string{
		"mechanic/accept_reject_request", "mechanic/complete_request", "mechanic/track_user_location",
		"owner/accept_reject_request", "owner/complete_fuel_request", "owner/track_user_location",
	}
	if len(b.calls) != len(want) {
		t.Fatalf("unexpected calls %v", b.calls)
	}
	for i := range want {
		if b.calls[i] != want[i] {
			t.Fatalf("call %d: expected %s, got %s", i, want[i], b.calls[i])
		}
	}
}

func TestOwnerCompleteRequiresLiters(t *testing.T) {
	owner := NewOwner(&recordingBackend{})
	if err := owner.Complete(context.Background(), "t", 1, 10, nil); !errors.Is(err, ErrLitersRequired) {
		t.Fatalf("expected ErrLitersRequired, got %v", err)
	}
}

func TestForRejectsUserRole(t *testing.T) {
	if _, err := For(models.RoleUser, &recordingBackend{}); err == nil {
		t.Fatalf("expected error for user role")
	}
}

func TestUserTrackerPicksRouteByServiceType(t *testing.T) {
	b := &recordingBackend{}
	u := NewUser(b)
	_, _ = UserTracker(u, models.ServiceFuel).Track(context.Background(), "t", 1)
	_, _ = UserTracker(u, models.ServiceMechanic).Track(context.Background(), "t", 1)
	if len(b.calls) != 2 || b.calls[0] != api.PathTrackOwner || b.calls[1] != api.PathTrackMechanic {
		t.Fatalf("unexpected calls %v", b.calls)
	}
}
