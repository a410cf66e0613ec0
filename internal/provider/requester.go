package provider

import (
	"context"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/models"
)

// Requester is the end user side: create, follow, pay and rate.
type Requester interface {
	Create(ctx context.Context, token string, p api.CreateParams) (int, error)
	OrderStatus(ctx context.Context, token string, orderID int) (models.ServiceRequest, error)
	TrackProvider(ctx context.Context, token string, t models.ServiceType, requestID int) (api.Tracking, error)
	Pay(ctx context.Context, token string, orderID int, method string) (models.PaymentRecord, error)
	Rate(ctx context.Context, token string, orderID, stars int, review string) (models.RatingRecord, error)
	UpdateLocation(ctx context.Context, token string, u models.LocationUpdate) error
}

type User struct{ b Backend }

func NewUser(b Backend) *User { return &User{b: b} }

func (u *User) Create(ctx context.Context, token string, p api.CreateParams) (int, error) {
	return u.b.CreateServiceRequest(ctx, token, p)
}

func (u *User) OrderStatus(ctx context.Context, token string, orderID int) (models.ServiceRequest, error) {
	return u.b.OrderStatus(ctx, token, orderID)
}

// TrackProvider polls the mechanic or the fuel delivery position depending on
// what was ordered.
func (u *User) TrackProvider(ctx context.Context, token string, t models.ServiceType, requestID int) (api.Tracking, error) {
	path := api.PathTrackMechanic
	if t == models.ServiceFuel {
		path = api.PathTrackOwner
	}
	return u.b.TrackLocation(ctx, token, path, requestID)
}

func (u *User) Pay(ctx context.Context, token string, orderID int, method string) (models.PaymentRecord, error) {
	return u.b.MakePayment(ctx, token, orderID, method)
}

func (u *User) Rate(ctx context.Context, token string, orderID, stars int, review string) (models.RatingRecord, error) {
	return u.b.GiveRating(ctx, token, orderID, stars, review)
}

// UpdateLocation pushes the user position. The user route takes no request id.
func (u *User) UpdateLocation(ctx context.Context, token string, loc models.LocationUpdate) error {
	loc.RequestID = 0
	return u.b.UpdateLocation(ctx, token, models.RoleUser, loc)
}

// Tracker adapts a role capability to the single Track call the poller makes.
type Tracker struct {
	fn func(ctx context.Context, token string, requestID int) (api.Tracking, error)
}

func (t Tracker) Track(ctx context.Context, token string, requestID int) (api.Tracking, error) {
	return t.fn(ctx, token, requestID)
}

// ProviderTracker follows the requesting user from a provider's point of view.
func ProviderTracker(p Provider) Tracker { return Tracker{fn: p.TrackUser} }

// UserTracker follows the assigned provider for a request of type st.
func UserTracker(u Requester, st models.ServiceType) Tracker {
	return Tracker{fn: func(ctx context.Context, token string, id int) (api.Tracking, error) {
		return u.TrackProvider(ctx, token, st, id)
	}}
}
