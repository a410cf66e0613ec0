// Package provider binds the role specific backend routes behind one
// capability per role, chosen once when the session starts.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/models"
)

// Backend is the slice of api.Client used by this package.
type Backend interface {
	ViewRequests(ctx context.Context, token string, role models.Role, q api.RequestQuery) (api.RequestPage, error)
	TrackLocation(ctx context.Context, token, path string, requestID int) (api.Tracking, error)
	AcceptReject(ctx context.Context, token string, role models.Role, requestID int, action api.Action) error
	CompleteRequest(ctx context.Context, token string, requestID int, finalAmount float64) error
	CompleteFuelRequest(ctx context.Context, token string, requestID int, finalAmount, liters float64) error
	UpdateLocation(ctx context.Context, token string, role models.Role, u models.LocationUpdate) error
	CreateServiceRequest(ctx context.Context, token string, p api.CreateParams) (int, error)
	OrderStatus(ctx context.Context, token string, orderID int) (models.ServiceRequest, error)
	MakePayment(ctx context.Context, token string, orderID int, method string) (models.PaymentRecord, error)
	GiveRating(ctx context.Context, token string, orderID, stars int, review string) (models.RatingRecord, error)
}

var ErrLitersRequired = errors.New("liters required for fuel completion")

// Provider is what a mechanic or a fuel bunk owner can do. Both roles call
// structurally identical but differently named routes.
type Provider interface {
	Role() models.Role
	ViewRequests(ctx context.Context, token string, q api.RequestQuery) (api.RequestPage, error)
	TrackUser(ctx context.Context, token string, requestID int) (api.Tracking, error)
	AcceptReject(ctx context.Context, token string, requestID int, action api.Action) error
	// Complete closes an accepted request. liters is ignored for mechanics.
	Complete(ctx context.Context, token string, requestID int, finalAmount float64, liters *float64) error
	UpdateLocation(ctx context.Context, token string, u models.LocationUpdate) error
}

type base struct {
	b    Backend
	role models.Role
}

func (p base) Role() models.Role { return p.role }

func (p base) ViewRequests(ctx context.Context, token string, q api.RequestQuery) (api.RequestPage, error) {
	return p.b.ViewRequests(ctx, token, p.role, q)
}

func (p base) TrackUser(ctx context.Context, token string, requestID int) (api.Tracking, error) {
	return p.b.TrackLocation(ctx, token, api.PathTrackUser(p.role), requestID)
}

func (p base) AcceptReject(ctx context.Context, token string, requestID int, action api.Action) error {
	return p.b.AcceptReject(ctx, token, p.role, requestID, action)
}

func (p base) UpdateLocation(ctx context.Context, token string, u models.LocationUpdate) error {
	return p.b.UpdateLocation(ctx, token, p.role, u)
}

type MechanicProvider struct{ base }

func NewMechanic(b Backend) *MechanicProvider {
	return &MechanicProvider{base{b: b, role: models.RoleMechanic}}
}

func (m *MechanicProvider) Complete(ctx context.Context, token string, requestID int, finalAmount float64, _ *float64) error {
	return m.b.CompleteRequest(ctx, token, requestID, finalAmount)
}

type OwnerProvider struct{ base }

func NewOwner(b Backend) *OwnerProvider {
	return &OwnerProvider{base{b: b, role: models.RoleOwner}}
}

func (o *OwnerProvider) Complete(ctx context.Context, token string, requestID int, finalAmount float64, liters *float64) error {
	if liters == nil {
		return ErrLitersRequired
	}
	return o.b.CompleteFuelRequest(ctx, token, requestID, finalAmount, *liters)
}

// For selects the provider capability for a session role. End users have no
// provider capability.
func For(role models.Role, b Backend) (Provider, error) {
	switch role {
	case models.RoleMechanic:
		return NewMechanic(b), nil
	case models.RoleOwner:
		return NewOwner(b), nil
	default:
		return nil, fmt.Errorf("role %q is not a provider", role)
	}
}
