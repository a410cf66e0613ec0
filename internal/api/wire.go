package api

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/example/roadside-assist/internal/models"
)

// flexFloat accepts both 12.5 and "12.5"; the backend sends prices as strings
// on some routes.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*i = flexInt(int(f))
	return nil
}

func floatPtr(f *flexFloat) *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type wireLocation struct {
	Latitude    flexFloat `json:"latitude"`
	Longitude   flexFloat `json:"longitude"`
	Address     string    `json:"address,omitempty"`
	LastUpdated string    `json:"last_updated,omitempty"`
}

func (l *wireLocation) coord() *models.Coord {
	if l == nil {
		return nil
	}
	return &models.Coord{Lat: float64(l.Latitude), Lon: float64(l.Longitude)}
}

type wireUser struct {
	ID           flexInt `json:"id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	ShopName     string  `json:"shop_name,omitempty"`
	FuelBunkName string  `json:"fuel_bunk_name,omitempty"`
}

func (u *wireUser) party() *models.Party {
	if u == nil {
		return nil
	}
	p := &models.Party{ID: int(u.ID), Name: u.Name, Phone: u.Phone, ShopName: u.ShopName}
	if p.ShopName == "" {
		p.ShopName = u.FuelBunkName
	}
	return p
}

type wirePayment struct {
	PaymentID flexInt   `json:"payment_id,omitempty"`
	Amount    flexFloat `json:"amount"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
}

func (p *wirePayment) record() *models.PaymentRecord {
	if p == nil {
		return nil
	}
	return &models.PaymentRecord{ID: int(p.PaymentID), Amount: float64(p.Amount), Method: p.Method, Status: p.Status}
}

type wireRating struct {
	Stars  flexInt `json:"stars"`
	Review string  `json:"review,omitempty"`
}

func (r *wireRating) record() *models.RatingRecord {
	if r == nil {
		return nil
	}
	return &models.RatingRecord{Stars: int(r.Stars), Review: r.Review}
}

// wireRequestItem is one entry of {role}/view_requests.
type wireRequestItem struct {
	ID             flexInt       `json:"id"`
	User           *wireUser     `json:"user"`
	FuelType       string        `json:"fuel_type"`
	ServiceName    string        `json:"service_name"`
	Description    string        `json:"description"`
	EstimatedPrice *flexFloat    `json:"estimated_price"`
	FinalPrice     *flexFloat    `json:"final_price"`
	Liters         *flexFloat    `json:"liters"`
	Status         string        `json:"status"`
	UserLocation   *wireLocation `json:"user_location"`
	Quantity       *flexFloat    `json:"quantity"`
	Payment        *wirePayment  `json:"payment"`
	Rating         *wireRating   `json:"rating"`
	CreatedAt      string        `json:"created_at"`
	UpdatedAt      string        `json:"updated_at"`
}

func (w wireRequestItem) model(role models.Role) models.ServiceRequest {
	r := models.ServiceRequest{
		ID:             int(w.ID),
		Requester:      w.User.party(),
		ServiceName:    w.ServiceName,
		Description:    w.Description,
		EstimatedPrice: floatPtr(w.EstimatedPrice),
		FinalPrice:     floatPtr(w.FinalPrice),
		Liters:         floatPtr(w.Liters),
		Quantity:       floatPtr(w.Quantity),
		Status:         models.ParseStatus(w.Status),
		Location:       w.UserLocation.coord(),
		Payment:        w.Payment.record(),
		Rating:         w.Rating.record(),
		CreatedAt:      parseTime(w.CreatedAt),
		UpdatedAt:      parseTime(w.UpdatedAt),
	}
	switch {
	case w.FuelType != "":
		r.ServiceType = models.ServiceFuel
		r.ServiceName = w.FuelType
	case role == models.RoleOwner:
		r.ServiceType = models.ServiceFuel
	default:
		r.ServiceType = models.ServiceMechanic
	}
	return normalize(r)
}

type wirePagination struct {
	Page  flexInt `json:"page"`
	Limit flexInt `json:"limit"`
	Total flexInt `json:"total"`
	Pages flexInt `json:"pages"`
}

type viewRequestsResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Requests   []wireRequestItem `json:"requests"`
		Pagination *wirePagination   `json:"pagination"`
	} `json:"data"`
}

// wireOrder is the body of user/get_order_status.
type wireOrder struct {
	ID   flexInt `json:"id"`
	Shop *struct {
		ID       flexInt       `json:"id"`
		Name     string        `json:"name"`
		Type     string        `json:"type"`
		Location *wireLocation `json:"location"`
	} `json:"shop"`
	Service *struct {
		ID    flexInt   `json:"id"`
		Name  string    `json:"name"`
		Price flexFloat `json:"price"`
	} `json:"service"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	FinalAmount *flexFloat   `json:"final_amount"`
	Liters      *flexFloat   `json:"liters"`
	RequestedAt string       `json:"requested_at"`
	CompletedAt string       `json:"completed_at"`
	Payment     *wirePayment `json:"payment"`
	Rating      *wireRating  `json:"rating"`
}

func (w wireOrder) model() models.ServiceRequest {
	r := models.ServiceRequest{
		ID:          int(w.ID),
		Description: w.Description,
		Status:      models.ParseStatus(w.Status),
		FinalPrice:  floatPtr(w.FinalAmount),
		Liters:      floatPtr(w.Liters),
		Payment:     w.Payment.record(),
		Rating:      w.Rating.record(),
		CreatedAt:   parseTime(w.RequestedAt),
		UpdatedAt:   parseTime(w.CompletedAt),
	}
	if w.Shop != nil {
		r.ShopID = int(w.Shop.ID)
		r.ShopName = w.Shop.Name
		r.ServiceType = models.ParseServiceType(w.Shop.Type)
	}
	if r.ServiceType == "" {
		r.ServiceType = models.ServiceMechanic
	}
	if w.Service != nil {
		r.ServiceID = int(w.Service.ID)
		r.ServiceName = w.Service.Name
		price := float64(w.Service.Price)
		r.EstimatedPrice = &price
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	return normalize(r)
}

// normalize enforces that completion data only exists on finished requests.
func normalize(r models.ServiceRequest) models.ServiceRequest {
	if !r.Status.Finished() {
		r.FinalPrice = nil
		r.Liters = nil
		r.Payment = nil
		r.Rating = nil
	}
	if r.ServiceType != models.ServiceFuel {
		r.Liters = nil
	}
	return r
}

type trackLocationResponse struct {
	RequestID         flexInt       `json:"request_id"`
	User              *wireUser     `json:"user"`
	Mechanic          *wireUser     `json:"mechanic"`
	DeliveryPersonnel *wireUser     `json:"delivery_personnel"`
	CurrentLocation   *wireLocation `json:"current_location"`
	MechanicLocation  *wireLocation `json:"mechanic_location"`
	DeliveryLocation  *wireLocation `json:"delivery_location"`
	DistanceFromShop  *flexFloat    `json:"distance_from_shop"`
	DistanceFromBunk  *flexFloat    `json:"distance_from_bunk"`
	DistanceToUser    *flexFloat    `json:"distance_to_user"`
	EstimatedArrival  *flexFloat    `json:"estimated_arrival_time"`
	EstimatedDelivery *flexFloat    `json:"estimated_delivery_time"`
	Unit              string        `json:"unit"`
	TimeUnit          string        `json:"time_unit"`
}

// Tracking is a decoded track_* response. HasDistance and HasETA tell the
// caller which metrics the backend supplied.
type Tracking struct {
	Snapshot    models.TrackingSnapshot
	HasLocation bool
	HasDistance bool
	HasETA      bool
}

func (w trackLocationResponse) tracking(requestID int, now time.Time) Tracking {
	s := models.TrackingSnapshot{RequestID: int(w.RequestID), Unit: w.Unit, TimeUnit: w.TimeUnit, FetchedAt: now}
	if s.RequestID == 0 {
		s.RequestID = requestID
	}
	for _, p := range []*wireUser{w.Mechanic, w.DeliveryPersonnel, w.User} {
		if p != nil {
			s.Counterpart = p.party()
			break
		}
	}
	var t Tracking
	for _, l := range []*wireLocation{w.CurrentLocation, w.MechanicLocation, w.DeliveryLocation} {
		if l != nil {
			s.Location = *l.coord()
			s.LastUpdated = parseTime(l.LastUpdated)
			t.HasLocation = true
			break
		}
	}
	for _, d := range []*flexFloat{w.DistanceFromShop, w.DistanceFromBunk, w.DistanceToUser} {
		if d != nil {
			s.DistanceKm = float64(*d)
			t.HasDistance = true
			break
		}
	}
	for _, e := range []*flexFloat{w.EstimatedArrival, w.EstimatedDelivery} {
		if e != nil {
			s.ETAMinutes = int(math.Round(float64(*e)))
			t.HasETA = true
			break
		}
	}
	if s.Unit == "" {
		s.Unit = "km"
	}
	if s.TimeUnit == "" {
		s.TimeUnit = "minutes"
	}
	t.Snapshot = s
	return t
}
