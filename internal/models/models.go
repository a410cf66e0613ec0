package models

import (
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Role is the account type carried by the session.
type Role string

const (
	RoleUser     Role = "user"
	RoleMechanic Role = "mechanic"
	RoleOwner    Role = "owner"
)

// IsProvider reports whether the role accepts and completes requests.
func (r Role) IsProvider() bool { return r == RoleMechanic || r == RoleOwner }

func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mechanic":
		return RoleMechanic
	case "owner", "fuel_owner", "bunk_owner":
		return RoleOwner
	case "user", "customer":
		return RoleUser
	default:
		return ""
	}
}

type ServiceType string

const (
	ServiceFuel     ServiceType = "fuel"
	ServiceMechanic ServiceType = "mechanic"
)

func ParseServiceType(s string) ServiceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fuel", "fuel_bunk", "bunk", "petrol":
		return ServiceFuel
	case "mechanic", "repair", "service":
		return ServiceMechanic
	default:
		return ""
	}
}

// ProviderRole is the role allowed to act on a request of this type.
func (t ServiceType) ProviderRole() Role {
	if t == ServiceFuel {
		return RoleOwner
	}
	return RoleMechanic
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending
	case StatusAccepted:
		return StatusAccepted
	case StatusRejected:
		return StatusRejected
	case StatusCompleted:
		return StatusCompleted
	case StatusPaid:
		return StatusPaid
	case StatusCancelled, "canceled":
		return StatusCancelled
	default:
		return ""
	}
}

// Rank orders statuses along the lifecycle. accepted, rejected and
// cancelled share a rank because they are alternative branches out of pending.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted, StatusRejected, StatusCancelled:
		return 1
	case StatusCompleted:
		return 2
	case StatusPaid:
		return 3
	default:
		return -1
	}
}

// Finished reports whether the work is done, paid for or not.
func (s Status) Finished() bool { return s == StatusCompleted || s == StatusPaid }

// Tracked reports whether live tracking runs for this status.
func (s Status) Tracked() bool { return s == StatusPending || s == StatusAccepted }

type Party struct {
	ID       int    `json:"id,omitempty"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	ShopName string `json:"shop_name,omitempty"`
}

type PaymentRecord struct {
	ID     int     `json:"id,omitempty"`
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
	Status string  `json:"status"`
}

type RatingRecord struct {
	Stars  int    `json:"stars"`
	Review string `json:"review,omitempty"`
}

// ServiceRequest is one fuel or mechanic job. FinalPrice and Liters are only
// set once Status is finished.
type ServiceRequest struct {
	ID             int            `json:"id"`
	Requester      *Party         `json:"requester,omitempty"`
	ShopID         int            `json:"shop_id,omitempty"`
	ShopName       string         `json:"shop_name,omitempty"`
	ServiceID      int            `json:"service_id,omitempty"`
	ServiceType    ServiceType    `json:"service_type"`
	ServiceName    string         `json:"service_name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Quantity       *float64       `json:"quantity,omitempty"`
	EstimatedPrice *float64       `json:"estimated_price,omitempty"`
	FinalPrice     *float64       `json:"final_price,omitempty"`
	Liters         *float64       `json:"liters,omitempty"`
	Status         Status         `json:"status"`
	Location       *Coord         `json:"location,omitempty"`
	Payment        *PaymentRecord `json:"payment,omitempty"`
	Rating         *RatingRecord  `json:"rating,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (r *ServiceRequest) Paid() bool  { return r.Payment != nil || r.Status == StatusPaid }
func (r *ServiceRequest) Rated() bool { return r.Rating != nil }

// Terminal reports whether no further transition is possible.
func (r *ServiceRequest) Terminal() bool {
	if r.Status == StatusRejected || r.Status == StatusCancelled {
		return true
	}
	return r.Status.Finished() && r.Paid() && r.Rated()
}

// Clone returns a deep copy so published state can't be mutated by readers.
func (r *ServiceRequest) Clone() *ServiceRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.Requester != nil {
		p := *r.Requester
		out.Requester = &p
	}
	out.Quantity = cloneFloat(r.Quantity)
	out.EstimatedPrice = cloneFloat(r.EstimatedPrice)
	out.FinalPrice = cloneFloat(r.FinalPrice)
	out.Liters = cloneFloat(r.Liters)
	if r.Location != nil {
		c := *r.Location
		out.Location = &c
	}
	if r.Payment != nil {
		p := *r.Payment
		out.Payment = &p
	}
	if r.Rating != nil {
		rt := *r.Rating
		out.Rating = &rt
	}
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Bounds is the map viewport fitting every marker of a snapshot.
type Bounds struct {
	SouthWest Coord `json:"south_west"`
	NorthEast Coord `json:"north_east"`
}

// TrackingSnapshot is the latest known counterpart position for an active
// request. It is replaced wholesale on every poll tick.
type TrackingSnapshot struct {
	RequestID   int       `json:"request_id"`
	Counterpart *Party    `json:"counterpart,omitempty"`
	Location    Coord     `json:"location"`
	LastUpdated time.Time `json:"last_updated"`
	DistanceKm  float64   `json:"distance_km"`
	ETAMinutes  int       `json:"eta_minutes"`
	Unit        string    `json:"unit"`
	TimeUnit    string    `json:"time_unit"`
	// Derived is set when distance and ETA were computed locally.
	Derived   bool      `json:"derived"`
	Bounds    *Bounds   `json:"bounds,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

type LocationUpdate struct {
	Coord
	RequestID int `json:"request_id,omitempty"`
}

// Page describes one slice of a paginated list.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}
