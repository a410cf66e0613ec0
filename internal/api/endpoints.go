package api

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/example/roadside-assist/internal/models"
)

const (
	PathLogin          = "auth/login"
	PathCreateRequest  = "user/create_service_request"
	PathOrderStatus    = "user/get_order_status"
	PathMakePayment    = "user/make_payment"
	PathGiveRating     = "user/give_rating"
	PathTrackMechanic  = "user/track_mechanic_location"
	PathTrackOwner     = "user/track_owner_location"
	PathCompleteRepair = "mechanic/complete_request"
	PathCompleteFuel   = "owner/complete_fuel_request"
)

func PathViewRequests(role models.Role) string   { return string(role) + "/view_requests" }
func PathTrackUser(role models.Role) string      { return string(role) + "/track_user_location" }
func PathAcceptReject(role models.Role) string   { return string(role) + "/accept_reject_request" }
func PathUpdateLocation(role models.Role) string { return string(role) + "/update_location" }

type LoginResult struct {
	Token  string
	UserID int
	Email  string
	Role   models.Role
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out struct {
		Token string `json:"token"`
		User  *struct {
			ID    flexInt `json:"id"`
			Email string  `json:"email"`
			Role  string  `json:"role"`
		} `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, PathLogin, "", body, &out); err != nil {
		return LoginResult{}, err
	}
	if out.Token == "" || out.User == nil {
		return LoginResult{}, &Error{Kind: KindDecode, Op: PathLogin, Cause: io.ErrUnexpectedEOF}
	}
	return LoginResult{Token: out.Token, UserID: int(out.User.ID), Email: out.User.Email, Role: models.ParseRole(out.User.Role)}, nil
}

type CreateParams struct {
	ShopID      int    `json:"shop_id"`
	ServiceID   int    `json:"service_id"`
	Description string `json:"description,omitempty"`
}

// CreateServiceRequest returns the server assigned request id.
func (c *Client) CreateServiceRequest(ctx context.Context, token string, p CreateParams) (int, error) {
	var out struct {
		RequestID *flexInt `json:"request_id"`
	}
	if err := c.post(ctx, PathCreateRequest, token, p, &out); err != nil {
		return 0, err
	}
	if out.RequestID == nil || *out.RequestID <= 0 {
		return 0, &Error{Kind: KindDecode, Op: PathCreateRequest, Cause: io.ErrUnexpectedEOF}
	}
	return int(*out.RequestID), nil
}

type RequestQuery struct {
	Status models.Status
	Page   int
	Limit  int
}

type RequestPage struct {
	Requests []models.ServiceRequest
	Page     models.Page
}

func (c *Client) ViewRequests(ctx context.Context, token string, role models.Role, q RequestQuery) (RequestPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("limit", strconv.Itoa(q.Limit))

	var out viewRequestsResponse
	if err := c.get(ctx, PathViewRequests(role), token, v, &out); err != nil {
		return RequestPage{}, err
	}
	page := RequestPage{Page: models.Page{Page: q.Page, Limit: q.Limit, Pages: 1}}
	if out.Data == nil {
		return page, nil
	}
	for _, item := range out.Data.Requests {
		page.Requests = append(page.Requests, item.model(role))
	}
	if p := out.Data.Pagination; p != nil {
		page.Page = models.Page{Page: int(p.Page), Limit: int(p.Limit), Total: int(p.Total), Pages: int(p.Pages)}
	}
	return page, nil
}

func (c *Client) OrderStatus(ctx context.Context, token string, orderID int) (models.ServiceRequest, error) {
	var out struct {
		Order *wireOrder `json:"order"`
	}
	v := url.Values{"order_id": {strconv.Itoa(orderID)}}
	if err := c.get(ctx, PathOrderStatus, token, v, &out); err != nil {
		return models.ServiceRequest{}, err
	}
	if out.Order == nil {
		return models.ServiceRequest{}, &Error{Kind: KindNotFound, Op: PathOrderStatus}
	}
	return out.Order.model(), nil
}

// TrackLocation fetches the counterpart position from one of the track_*
// routes.
func (c *Client) TrackLocation(ctx context.Context, token, path string, requestID int) (Tracking, error) {
	var out trackLocationResponse
	v := url.Values{"request_id": {strconv.Itoa(requestID)}}
	if err := c.get(ctx, path, token, v, &out); err != nil {
		return Tracking{}, err
	}
	return out.tracking(requestID, time.Now()), nil
}

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

func (c *Client) AcceptReject(ctx context.Context, token string, role models.Role, requestID int, action Action) error {
	body := struct {
		RequestID int    `json:"request_id"`
		Action    Action `json:"action"`
	}{requestID, action}
	return c.post(ctx, PathAcceptReject(role), token, body, nil)
}

func (c *Client) CompleteRequest(ctx context.Context, token string, requestID int, finalAmount float64) error {
	body := struct {
		RequestID   int     `json:"request_id"`
		FinalAmount float64 `json:"final_amount"`
	}{requestID, finalAmount}
	return c.post(ctx, PathCompleteRepair, token, body, nil)
}

func (c *Client) CompleteFuelRequest(ctx context.Context, token string, requestID int, finalAmount, liters float64) error {
	body := struct {
		RequestID   int     `json:"request_id"`
		FinalAmount float64 `json:"final_amount"`
		Liters      float64 `json:"liters"`
	}{requestID, finalAmount, liters}
	return c.post(ctx, PathCompleteFuel, token, body, nil)
}

func (c *Client) MakePayment(ctx context.Context, token string, orderID int, method string) (models.PaymentRecord, error) {
	body := struct {
		OrderID       int    `json:"order_id"`
		PaymentMethod string `json:"payment_method"`
	}{orderID, method}
	var out wirePayment
	if err := c.post(ctx, PathMakePayment, token, body, &out); err != nil {
		return models.PaymentRecord{}, err
	}
	rec := out.record()
	if rec.Method == "" {
		rec.Method = method
	}
	return *rec, nil
}

func (c *Client) GiveRating(ctx context.Context, token string, orderID, stars int, review string) (models.RatingRecord, error) {
	body := struct {
		OrderID int    `json:"order_id"`
		Rating  int    `json:"rating"`
		Review  string `json:"review,omitempty"`
	}{orderID, stars, review}
	var out struct {
		Rating *flexInt `json:"rating"`
		Review string   `json:"review"`
	}
	if err := c.post(ctx, PathGiveRating, token, body, &out); err != nil {
		return models.RatingRecord{}, err
	}
	rec := models.RatingRecord{Stars: stars, Review: review}
	if out.Rating != nil && *out.Rating > 0 {
		rec.Stars = int(*out.Rating)
	}
	if out.Review != "" {
		rec.Review = out.Review
	}
	return rec, nil
}

func (c *Client) UpdateLocation(ctx context.Context, token string, role models.Role, u models.LocationUpdate) error {
	body := struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		RequestID int     `json:"request_id,omitempty"`
	}{u.Lat, u.Lon, u.RequestID}
	return c.post(ctx, PathUpdateLocation(role), token, body, nil)
}
