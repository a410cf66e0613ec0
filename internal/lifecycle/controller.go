// Package lifecycle drives one service request from creation to payment and
// rating, merging backend responses into a single observable state.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/observability"
	"github.com/example/roadside-assist/internal/observable"
	"github.com/example/roadside-assist/internal/provider"
	"github.com/example/roadside-assist/internal/session"
	"github.com/example/roadside-assist/internal/storage"
)

// Op names a controller operation. In-flight flags and errors are keyed by
// it so each control shows its own spinner and message.
type Op string

const (
	OpCreate   Op = "create"
	OpAttach   Op = "attach"
	OpRefresh  Op = "refresh"
	OpAccept   Op = "accept"
	OpReject   Op = "reject"
	OpComplete Op = "complete"
	OpPay      Op = "pay"
	OpRate     Op = "rate"
	OpList     Op = "list"
)

// ReconcileMode decides what happens after an acknowledged write.
type ReconcileMode string

const (
	// PollAfterWrite re-fetches the request after every write.
	PollAfterWrite ReconcileMode = "poll-after-write"
	// TrustLocalWrite applies an acknowledged transition locally and waits
	// for the next refresh to confirm it.
	TrustLocalWrite ReconcileMode = "trust-local-write"
)

func ParseReconcileMode(s string) (ReconcileMode, error) {
	switch ReconcileMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PollAfterWrite:
		return PollAfterWrite, nil
	case TrustLocalWrite:
		return TrustLocalWrite, nil
	default:
		return "", fmt.Errorf("unknown reconcile mode %q", s)
	}
}

const (
	MethodCOD    = "cod"
	MethodOnline = "online"
)

// PaymentGateway holds funds for online payments. Optional.
type PaymentGateway interface {
	Hold(ctx context.Context, requestID int, amount float64) (string, error)
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

// State is what the presentation layer renders. Request is nil in the
// no-request context.
type State struct {
	Request  *models.ServiceRequest
	InFlight map[Op]bool
	Errors   map[Op]error
}

func (s State) Busy(op Op) bool { return s.InFlight[op] }

func (s State) clone() State {
	out := State{Request: s.Request.Clone(), InFlight: make(map[Op]bool, len(s.InFlight)), Errors: make(map[Op]error, len(s.Errors))}
	for k, v := range s.InFlight {
		out.InFlight[k] = v
	}
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	return out
}

type Options struct {
	// Provider is set for mechanic and owner sessions.
	Provider provider.Provider
	// Requester is set for end user sessions.
	Requester provider.Requester
	Payments  PaymentGateway
	Store     storage.RequestStore
	Mode      ReconcileMode
	Logger    *slog.Logger
	// PageSize bounds each view_requests page walked to find a request.
	PageSize int
}

type Controller struct {
	sess     *session.Session
	prov     provider.Provider
	req      provider.Requester
	pay      PaymentGateway
	store    storage.RequestStore
	mode     ReconcileMode
	logger   *slog.Logger
	pageSize int
	now      func() time.Time

	mu    sync.Mutex // serializes read-modify-write of state
	state *observable.Value[State]
	queue *serialQueue
	unsub func()
}

func New(sess *session.Session, o Options) *Controller {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Mode == "" {
		o.Mode = PollAfterWrite
	}
	if o.Store == nil {
		o.Store = storage.NewMemoryStore()
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	c := &Controller{
		sess:     sess,
		prov:     o.Provider,
		req:      o.Requester,
		pay:      o.Payments,
		store:    o.Store,
		mode:     o.Mode,
		logger:   o.Logger,
		pageSize: o.PageSize,
		now:      time.Now,
		state:    observable.New(State{InFlight: map[Op]bool{}, Errors: map[Op]error{}}),
		queue:    newSerialQueue(),
	}
	c.unsub = sess.Subscribe(func(cr session.Credentials) {
		if !cr.SignedIn() {
			c.clear()
		}
	})
	return c
}

// Close detaches the controller from the session.
func (c *Controller) Close() { c.unsub() }

// State returns a copy of the current state.
func (c *Controller) State() State { return c.state.Get().clone() }

// Subscribe registers fn for every state change. fn must not call back into
// the controller synchronously.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	return c.state.Subscribe(func(s State) { fn(s.clone()) })
}

// Create files a new request from the no-request context.
func (c *Controller) Create(ctx context.Context, p api.CreateParams, st models.ServiceType) error {
	if p.ShopID <= 0 {
		return c.reject(OpCreate, invalid(OpCreate, "shop_id", "must be positive"))
	}
	if p.ServiceID <= 0 {
		return c.reject(OpCreate, invalid(OpCreate, "service_id", "must be positive"))
	}
	return c.run(ctx, OpCreate, 0, func(ctx context.Context) error {
		if c.req == nil {
			return ErrRoleNotAllowed
		}
		if cur := c.state.Get().Request; cur != nil && !cur.Terminal() {
			return invalid(OpCreate, "request", "request %d is still active", cur.ID)
		}
		tok, err := c.token(ctx, OpCreate)
		if err != nil {
			return err
		}
		id, err := c.req.Create(ctx, tok, p)
		if err != nil {
			return err
		}
		now := c.now()
		c.replace(&models.ServiceRequest{
			ID:          id,
			ShopID:      p.ShopID,
			ServiceID:   p.ServiceID,
			ServiceType: st,
			Description: p.Description,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		c.logger.Info("request created", "request_id", id, "shop_id", p.ShopID, "service_id", p.ServiceID)
		if c.mode == PollAfterWrite {
			return c.reconcile(ctx, tok, OpCreate, id, nil, nil)
		}
		return nil
	})
}

// Attach loads an existing request, replacing whatever was attached.
func (c *Controller) Attach(ctx context.Context, id int) error {
	return c.run(ctx, OpAttach, id, func(ctx context.Context) error {
		tok, err := c.token(ctx, OpAttach)
		if err != nil {
			return err
		}
		r, err := c.fetch(ctx, tok, id)
		if err != nil {
			return err
		}
		c.replace(r)
		return nil
	})
}

// Refresh re-fetches the attached request from the backend.
func (c *Controller) Refresh(ctx context.Context) error {
	cur := c.state.Get().Request
	if cur == nil {
		return c.reject(OpRefresh, ErrNoRequest)
	}
	id := cur.ID
	return c.run(ctx, OpRefresh, id, func(ctx context.Context) error {
		tok, err := c.token(ctx, OpRefresh)
		if err != nil {
			return err
		}
		r, err := c.fetch(ctx, tok, id)
		if err != nil {
			return err
		}
		c.apply(r)
		return nil
	})
}

// Requests lists the provider's requests, optionally filtered by status. It
// leaves the attached request alone; listings share the no-request queue key.
func (c *Controller) Requests(ctx context.Context, q api.RequestQuery) (api.RequestPage, error) {
	if q.Status != "" && models.ParseStatus(string(q.Status)) != q.Status {
		return api.RequestPage{}, c.reject(OpList, invalid(OpList, "status", "unknown status %q", q.Status))
	}
	if q.Page < 0 || q.Limit < 0 {
		return api.RequestPage{}, c.reject(OpList, invalid(OpList, "page", "page and limit must not be negative"))
	}
	var page api.RequestPage
	err := c.run(ctx, OpList, 0, func(ctx context.Context) error {
		if c.prov == nil {
			return fmt.Errorf("%s: %w", OpList, ErrRoleNotAllowed)
		}
		tok, err := c.token(ctx, OpList)
		if err != nil {
			return err
		}
		page, err = c.prov.ViewRequests(ctx, tok, q)
		return err
	})
	return page, err
}

func (c *Controller) Accept(ctx context.Context, id int) error {
	return c.decide(ctx, OpAccept, id, api.ActionAccept, models.StatusAccepted)
}

func (c *Controller) Reject(ctx context.Context, id int) error {
	return c.decide(ctx, OpReject, id, api.ActionReject, models.StatusRejected)
}

func (c *Controller) decide(ctx context.Context, op Op, id int, action api.Action, to models.Status) error {
	return c.run(ctx, op, id, func(ctx context.Context) error {
		r, err := c.providerTarget(op, id)
		if err != nil {
			return err
		}
		if r.Status != models.StatusPending {
			return invalid(op, "status", "requires pending, request is %s", r.Status)
		}
		tok, err := c.token(ctx, op)
		if err != nil {
			return err
		}
		werr := c.prov.AcceptReject(ctx, tok, id, action)
		return c.reconcile(ctx, tok, op, id, werr, func(r *models.ServiceRequest) { r.Status = to })
	})
}

// Complete closes an accepted request. liters is required for fuel and
// ignored for mechanic requests.
func (c *Controller) Complete(ctx context.Context, id int, finalAmount float64, liters *float64) error {
	if finalAmount <= 0 {
		return c.reject(OpComplete, invalid(OpComplete, "final_amount", "must be positive"))
	}
	return c.run(ctx, OpComplete, id, func(ctx context.Context) error {
		r, err := c.providerTarget(OpComplete, id)
		if err != nil {
			return err
		}
		fuel := r.ServiceType == models.ServiceFuel || (r.ServiceType == "" && c.prov.Role() == models.RoleOwner)
		if fuel {
			if liters == nil {
				return invalid(OpComplete, "liters", "required for fuel requests")
			}
			if *liters <= 0 {
				return invalid(OpComplete, "liters", "must be positive")
			}
		} else {
			liters = nil
		}
		if r.Status != models.StatusAccepted {
			return invalid(OpComplete, "status", "requires accepted, request is %s", r.Status)
		}
		tok, err := c.token(ctx, OpComplete)
		if err != nil {
			return err
		}
		werr := c.prov.Complete(ctx, tok, id, finalAmount, liters)
		return c.reconcile(ctx, tok, OpComplete, id, werr, func(r *models.ServiceRequest) {
			r.Status = models.StatusCompleted
			r.FinalPrice = &finalAmount
			r.Liters = cloneFloat(liters)
		})
	})
}

// Pay records a payment for a completed, unpaid request. Online payments
// are held on the gateway first and captured once the backend accepts.
func (c *Controller) Pay(ctx context.Context, id int, method string) error {
	method = strings.ToLower(strings.TrimSpace(method))
	if method != MethodCOD && method != MethodOnline {
		return c.reject(OpPay, invalid(OpPay, "method", "must be %s or %s", MethodCOD, MethodOnline))
	}
	return c.run(ctx, OpPay, id, func(ctx context.Context) error {
		r, err := c.requesterTarget(OpPay, id)
		if err != nil {
			return err
		}
		if !r.Status.Finished() {
			return invalid(OpPay, "status", "requires completed, request is %s", r.Status)
		}
		if r.Paid() {
			return invalid(OpPay, "payment", "already paid")
		}
		tok, err := c.token(ctx, OpPay)
		if err != nil {
			return err
		}
		var amount float64
		if r.FinalPrice != nil {
			amount = *r.FinalPrice
		}
		var hold string
		if method == MethodOnline && c.pay != nil {
			if hold, err = c.pay.Hold(ctx, id, amount); err != nil {
				return fmt.Errorf("payment hold: %w", err)
			}
		}
		rec, err := c.req.Pay(ctx, tok, id, method)
		if hold != "" {
			c.settle(id, hold, err == nil)
		}
		if err != nil {
			return err
		}
		if rec.Amount == 0 {
			rec.Amount = amount
		}
		c.applyLocal(id, func(r *models.ServiceRequest) { r.Payment = &rec })
		c.logger.Info("payment recorded", "request_id", id, "method", rec.Method, "amount", rec.Amount)
		if c.mode == PollAfterWrite {
			return c.reconcile(ctx, tok, OpPay, id, nil, nil)
		}
		return nil
	})
}

// settle runs detached from the caller so a dropped client cannot leave a
// hold open once the backend has answered.
func (c *Controller) settle(id int, hold string, capture bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	if capture {
		err = c.pay.Capture(ctx, hold)
	} else {
		err = c.pay.Cancel(ctx, hold)
	}
	if err != nil {
		c.logger.Warn("payment hold settle failed", "request_id", id, "hold", hold, "capture", capture, "error", err)
	}
}

// Rate attaches a 1 to 5 star rating to a completed or paid request.
func (c *Controller) Rate(ctx context.Context, id, stars int, review string) error {
	if stars < 1 || stars > 5 {
		return c.reject(OpRate, invalid(OpRate, "stars", "must be between 1 and 5, got %d", stars))
	}
	review = strings.TrimSpace(review)
	return c.run(ctx, OpRate, id, func(ctx context.Context) error {
		r, err := c.requesterTarget(OpRate, id)
		if err != nil {
			return err
		}
		if !r.Status.Finished() {
			return invalid(OpRate, "status", "requires completed or paid, request is %s", r.Status)
		}
		if r.Rated() {
			return invalid(OpRate, "rating", "already rated")
		}
		tok, err := c.token(ctx, OpRate)
		if err != nil {
			return err
		}
		rec, err := c.req.Rate(ctx, tok, id, stars, review)
		if err != nil {
			return err
		}
		c.applyLocal(id, func(r *models.ServiceRequest) { r.Rating = &rec })
		if c.mode == PollAfterWrite {
			return c.reconcile(ctx, tok, OpRate, id, nil, nil)
		}
		return nil
	})
}

// Reset returns to the no-request context. An active request has to reach a
// terminal status first.
func (c *Controller) Reset() error {
	c.mu.Lock()
	s := c.state.Get()
	if s.Request != nil && !s.Request.Terminal() {
		c.mu.Unlock()
		return invalid("reset", "request", "request %d is still active", s.Request.ID)
	}
	c.state.Set(State{InFlight: map[Op]bool{}, Errors: map[Op]error{}})
	c.mu.Unlock()
	return nil
}

// run executes fn after every earlier action on the same request id.
func (c *Controller) run(ctx context.Context, op Op, key int, fn func(ctx context.Context) error) error {
	leave, err := c.queue.enter(ctx, key)
	if err != nil {
		return err
	}
	defer leave()

	c.update(func(s *State) { s.InFlight[op] = true })
	err = fn(ctx)
	if api.IsUnauthorized(err) {
		c.sess.Teardown(ctx, string(op)+" unauthorized")
	}
	observability.ActionsTotal.WithLabelValues(string(op), outcome(err)).Inc()
	if err != nil && !IsValidation(err) {
		c.logger.Warn("lifecycle action failed", "op", op, "request_id", key, "error", err)
	}
	c.update(func(s *State) {
		delete(s.InFlight, op)
		if err != nil {
			s.Errors[op] = err
		} else {
			delete(s.Errors, op)
		}
	})
	return err
}

// reject records a failure detected before an action was queued.
func (c *Controller) reject(op Op, err error) error {
	observability.ActionsTotal.WithLabelValues(string(op), outcome(err)).Inc()
	c.update(func(s *State) { s.Errors[op] = err })
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "invalid"
	case api.KindOf(err) != "":
		return string(api.KindOf(err))
	default:
		return "error"
	}
}

// token returns the bearer token, tearing the session down if it has
// expired locally.
func (c *Controller) token(ctx context.Context, op Op) (string, error) {
	if c.sess.Expired() {
		c.sess.Teardown(ctx, "token expired")
		return "", api.Unauthorized(string(op), "session expired")
	}
	return c.sess.Token(), nil
}

func (c *Controller) attached(id int) (*models.ServiceRequest, error) {
	cur := c.state.Get().Request
	if cur == nil || cur.ID != id {
		return nil, fmt.Errorf("request %d: %w", id, ErrNoRequest)
	}
	return cur, nil
}

// providerTarget checks that the session is the provider kind the request
// was filed for.
func (c *Controller) providerTarget(op Op, id int) (*models.ServiceRequest, error) {
	if c.prov == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrRoleNotAllowed)
	}
	r, err := c.attached(id)
	if err != nil {
		return nil, err
	}
	if r.ServiceType != "" && r.ServiceType.ProviderRole() != c.prov.Role() {
		return nil, fmt.Errorf("%s %s request as %s: %w", op, r.ServiceType, c.prov.Role(), ErrRoleNotAllowed)
	}
	return r, nil
}

func (c *Controller) requesterTarget(op Op, id int) (*models.ServiceRequest, error) {
	if c.req == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrRoleNotAllowed)
	}
	return c.attached(id)
}

// fetch returns the authoritative record. Providers have no single-request
// route, so the listing is paged until the id shows up.
func (c *Controller) fetch(ctx context.Context, token string, id int) (*models.ServiceRequest, error) {
	if c.req != nil {
		r, err := c.req.OrderStatus(ctx, token, id)
		if err != nil {
			return nil, err
		}
		if r.ID == 0 {
			r.ID = id
		}
		return &r, nil
	}
	if c.prov == nil {
		return nil, ErrRoleNotAllowed
	}
	for page := 1; ; page++ {
		res, err := c.prov.ViewRequests(ctx, token, api.RequestQuery{Page: page, Limit: c.pageSize})
		if err != nil {
			return nil, err
		}
		for i := range res.Requests {
			if res.Requests[i].ID == id {
				r := res.Requests[i]
				return &r, nil
			}
		}
		if len(res.Requests) == 0 || page >= res.Page.Pages {
			return nil, &api.Error{Kind: api.KindNotFound, Op: api.PathViewRequests(c.prov.Role()), Message: fmt.Sprintf("request %d not listed", id)}
		}
	}
}

// reconcile settles local state after a write. werr is the write's own
// outcome; acked is the transition the write asked for.
func (c *Controller) reconcile(ctx context.Context, token string, op Op, id int, werr error, acked func(*models.ServiceRequest)) error {
	if werr == nil && acked != nil && c.mode == TrustLocalWrite {
		c.applyLocal(id, acked)
		return nil
	}
	r, err := c.fetch(ctx, token, id)
	if err == nil {
		c.apply(r)
		return werr
	}
	if werr != nil {
		c.logger.Warn("refresh after failed write failed", "op", op, "request_id", id, "error", err)
		return werr
	}
	if api.IsUnauthorized(err) {
		return err
	}
	c.logger.Warn("refresh after write failed, keeping acknowledged state", "op", op, "request_id", id, "error", err)
	if acked != nil {
		c.applyLocal(id, acked)
	}
	return nil
}

// replace attaches r outright.
func (c *Controller) replace(r *models.ServiceRequest) {
	var prev *models.ServiceRequest
	c.update(func(s *State) {
		prev = s.Request
		s.Request = r.Clone()
	})
	if prev == nil || prev.ID != r.ID {
		prev = nil
	}
	c.observed(prev, r)
	c.journal(r, true)
}

// apply merges a server record, dropping it if it is stale.
func (c *Controller) apply(server *models.ServiceRequest) {
	var prev, next *models.ServiceRequest
	fresh := true
	c.update(func(s *State) {
		prev = s.Request
		next, fresh = merge(s.Request, server)
		s.Request = next
	})
	if !fresh {
		observability.StaleDiscardsTotal.Inc()
		c.logger.Info("stale server record discarded", "request_id", server.ID, "server_status", server.Status, "local_status", prev.Status)
		return
	}
	if prev != nil && prev.ID != next.ID {
		prev = nil
	}
	c.observed(prev, next)
	c.journal(next, prev == nil)
}

// applyLocal mutates the attached request in place once the backend has
// acknowledged a write.
func (c *Controller) applyLocal(id int, mutate func(*models.ServiceRequest)) {
	var prev, next *models.ServiceRequest
	c.update(func(s *State) {
		if s.Request == nil || s.Request.ID != id {
			return
		}
		prev = s.Request
		next = s.Request.Clone()
		mutate(next)
		next.UpdatedAt = c.now()
		s.Request = next
	})
	if next == nil {
		return
	}
	c.observed(prev, next)
	c.journal(next, false)
}

func (c *Controller) observed(prev, next *models.ServiceRequest) {
	from := models.Status("none")
	if prev != nil {
		from = prev.Status
	}
	if from == next.Status {
		return
	}
	observability.TransitionsTotal.WithLabelValues(string(from), string(next.Status)).Inc()
	c.logger.Info("request transition", "request_id", next.ID, "from", from, "to", next.Status)
}

func (c *Controller) journal(r *models.ServiceRequest, first bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if first {
		err = c.store.SaveRequest(ctx, r)
	} else {
		err = c.store.UpdateRequest(ctx, r)
	}
	if err != nil {
		c.logger.Warn("request journal write failed", "request_id", r.ID, "error", err)
	}
}

func (c *Controller) clear() {
	c.mu.Lock()
	c.state.Set(State{InFlight: map[Op]bool{}, Errors: map[Op]error{}})
	c.mu.Unlock()
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state.Get().clone()
	fn(&s)
	c.state.Set(s)
}
