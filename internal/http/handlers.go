// Package httpapi is the local bridge the presentation layer talks to: JSON
// commands in, controller and tracking state out, plus a websocket stream of
// every change.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/dispatch"
	"github.com/example/roadside-assist/internal/lifecycle"
	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/session"
)

// Lifecycle is the controller surface the bridge drives.
type Lifecycle interface {
	State() lifecycle.State
	Subscribe(fn func(lifecycle.State)) func()
	Create(ctx context.Context, p api.CreateParams, st models.ServiceType) error
	Attach(ctx context.Context, id int) error
	Refresh(ctx context.Context) error
	Accept(ctx context.Context, id int) error
	Reject(ctx context.Context, id int) error
	Complete(ctx context.Context, id int, finalAmount float64, liters *float64) error
	Pay(ctx context.Context, id int, method string) error
	Rate(ctx context.Context, id, stars int, review string) error
	Reset() error
	Requests(ctx context.Context, q api.RequestQuery) (api.RequestPage, error)
}

type Tracking interface {
	Snapshot() *models.TrackingSnapshot
	Subscribe(fn func(*models.TrackingSnapshot)) func()
}

type Device interface {
	Position() (models.Coord, bool)
	Subscribe(fn func(*models.Coord)) func()
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (api.LoginResult, error)
}

type Deps struct {
	Lifecycle Lifecycle
	Tracking  Tracking
	Device    Device
	Session   *session.Session
	Auth      Authenticator
	WSReg     *dispatch.WSRegistry
	Logger    *slog.Logger
}

type Server struct {
	lc     Lifecycle
	track  Tracking
	device Device
	sess   *session.Session
	auth   Authenticator
	WSReg  *dispatch.WSRegistry
	logger *slog.Logger
	mux    *mux.Router

	events chan dispatch.Event
	unsubs []func()
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.WSReg == nil {
		d.WSReg = dispatch.NewWSRegistry(d.Logger)
	}
	s := &Server{
		lc:     d.Lifecycle,
		track:  d.Tracking,
		device: d.Device,
		sess:   d.Session,
		auth:   d.Auth,
		WSReg:  d.WSReg,
		logger: d.Logger,
		mux:    mux.NewRouter(),
		events: make(chan dispatch.Event, 64),
	}
	s.registerMiddleware()
	s.routes()
	s.subscribe()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	v1 := s.mux.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/session", s.handleSession).Methods("GET")
	v1.HandleFunc("/session/login", s.handleLogin).Methods("POST")
	v1.HandleFunc("/session/logout", s.handleLogout).Methods("POST")

	v1.HandleFunc("/requests", s.handleList).Methods("GET")
	v1.HandleFunc("/request", s.handleState).Methods("GET")
	v1.HandleFunc("/request", s.handleCreate).Methods("POST")
	v1.HandleFunc("/request", s.handleReset).Methods("DELETE")
	v1.HandleFunc("/request/refresh", s.handleRefresh).Methods("POST")
	v1.HandleFunc("/request/{id:[0-9]+}/attach", s.withID(s.lc.Attach)).Methods("POST")
	v1.HandleFunc("/request/{id:[0-9]+}/accept", s.withID(s.lc.Accept)).Methods("POST")
	v1.HandleFunc("/request/{id:[0-9]+}/reject", s.withID(s.lc.Reject)).Methods("POST")
	v1.HandleFunc("/request/{id:[0-9]+}/complete", s.handleComplete).Methods("POST")
	v1.HandleFunc("/request/{id:[0-9]+}/pay", s.handlePay).Methods("POST")
	v1.HandleFunc("/request/{id:[0-9]+}/rate", s.handleRate).Methods("POST")

	v1.HandleFunc("/tracking", s.handleTracking).Methods("GET")
	v1.HandleFunc("/position", s.handlePosition).Methods("GET")

	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// subscribe forwards every state change to the websocket pump. Sends never
// block the publisher; if the pump falls behind events are dropped and
// clients resync from the next one.
func (s *Server) subscribe() {
	push := func(ev dispatch.Event) {
		select {
		case s.events <- ev:
		default:
			s.logger.Warn("ws event dropped", "type", ev.Type)
		}
	}
	if s.lc != nil {
		s.unsubs = append(s.unsubs, s.lc.Subscribe(func(st lifecycle.State) { push(dispatch.Event{Type: dispatch.EventRequest, Data: stateView(st)}) }))
	}
	if s.track != nil {
		s.unsubs = append(s.unsubs, s.track.Subscribe(func(snap *models.TrackingSnapshot) {
			push(dispatch.Event{Type: dispatch.EventTracking, Data: snap})
		}))
	}
	if s.device != nil {
		s.unsubs = append(s.unsubs, s.device.Subscribe(func(c *models.Coord) { push(dispatch.Event{Type: dispatch.EventPosition, Data: c}) }))
	}
	if s.sess != nil {
		s.unsubs = append(s.unsubs, s.sess.Subscribe(func(c session.Credentials) {
			push(dispatch.Event{Type: dispatch.EventSession, Data: sessionView(c)})
		}))
	}
}

// Run broadcasts queued events until ctx is done.
func (s *Server) Run(ctx context.Context) {
	defer func() {
		for _, u := range s.unsubs {
			u()
		}
		s.WSReg.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.WSReg.Broadcast(ev)
		}
	}
}

type requestView struct {
	Request  *models.ServiceRequest `json:"request"`
	InFlight []string               `json:"in_flight"`
	Errors   map[string]string      `json:"errors"`
}

func stateView(st lifecycle.State) requestView {
	v := requestView{Request: st.Request, InFlight: []string{}, Errors: map[string]string{}}
	for op, busy := range st.InFlight {
		if busy {
			v.InFlight = append(v.InFlight, string(op))
		}
	}
	for op, err := range st.Errors {
		v.Errors[string(op)] = userMessage(err)
	}
	return v
}

type sessionInfo struct {
	SignedIn bool        `json:"signed_in"`
	Role     models.Role `json:"role,omitempty"`
	Email    string      `json:"email,omitempty"`
}

func sessionView(c session.Credentials) sessionInfo {
	return sessionInfo{SignedIn: c.SignedIn(), Role: c.Role, Email: c.Email}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionView(s.sess.Current()))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if s.auth == nil {
		writeError(w, http.StatusNotImplemented, "login not configured")
		return
	}
	res, err := s.auth.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.sess.Login(r.Context(), session.Credentials{Token: res.Token, Role: res.Role, Email: res.Email}); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(s.sess.Current()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sess.Teardown(r.Context(), "logout")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateView(s.lc.State()))
}

type listView struct {
	Requests   []models.ServiceRequest `json:"requests"`
	Pagination models.Page             `json:"pagination"`
}

// handleList serves the provider request list: ?status=&page=&limit=.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := api.RequestQuery{Status: models.Status(strings.ToLower(strings.TrimSpace(v.Get("status"))))}
	var err error
	if q.Page, err = queryInt(v.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "page: "+err.Error())
		return
	}
	if q.Limit, err = queryInt(v.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	page, err := s.lc.Requests(r.Context(), q)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := listView{Requests: page.Requests, Pagination: page.Page}
	if out.Requests == nil {
		out.Requests = []models.ServiceRequest{}
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ShopID      int    `json:"shop_id"`
		ServiceID   int    `json:"service_id"`
		ServiceType string `json:"service_type"`
		Description string `json:"description"`
	}
	if !decode(w, r, &body) {
		return
	}
	p := api.CreateParams{ShopID: body.ShopID, ServiceID: body.ServiceID, Description: body.Description}
	s.respond(w, s.lc.Create(r.Context(), p, models.ParseServiceType(body.ServiceType)))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.lc.Reset())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.lc.Refresh(r.Context()))
}

func (s *Server) withID(fn func(ctx context.Context, id int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, fn(r.Context(), pathID(r)))
	}
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FinalAmount float64  `json:"final_amount"`
		Liters      *float64 `json:"liters"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.respond(w, s.lc.Complete(r.Context(), pathID(r), body.FinalAmount, body.Liters))
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Method string `json:"method"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.respond(w, s.lc.Pay(r.Context(), pathID(r), body.Method))
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Stars  int    `json:"stars"`
		Review string `json:"review"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.respond(w, s.lc.Rate(r.Context(), pathID(r), body.Stars, body.Review))
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	snap := s.track.Snapshot()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	c, ok := s.device.Position()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

var upgrader = websocket.Upgrader{
	// the bridge only listens locally
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	sess := s.WSReg.Add(conn)
	// first frame carries the full current state
	_ = sess.Send(dispatch.Event{Type: dispatch.EventRequest, Data: stateView(s.lc.State())})
	go func() {
		defer s.WSReg.Remove(sess)
		conn.SetReadLimit(1024)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

// respond writes the post-action state, or the error mapped to a status.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateView(s.lc.State()))
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), userMessage(err))
}

func statusFor(err error) int {
	switch {
	case lifecycle.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrNoRequest):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrRoleNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch api.KindOf(err) {
	case api.KindUnauthorized:
		return http.StatusUnauthorized
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindNetwork:
		return http.StatusServiceUnavailable
	case api.KindServer, api.KindDecode:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func userMessage(err error) string {
	if lifecycle.IsValidation(err) || api.KindOf(err) == "" {
		return err.Error()
	}
	return api.UserMessage(err)
}

func pathID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError echoes the request id so the caller can match the bridge log.
func writeError(w http.ResponseWriter, status int, msg string) {
	body := map[string]any{"error": msg, "at": time.Now().UTC()}
	if id := w.Header().Get("X-Request-ID"); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, status, body)
}
