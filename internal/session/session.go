package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/observable"
)

// Credentials is what a signed-in client holds. The zero value means signed
// out.
type Credentials struct {
	Token string      `json:"token"`
	Role  models.Role `json:"role"`
	Email string      `json:"email"`
}

func (c Credentials) SignedIn() bool { return c.Token != "" }

// Store persists credentials between runs.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	Clear(ctx context.Context) error
}

// Session is the single writer of credentials. Lifecycle controllers and
// pollers only read it and subscribe to changes.
type Session struct {
	store  Store
	logger *slog.Logger
	value  *observable.Value[Credentials]
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Session {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, logger: logger, value: observable.New(Credentials{}), now: time.Now}
}

// Restore loads persisted credentials, if any.
func (s *Session) Restore(ctx context.Context) error {
	c, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.value.Set(c)
	return nil
}

// Login records credentials obtained from the auth endpoint.
func (s *Session) Login(ctx context.Context, c Credentials) error {
	if c.Token == "" {
		return errors.New("session: empty token")
	}
	if c.Role == "" {
		if r := roleFromToken(c.Token); r != "" {
			c.Role = r
		}
	}
	if err := s.store.Save(ctx, c); err != nil {
		return err
	}
	s.value.Set(c)
	s.logger.Info("session started", "role", c.Role, "email", c.Email)
	return nil
}

// Teardown clears credentials. Subscribers see a signed-out value and are
// expected to route back to login.
func (s *Session) Teardown(ctx context.Context, reason string) {
	if !s.Current().SignedIn() {
		return
	}
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("session clear failed", "error", err)
	}
	s.value.Set(Credentials{})
	s.logger.Info("session torn down", "reason", reason)
}

func (s *Session) Current() Credentials { return s.value.Get() }
func (s *Session) Token() string        { return s.value.Get().Token }
func (s *Session) Role() models.Role    { return s.value.Get().Role }

func (s *Session) Subscribe(fn func(Credentials)) (unsubscribe func()) {
	return s.value.Subscribe(fn)
}

// Expired reports whether the held token is a JWT whose exp has passed.
// Opaque tokens are never considered expired locally.
func (s *Session) Expired() bool {
	tok := s.Token()
	if tok == "" {
		return true
	}
	claims, ok := parseClaims(tok)
	if !ok {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.now().Before(exp.Time)
}

type claims struct {
	Role     string `json:"role"`
	UserRole string `json:"user_role"`
	jwt.RegisteredClaims
}

// parseClaims reads claims without verifying the signature; the client has no
// key and only needs exp and role hints.
func parseClaims(token string) (*claims, bool) {
	token = strings.TrimPrefix(token, "Bearer ")
	if strings.Count(token, ".") != 2 {
		return nil, false
	}
	c := &claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, c); err != nil {
		return nil, false
	}
	return c, true
}

func roleFromToken(token string) models.Role {
	c, ok := parseClaims(token)
	if !ok {
		return ""
	}
	if r := models.ParseRole(c.Role); r != "" {
		return r
	}
	return models.ParseRole(c.UserRole)
}
