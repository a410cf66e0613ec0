package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/observability"
	"github.com/example/roadside-assist/internal/observable"
	"github.com/example/roadside-assist/internal/schedule"
	"github.com/example/roadside-assist/internal/session"
)

const DefaultSampleInterval = 3 * time.Second

// Locator reads the device position.
type Locator interface {
	Locate(ctx context.Context) (models.Coord, error)
}

// Pusher sends the device position to the backend. Both provider.Provider
// and provider.Requester satisfy it.
type Pusher interface {
	UpdateLocation(ctx context.Context, token string, u models.LocationUpdate) error
}

type SamplerConfig struct {
	Interval    time.Duration
	Clock       schedule.Clock
	Logger      *slog.Logger
	PushTimeout time.Duration
}

// Sampler reads the device position on a fixed delay, publishes it for the
// local map and pushes it upstream without waiting for the result.
type Sampler struct {
	loc  Locator
	push Pusher
	sess *session.Session
	cfg  SamplerConfig

	mu        sync.Mutex
	task      *schedule.Task
	requestID int
	gen       uint64

	// held while publishing so Stop can wait out a tick in progress
	publishMu sync.Mutex
	pos       *observable.Value[*models.Coord]
	pushing   sync.WaitGroup
}

func NewSampler(loc Locator, push Pusher, sess *session.Session, cfg SamplerConfig) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	return &Sampler{loc: loc, push: push, sess: sess, cfg: cfg, pos: observable.New[*models.Coord](nil)}
}

// Start samples on behalf of requestID, which providers attach to their
// pushes. 0 means no request. Restarting replaces the previous loop.
func (s *Sampler) Start(requestID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil {
		if s.requestID == requestID {
			return
		}
		s.task.Cancel()
	}
	s.gen++
	gen := s.gen
	s.requestID = requestID
	s.task = schedule.Every(s.cfg.Clock, s.cfg.Interval, func(ctx context.Context) { s.tick(ctx, gen, requestID) })
}

// Stop cancels the loop. Once Stop returns a tick already in flight neither
// publishes nor pushes.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
	s.gen++
	s.mu.Unlock()

	s.publishMu.Lock()
	s.publishMu.Unlock()
}

// Position returns the last sampled coordinate.
func (s *Sampler) Position() (models.Coord, bool) {
	c := s.pos.Get()
	if c == nil {
		return models.Coord{}, false
	}
	return *c, true
}

func (s *Sampler) Subscribe(fn func(*models.Coord)) (unsubscribe func()) {
	return s.pos.Subscribe(fn)
}

// Wait blocks until pushes already started have returned.
func (s *Sampler) Wait() { s.pushing.Wait() }

func (s *Sampler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.task != nil
}

func (s *Sampler) tick(ctx context.Context, gen uint64, requestID int) {
	c, err := s.loc.Locate(ctx)
	if err != nil {
		s.cfg.Logger.Debug("device locate failed", "error", err)
		return
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if !s.current(gen) {
		return
	}
	s.pos.Set(&c)

	tok := s.sess.Token()
	if tok == "" || s.push == nil {
		return
	}
	s.pushing.Add(1)
	go func() {
		defer s.pushing.Done()
		pctx, cancel := context.WithTimeout(context.Background(), s.cfg.PushTimeout)
		defer cancel()
		if err := s.push.UpdateLocation(pctx, tok, models.LocationUpdate{Coord: c, RequestID: requestID}); err != nil {
			observability.LocationPushesTotal.WithLabelValues(failure(err)).Inc()
			if api.IsUnauthorized(err) {
				s.sess.Teardown(context.Background(), "location push unauthorized")
				return
			}
			s.cfg.Logger.Debug("location push failed", "request_id", requestID, "error", err)
			return
		}
		observability.LocationPushesTotal.WithLabelValues("ok").Inc()
	}()
}
