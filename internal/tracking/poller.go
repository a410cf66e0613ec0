// Package tracking runs the two timer loops behind a live request view: the
// counterpart poller and the own device sampler.
package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/eta"
	"github.com/example/roadside-assist/internal/geo"
	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/observability"
	"github.com/example/roadside-assist/internal/observable"
	"github.com/example/roadside-assist/internal/schedule"
	"github.com/example/roadside-assist/internal/session"
)

const DefaultPollInterval = 5 * time.Second

// Tracker fetches the counterpart position for one request.
type Tracker interface {
	Track(ctx context.Context, token string, requestID int) (api.Tracking, error)
}

// Sink receives every published snapshot, e.g. a broker producer.
type Sink interface {
	PublishSnapshot(ctx context.Context, s models.TrackingSnapshot) error
}

type PollerConfig struct {
	Interval  time.Duration
	Clock     schedule.Clock
	Estimator *eta.Estimator
	Sink      Sink
	Logger    *slog.Logger
	// Origin is the reference point for derived distance and map bounds,
	// usually the device position.
	Origin func() (models.Coord, bool)
}

// Poller polls at most one request at a time. Errors are swallowed; the last
// good snapshot stays published and the next tick runs on schedule.
type Poller struct {
	tracker Tracker
	sess    *session.Session
	cfg     PollerConfig

	mu   sync.Mutex
	task *schedule.Task
	id   int
	gen  uint64

	// held while publishing so Stop can wait out a publish in progress
	publishMu sync.Mutex
	snap      *observable.Value[*models.TrackingSnapshot]
}

func NewPoller(tracker Tracker, sess *session.Session, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = schedule.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = &eta.Estimator{}
	}
	return &Poller{tracker: tracker, sess: sess, cfg: cfg, snap: observable.New[*models.TrackingSnapshot](nil)}
}

// Start polls id, stopping whatever was polled before. Starting the id
// already being polled is a no-op.
func (p *Poller) Start(id int) {
	p.mu.Lock()
	if p.task != nil && p.id == id {
		p.mu.Unlock()
		return
	}
	p.stopLocked()
	p.gen++
	gen := p.gen
	p.id = id
	p.task = schedule.Every(p.cfg.Clock, p.cfg.Interval, func(ctx context.Context) { p.tick(ctx, gen, id) })
	p.mu.Unlock()

	observability.ActivePollers.Inc()
	p.cfg.Logger.Info("tracking started", "request_id", id, "interval", p.cfg.Interval)
	p.clear(id)
}

// Stop cancels the pending tick and clears the snapshot. Once Stop returns no
// snapshot is published, even by a tick already in flight.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.gen++
	p.mu.Unlock()
	p.clear(0)
}

// clear drops the published snapshot unless it belongs to keep.
func (p *Poller) clear(keep int) {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()
	if s := p.snap.Get(); s != nil && (keep == 0 || s.RequestID != keep) {
		p.snap.Set(nil)
	}
}

func (p *Poller) stopLocked() {
	if p.task == nil {
		return
	}
	p.task.Cancel()
	p.task = nil
	observability.ActivePollers.Dec()
	p.cfg.Logger.Info("tracking stopped", "request_id", p.id)
	p.id = 0
}

// Follow keeps the poller in step with a request's status: tracked statuses
// run it, anything else stops it.
func (p *Poller) Follow(id int, status models.Status) {
	if id > 0 && status.Tracked() {
		p.Start(id)
		return
	}
	if cur, ok := p.Running(); ok && (id == 0 || cur == id) {
		p.Stop()
	}
}

// Running returns the polled request id.
func (p *Poller) Running() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, p.task != nil
}

func (p *Poller) Snapshot() *models.TrackingSnapshot { return p.snap.Get() }

func (p *Poller) Subscribe(fn func(*models.TrackingSnapshot)) (unsubscribe func()) {
	return p.snap.Subscribe(fn)
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.task != nil
}

func (p *Poller) tick(ctx context.Context, gen uint64, id int) {
	tok := p.sess.Token()
	if tok == "" {
		observability.PollTicksTotal.WithLabelValues("signed_out").Inc()
		return
	}
	tr, err := p.tracker.Track(ctx, tok, id)
	if err != nil {
		observability.PollTicksTotal.WithLabelValues(failure(err)).Inc()
		if api.IsUnauthorized(err) {
			p.sess.Teardown(context.Background(), "tracking unauthorized")
			return
		}
		p.cfg.Logger.Debug("tracking tick failed", "request_id", id, "error", err)
		return
	}
	snap := p.complete(ctx, tr)
	snap.RequestID = id

	p.publishMu.Lock()
	if !p.current(gen) {
		p.publishMu.Unlock()
		observability.PollTicksTotal.WithLabelValues("dropped").Inc()
		return
	}
	p.snap.Set(&snap)
	p.publishMu.Unlock()
	observability.PollTicksTotal.WithLabelValues("ok").Inc()

	if p.cfg.Sink != nil {
		if err := p.cfg.Sink.PublishSnapshot(ctx, snap); err != nil {
			p.cfg.Logger.Warn("snapshot sink failed", "request_id", id, "error", err)
		}
	}
}

// complete fills distance and ETA the backend left out, and the map bounds.
func (p *Poller) complete(ctx context.Context, tr api.Tracking) models.TrackingSnapshot {
	snap := tr.Snapshot
	var origin models.Coord
	haveOrigin := false
	if p.cfg.Origin != nil {
		origin, haveOrigin = p.cfg.Origin()
	}
	if !tr.HasLocation {
		return snap
	}
	if haveOrigin && (!tr.HasDistance || !tr.HasETA) {
		km, min := p.cfg.Estimator.Estimate(ctx, snap.Location, origin)
		if !tr.HasDistance {
			snap.DistanceKm = km
		}
		if !tr.HasETA {
			snap.ETAMinutes = min
		}
		snap.Derived = true
	}
	if haveOrigin {
		snap.Bounds = geo.Fit(snap.Location, origin)
	} else {
		snap.Bounds = geo.Fit(snap.Location)
	}
	return snap
}

func failure(err error) string {
	if k := api.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
