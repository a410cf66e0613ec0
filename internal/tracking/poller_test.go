package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/schedule"
	"github.com/example/roadside-assist/internal/session"
)

type fakeTracker struct {
	mu    sync.Mutex
	calls []int
	err   error
	// block, when set, holds Track until it is closed
	block   chan struct{}
	entered chan struct{}
	km      *float64
}

func (f *fakeTracker) Track(ctx context.Context, token string, id int) (api.Tracking, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	err, block, entered := f.err, f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return api.Tracking{}, err
	}
	t := api.Tracking{
		Snapshot:    models.TrackingSnapshot{RequestID: id, Location: models.Coord{Lat: 13.05, Lon: 80.25}, ETAMinutes: 7},
		HasLocation: true,
		HasETA:      true,
	}
	if f.km != nil {
		t.Snapshot.DistanceKm = *f.km
		t.HasDistance = true
	}
	return t, nil
}

func (f *fakeTracker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(nil, nil)
	if err := s.Login(context.Background(), session.Credentials{Token: "tok", Role: models.RoleUser}); err != nil {
		t.Fatalf("login: %v", err)
	}
	return s
}

func TestPollerTicksAtFixedInterval(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	tr := &fakeTracker{}
	p := NewPoller(tr, newSession(t), PollerConfig{Clock: clock})
	p.Start(501)
	defer p.Stop()

	clock.Advance(0)
	if tr.callCount() != 1 || p.Snapshot() == nil || p.Snapshot().RequestID != 501 {
		t.Fatalf("expected immediate tick and snapshot, calls=%d", tr.callCount())
	}
	clock.Advance(4 * time.Second)
	if tr.callCount() != 1 {
		t.Fatalf("expected no tick before 5s, got %d", tr.callCount())
	}
	clock.Advance(time.Second)
	if tr.callCount() != 2 {
		t.Fatalf("expected second tick at 5s, got %d", tr.callCount())
	}
}

func TestPollerKeepsLastSnapshotOnError(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	tr := &fakeTracker{}
	p := NewPoller(tr, newSession(t), PollerConfig{Clock: clock})
	p.Start(1)
	defer p.Stop()
	clock.Advance(0)
	first := p.Snapshot()

	tr.mu.Lock()
	tr.err = &api.Error{Kind: api.KindNetwork, Op: api.PathTrackMechanic}
	tr.mu.Unlock()
	clock.Advance(5 * time.Second)
	clock.Advance(5 * time.Second)
	if p.Snapshot() != first {
		t.Fatalf("expected previous snapshot kept after failures")
	}
	if tr.callCount() != 3 || clock.Pending() != 1 {
		t.Fatalf("expected polling to continue on schedule, calls=%d pending=%d", tr.callCount(), clock.Pending())
	}
}

func TestPollerStopDropsInFlightResponse(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	tr := &fakeTracker{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := NewPoller(tr, newSession(t), PollerConfig{Clock: clock})

	var mu sync.Mutex
	published := 0
	p.Subscribe(func(s *models.TrackingSnapshot) {
		if s != nil {
			mu.Lock()
			published++
			mu.Unlock()
		}
	})

	p.Start(501)
	done := make(chan struct{})
	go func() {
		clock.Advance(0)
		close(done)
	}()
	<-tr.entered
	p.Stop()
	close(tr.block)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if published != 0 || p.Snapshot() != nil {
		t.Fatalf("expected no snapshot after stop, published=%d", published)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no timer left after stop, got %d", clock.Pending())
	}
}

func TestPollerSwitchReplacesExactlyOneTimer(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	tr := &fakeTracker{}
	p := NewPoller(tr, newSession(t), PollerConfig{Clock: clock})
	p.Start(1)
	clock.Advance(0)
	if clock.Pending() != 1 {
		t.Fatalf("expected one timer, got %d", clock.Pending())
	}

	created := clock.Created()
	p.Start(2)
	if clock.Pending() != 1 || clock.Created() != created+1 {
		t.Fatalf("expected one replacement timer, pending=%d created=%d", clock.Pending(), clock.Created()-created)
	}
	if p.Snapshot() != nil {
		t.Fatalf("expected previous request snapshot cleared")
	}

	// restarting the same id is a no-op
	p.Start(2)
	if clock.Created() != created+1 {
		t.Fatalf("expected no new timer for same id")
	}

	clock.Advance(0)
	clock.Advance(5 * time.Second)
	for _, id := range tr.calls[1:] {
		if id != 2 {
			t.Fatalf("expected only request 2 polled after switch, got %v", tr.calls)
		}
	}
	p.Stop()
}

func TestPollerFollowStopsOnTerminalStatus(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	p := NewPoller(&fakeTracker{}, newSession(t), PollerConfig{Clock: clock})

	p.Follow(9, models.StatusPending)
	if id, ok := p.Running(); !ok || id != 9 {
		t.Fatalf("expected polling of 9")
	}
	p.Follow(9, models.StatusAccepted)
	if clock.Created() != 1 {
		t.Fatalf("expected accepted to keep the same timer, created=%d", clock.Created())
	}
	p.Follow(9, models.StatusCompleted)
	if _, ok := p.Running(); ok || clock.Pending() != 0 {
		t.Fatalf("expected poller stopped for completed request")
	}
}

func TestPollerUnauthorizedTearsDownSession(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	sess := newSession(t)
	tr := &fakeTracker{err: &api.Error{Kind: api.KindUnauthorized, Op: api.PathTrackOwner, Code: 401}}
	p := NewPoller(tr, sess, PollerConfig{Clock: clock})
	p.Start(3)
	defer p.Stop()
	clock.Advance(0)
	if sess.Current().SignedIn() {
		t.Fatalf("expected session torn down")
	}
	clock.Advance(5 * time.Second)
	if tr.callCount() != 1 {
		t.Fatalf("expected no tracking call while signed out, got %d", tr.callCount())
	}
}

func TestPollerDerivesMissingDistance(t *testing.T) {
	clock := schedule.NewManualClock(time.Unix(0, 0))
	origin := models.Coord{Lat: 13.0, Lon: 80.25}
	p := NewPoller(&fakeTracker{}, newSession(t), PollerConfig{
		Clock:  clock,
		Origin: func() (models.Coord, bool) { return origin, true },
	})
	p.Start(4)
	defer p.Stop()
	clock.Advance(0)

	s := p.Snapshot()
	if !s.Derived || s.DistanceKm < 5.5 || s.DistanceKm > 5.6 {
		t.Fatalf("expected derived ~5.56km, got %+v", s)
	}
	if s.ETAMinutes != 7 {
		t.Fatalf("expected server ETA kept, got %d", s.ETAMinutes)
	}
	if s.Bounds == nil || s.Bounds.SouthWest != origin {
		t.Fatalf("expected bounds to include origin, got %+v", s.Bounds)
	}
}
