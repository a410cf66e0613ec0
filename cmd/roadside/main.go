package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/example/roadside-assist/internal/api"
	"github.com/example/roadside-assist/internal/config"
	"github.com/example/roadside-assist/internal/eta"
	httpapi "github.com/example/roadside-assist/internal/http"
	"github.com/example/roadside-assist/internal/ingest"
	"github.com/example/roadside-assist/internal/lifecycle"
	"github.com/example/roadside-assist/internal/logging"
	"github.com/example/roadside-assist/internal/models"
	"github.com/example/roadside-assist/internal/payments"
	"github.com/example/roadside-assist/internal/provider"
	"github.com/example/roadside-assist/internal/session"
	"github.com/example/roadside-assist/internal/storage"
	"github.com/example/roadside-assist/internal/tracking"
)

func main() {
	var envFile string
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		slog.Error("dotenv load failed", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAgentConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("roadside agent stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AgentConfig, logger *slog.Logger) error {
	client := api.NewClient(cfg.APIBaseURL, cfg.APITimeout)
	client.PathSuffix = cfg.APIPathSuffix
	client.Logger = logging.Component(logger, "api")
	if cfg.APIRateLimit > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(cfg.APIRateLimit), cfg.APIRateBurst)
	}

	sess, err := openSession(ctx, cfg, client, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mode, err := lifecycle.ParseReconcileMode(cfg.ReconcileMode)
	if err != nil {
		return err
	}
	opts := lifecycle.Options{Store: store, Mode: mode, Logger: logging.Component(logger, "lifecycle")}
	if cfg.StripeAPIKey != "" {
		opts.Payments = payments.NewStripeClient(cfg.StripeAPIKey, cfg.PaymentCurrency)
	}

	var (
		tracker tracking.Tracker
		pusher  tracking.Pusher
	)
	role := sess.Role()
	if role.IsProvider() {
		p, err := provider.For(role, client)
		if err != nil {
			return err
		}
		opts.Provider = p
		tracker = provider.ProviderTracker(p)
		pusher = p
	} else {
		u := provider.NewUser(client)
		opts.Requester = u
		pusher = u
	}
	ctrl := lifecycle.New(sess, opts)
	defer ctrl.Close()
	if tracker == nil {
		tracker = userTracker{u: opts.Requester, ctrl: ctrl}
	}

	sampler := tracking.NewSampler(deviceLocator(cfg, ctrl, logger), pusher, sess, tracking.SamplerConfig{
		Interval: cfg.SampleInterval,
		Logger:   logging.Component(logger, "sampler"),
	})
	defer sampler.Stop()

	estimator := &eta.Estimator{SpeedMps: cfg.DefaultSpeedMps, Cache: eta.NewCache(cfg.ETACacheTTL)}
	if cfg.OSRMEndpoint != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	pcfg := tracking.PollerConfig{
		Interval:  cfg.PollInterval,
		Estimator: estimator,
		Logger:    logging.Component(logger, "poller"),
		Origin:    origin(sampler, ctrl),
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewSnapshotProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		pcfg.Sink = producer
	}
	poller := tracking.NewPoller(tracker, sess, pcfg)
	defer poller.Stop()

	// the detail view is active while the attached request is tracked
	unfollow := ctrl.Subscribe(func(st lifecycle.State) {
		if st.Request == nil {
			poller.Follow(0, "")
			sampler.Stop()
			return
		}
		poller.Follow(st.Request.ID, st.Request.Status)
		if st.Request.Status.Tracked() {
			sampler.Start(st.Request.ID)
		} else {
			sampler.Stop()
		}
	})
	defer unfollow()

	if cfg.RequestID > 0 {
		if err := ctrl.Attach(ctx, cfg.RequestID); err != nil {
			logger.Warn("attach failed", "request_id", cfg.RequestID, "error", err)
		}
	}

	bridge := httpapi.NewServer(httpapi.Deps{
		Lifecycle: ctrl,
		Tracking:  poller,
		Device:    sampler,
		Session:   sess,
		Auth:      client,
		Logger:    logging.Component(logger, "bridge"),
	})
	go bridge.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      bridge,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("roadside bridge listening", "addr", cfg.HTTPAddr, "role", role, "reconcile_mode", mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openSession restores persisted credentials, then lets SESSION_TOKEN or a
// LOGIN_EMAIL login override them.
func openSession(ctx context.Context, cfg config.AgentConfig, client *api.Client, logger *slog.Logger) (*session.Session, error) {
	var store session.Store = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		store = session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionKey)
	}
	sess := session.New(store, logging.Component(logger, "session"))
	if err := sess.Restore(ctx); err != nil {
		logger.Warn("session restore failed", "error", err)
	}
	switch {
	case cfg.SessionToken != "":
		c := session.Credentials{Token: cfg.SessionToken, Role: models.ParseRole(cfg.SessionRole), Email: cfg.SessionEmail}
		if err := sess.Login(ctx, c); err != nil {
			return nil, err
		}
	case cfg.LoginEmail != "":
		res, err := client.Login(ctx, cfg.LoginEmail, cfg.LoginPassword)
		if err != nil {
			return nil, err
		}
		if err := sess.Login(ctx, session.Credentials{Token: res.Token, Role: res.Role, Email: res.Email}); err != nil {
			return nil, err
		}
	}
	if !sess.Current().SignedIn() || sess.Role() == "" {
		return nil, errors.New("no usable session: set SESSION_TOKEN and SESSION_ROLE, or LOGIN_EMAIL and LOGIN_PASSWORD")
	}
	if sess.Expired() {
		sess.Teardown(ctx, "token expired")
		return nil, errors.New("stored session token has expired")
	}
	return sess, nil
}

func openStore(ctx context.Context, cfg config.AgentConfig, logger *slog.Logger) (storage.RequestStore, func(), error) {
	if cfg.PGDSN == "" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		if err := ps.Migrate(ctx); err != nil {
			ps.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied")
	}
	return ps, func() { _ = ps.Close() }, nil
}

// deviceLocator replays DEVICE_ROUTE when set. Otherwise the device is
// taken to sit where the request was filed.
func deviceLocator(cfg config.AgentConfig, ctrl *lifecycle.Controller, logger *slog.Logger) tracking.Locator {
	if cfg.DeviceRoute == "" {
		return requestLocator{ctrl: ctrl}
	}
	route, err := tracking.ParseRoute(cfg.DeviceRoute)
	if err != nil || len(route) == 0 {
		logger.Warn("invalid DEVICE_ROUTE, using the request location", "error", err)
		return requestLocator{ctrl: ctrl}
	}
	return tracking.NewRouteLocator(route)
}

type requestLocator struct{ ctrl *lifecycle.Controller }

func (l requestLocator) Locate(context.Context) (models.Coord, error) {
	if r := l.ctrl.State().Request; r != nil && r.Location != nil {
		return *r.Location, nil
	}
	return models.Coord{}, errors.New("request has no location")
}

// origin prefers the sampled device position and falls back to the location
// recorded on the request.
func origin(s *tracking.Sampler, ctrl *lifecycle.Controller) func() (models.Coord, bool) {
	return func() (models.Coord, bool) {
		if c, ok := s.Position(); ok {
			return c, true
		}
		if r := ctrl.State().Request; r != nil && r.Location != nil {
			return *r.Location, true
		}
		return models.Coord{}, false
	}
}

// userTracker follows the provider serving the attached request; the route
// depends on whether fuel or a mechanic was ordered.
type userTracker struct {
	u    provider.Requester
	ctrl *lifecycle.Controller
}

func (t userTracker) Track(ctx context.Context, token string, id int) (api.Tracking, error) {
	st := models.ServiceMechanic
	if r := t.ctrl.State().Request; r != nil && r.ID == id && r.ServiceType != "" {
		st = r.ServiceType
	}
	return provider.UserTracker(t.u, st).Track(ctx, token, id)
}
