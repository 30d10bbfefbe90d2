package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kringlewatch/internal/alerting"
	"kringlewatch/internal/config"
	"kringlewatch/internal/metrics"
	"kringlewatch/internal/pricewatch"
	"kringlewatch/internal/service"
	"kringlewatch/internal/storage"
	"kringlewatch/internal/storage/clickhouse"
	"kringlewatch/internal/trends"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime holds the connections opened for one command.
type runtime struct {
	store   *storage.Store
	signals storage.SignalStore
	cache   *trends.CachedReader
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// reader returns the cached trend reader when redis is configured.
func (r *runtime) reader() trends.Source {
	if r.cache != nil {
		return r.cache
	}
	return trends.NewReader(r.store, r.store)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// open connects Postgres, the configured signal backend and the optional redis cache.
func (a *App) open(ctx context.Context, withCache bool) (*runtime, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt := &runtime{store: store, signals: store, closers: []func(){closeStore}}

	if a.Config.Signals.Backend == "clickhouse" {
		conn, err := clickhouse.Open(ctx, a.Config.ClickHouse.DSN, a.Config.ClickHouse.DialTimeout)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.signals = clickhouse.NewSignalStore(conn)
		rt.closers = append(rt.closers, func() { _ = conn.Close() })
	}

	if withCache && a.Config.Redis.Enabled {
		rc, err := a.openRedis(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("redis unavailable; trend cache disabled")
		} else {
			rt.cache = trends.NewCachedReader(trends.NewReader(store, store), rc, a.Config.Trends.CacheTTL, a.Logger)
			rt.closers = append(rt.closers, func() { _ = rc.Close() })
		}
	}
	return rt, nil
}

func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	opt, err := redis.ParseURL(a.Config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if a.Config.Redis.DB != 0 {
		opt.DB = a.Config.Redis.DB
	}

	rc := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rc, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Channel == "resend" {
		cfg := a.Config.Alerting.Resend
		return alerting.NewResendNotifier(cfg.APIKey, cfg.From, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) dispatchPolicy() (alerting.Policy, error) {
	loc, err := a.Config.Alerting.Location()
	if err != nil {
		return alerting.Policy{}, err
	}
	return alerting.Policy{
		DailyLimit: a.Config.Alerting.DailyLimit,
		QuietStart: a.Config.Alerting.QuietStart,
		QuietEnd:   a.Config.Alerting.QuietEnd,
		Location:   loc,
	}, nil
}

func (a *App) newAggregator(rt *runtime, trendStore storage.TrendStore) *trends.Aggregator {
	agg := trends.NewAggregator(rt.store, rt.signals, rt.store, trendStore, trends.Options{
		TopN:   a.Config.Trends.TopN,
		Window: a.Config.Trends.Window,
	}, a.Logger)
	if rt.cache != nil {
		agg.WithInvalidator(rt.cache)
	}
	return agg
}

func (a *App) newMonitor(rt *runtime) *pricewatch.Monitor {
	return pricewatch.NewMonitor(rt.store, rt.store, rt.store, rt.store, pricewatch.Options{
		Lookback:     a.Config.Monitor.Lookback,
		DedupeWindow: a.Config.Monitor.DedupeWindow,
	}, a.Logger)
}

func (a *App) newService(rt *runtime) (*service.Service, error) {
	policy, err := a.dispatchPolicy()
	if err != nil {
		return nil, err
	}
	dispatcher := alerting.NewDispatcher(rt.store, a.newNotifier(), policy, a.Logger)
	return service.New(a.Config, a.newAggregator(rt, rt.store), a.newMonitor(rt), dispatcher, rt.store, a.Logger), nil
}

// Run executes the long-running scheduler for both jobs.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := a.newService(rt)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, a.Logger)
		})
	}
	g.Go(func() error {
		a.Logger.Info().
			Str("signals_backend", a.Config.Signals.Backend).
			Str("alert_channel", a.Config.Alerting.Channel).
			Msg("starting scheduler")
		return svc.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduler stopped")
	return nil
}

// ComputeTrends runs the trend job once as of at.
func (a *App) ComputeTrends(ctx context.Context, at time.Time) error {
	rt, err := a.open(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := a.newService(rt)
	if err != nil {
		return err
	}
	return svc.ProcessTrends(ctx, at.UTC())
}

// MonitorPrices runs the price job once as of at.
func (a *App) MonitorPrices(ctx context.Context, at time.Time) error {
	rt, err := a.open(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := a.newService(rt)
	if err != nil {
		return err
	}
	generated, err := svc.ProcessPrices(ctx, at.UTC())
	if err != nil {
		return err
	}
	a.Logger.Info().Int("alerts", generated).Msg("price monitoring done")
	return nil
}

// ExportOptions hold parameters for exporting price history and trends.
type ExportOptions struct {
	OfferID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	XLSXPath  string
	MaxPoints int
}

// ShowTrendsOptions configure the trends command.
type ShowTrendsOptions struct {
	Band string
	JSON bool
}

// ShowAlertsOptions configure the alerts command.
type ShowAlertsOptions struct {
	Email string
	Days  int
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// SimulateOptions describe a synthetic alert.
type SimulateOptions struct {
	Email       string
	Title       string
	OldCents    int64
	NewCents    int64
	Restock     bool
	IgnoreQuiet bool
}
