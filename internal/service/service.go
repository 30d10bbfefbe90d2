package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kringlewatch/internal/alerting"
	"kringlewatch/internal/config"
	"kringlewatch/internal/metrics"
	"kringlewatch/internal/pricewatch"
	"kringlewatch/internal/scheduler"
	"kringlewatch/internal/storage"
	"kringlewatch/internal/trends"
)

const (
	jobTrends = "compute_trends"
	jobPrices = "monitor_prices"
)

// Service orchestrates the daily trend job and the hourly price job.
type Service struct {
	aggregator *trends.Aggregator
	monitor    *pricewatch.Monitor
	dispatcher *alerting.Dispatcher
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	trendsSched   *scheduler.Scheduler
	pricesSched   *scheduler.Scheduler
	trendsLockKey int64
	pricesLockKey int64
	alertsOn      bool
}

// New constructs the job service. locker may be nil to run without overlap protection.
func New(cfg *config.Config, aggregator *trends.Aggregator, monitor *pricewatch.Monitor, dispatcher *alerting.Dispatcher, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	sc := cfg.Scheduler
	return &Service{
		aggregator: aggregator,
		monitor:    monitor,
		dispatcher: dispatcher,
		locker:     locker,
		logger:     logger.With().Str("component", "service").Logger(),
		trendsSched: scheduler.New(scheduler.Options{
			Name:         jobTrends,
			Interval:     sc.TrendsInterval,
			Offset:       sc.TrendsOffset,
			AlignToStart: true,
			StartupDelay: sc.StartupDelay,
		}, logger),
		pricesSched: scheduler.New(scheduler.Options{
			Name:         jobPrices,
			Interval:     sc.PricesInterval,
			Offset:       sc.PricesOffset,
			AlignToStart: true,
			StartupDelay: sc.StartupDelay,
		}, logger),
		trendsLockKey: sc.TrendsLockKey,
		pricesLockKey: sc.PricesLockKey,
		alertsOn:      cfg.Alerting.Enabled,
	}
}

// Run drives both schedules until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.trendsSched.Run(ctx, s.ProcessTrends)
	})
	g.Go(func() error {
		return s.pricesSched.Run(ctx, func(ctx context.Context, at time.Time) error {
			_, err := s.ProcessPrices(ctx, at)
			return err
		})
	})
	return g.Wait()
}

// ProcessTrends runs one trend computation as of at under the trends lock.
func (s *Service) ProcessTrends(ctx context.Context, at time.Time) (err error) {
	unlock, proceed, err := s.acquireLock(ctx, s.trendsLockKey)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Info().Time("at", at).Msg("skip trend run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	defer func() { metrics.RecordJob(jobTrends, started, err) }()

	runLog := s.logger.With().Str("run_id", uuid.NewString()).Str("job", jobTrends).Logger()
	report, err := s.aggregator.ComputeTrends(ctx, at)
	if err != nil {
		return err
	}
	runLog.Info().
		Int("bands_processed", report.Processed).
		Int("bands_failed", len(report.Failed)).
		Int("rows", report.Rows).
		Dur("elapsed", time.Since(started)).
		Msg("trend run complete")
	return nil
}

// ProcessPrices monitors prices as of at and dispatches any resulting alerts.
// It returns the number of alert events generated.
func (s *Service) ProcessPrices(ctx context.Context, at time.Time) (generated int, err error) {
	unlock, proceed, err := s.acquireLock(ctx, s.pricesLockKey)
	if err != nil {
		return 0, err
	}
	if !proceed {
		s.logger.Info().Time("at", at).Msg("skip price run because advisory lock held elsewhere")
		return 0, nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	defer func() { metrics.RecordJob(jobPrices, started, err) }()

	runLog := s.logger.With().Str("run_id", uuid.NewString()).Str("job", jobPrices).Logger()
	events, err := s.monitor.MonitorPrices(ctx, at)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 || !s.alertsOn || s.dispatcher == nil {
		runLog.Info().Int("alerts", len(events)).Bool("alerting", s.alertsOn).Msg("price run complete")
		return len(events), nil
	}

	report, err := s.dispatcher.BundleAndDispatch(ctx, events)
	if err != nil {
		return len(events), fmt.Errorf("dispatch alerts: %w", err)
	}
	runLog.Info().
		Int("alerts", len(events)).
		Int("recipients", report.Recipients).
		Int("sent", report.Sent).
		Int("rate_limited", report.RateLimited).
		Int("deferred", report.Deferred).
		Int("failed", report.Failed).
		Msg("price run complete")
	return len(events), nil
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
