package refresh

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/pseusage/internal/cache"
	"github.com/jgoulah/pseusage/internal/metrics"
	"github.com/jgoulah/pseusage/pkg/models"
)

const (
	defaultPeriod       = 60 * time.Minute
	defaultFetchTimeout = 5 * time.Minute
)

// Fetcher downloads a usage export archive into dir and returns its path
type Fetcher interface {
	Fetch(ctx context.Context, dir string) (string, error)
}

// Extractor builds a snapshot from a downloaded archive
type Extractor interface {
	ExtractEnergyUsage(archivePath string, now time.Time) (models.EnergyUsage, error)
}

// Outcome is the result of one refresh cycle
type Outcome int

const (
	// OutcomeFresh means the snapshot had not expired and nothing was fetched
	OutcomeFresh Outcome = iota
	OutcomeRefreshed
	OutcomeFetchFailed
	OutcomeExtractFailed
	// OutcomePersistFailed means the snapshot was replaced in memory only
	OutcomePersistFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeFetchFailed:
		return "fetch_failed"
	case OutcomeExtractFailed:
		return "extract_failed"
	case OutcomePersistFailed:
		return "persist_failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Updated reports whether the cache holds a new snapshot after the cycle
func (o Outcome) Updated() bool {
	return o == OutcomeRefreshed || o == OutcomePersistFailed
}

// Refresher keeps the cache populated by fetching a new export whenever it expires
type Refresher struct {
	cache     *cache.Cache
	fetcher   Fetcher
	extractor Extractor

	period       time.Duration
	fetchTimeout time.Duration
	forceFirst   bool
	onRefresh    func(context.Context, models.EnergyUsage)

	clock   clockwork.Clock
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// Option configures a Refresher
type Option func(*Refresher)

// WithPeriod sets how often expiration is checked
func WithPeriod(period time.Duration) Option {
	return func(r *Refresher) {
		if period > 0 {
			r.period = period
		}
	}
}

// WithFetchTimeout bounds a single download
func WithFetchTimeout(timeout time.Duration) Option {
	return func(r *Refresher) {
		if timeout > 0 {
			r.fetchTimeout = timeout
		}
	}
}

// WithForceFirstRefresh fetches on start even if the restored snapshot is still fresh
func WithForceFirstRefresh(force bool) Option {
	return func(r *Refresher) {
		r.forceFirst = force
	}
}

// WithOnRefresh registers a callback run after the cache receives a new snapshot
func WithOnRefresh(fn func(context.Context, models.EnergyUsage)) Option {
	return func(r *Refresher) {
		r.onRefresh = fn
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(clock clockwork.Clock) Option {
	return func(r *Refresher) {
		r.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithMetrics records refresh outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Refresher) {
		r.metrics = m
	}
}

// New creates a refresher for c
func New(c *cache.Cache, fetcher Fetcher, extractor Extractor, opts ...Option) *Refresher {
	r := &Refresher{
		cache:        c,
		fetcher:      fetcher,
		extractor:    extractor,
		period:       defaultPeriod,
		fetchTimeout: defaultFetchTimeout,
		clock:        clockwork.NewRealClock(),
		logger:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run checks the cache immediately and then once per period until ctx is cancelled.
// Failed cycles are logged and retried at the next period.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.WithFields(logrus.Fields{
		"period":        r.period.String(),
		"force_refresh": r.forceFirst,
	}).Info("Starting refresh loop")

	if r.forceFirst {
		r.Refresh(ctx)
	} else {
		r.RunOnce(ctx)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger})))
	c.Schedule(cron.Every(r.period), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		r.RunOnce(ctx)
	}))
	c.Start()

	<-ctx.Done()
	r.logger.Info("Stopping refresh loop")
	<-c.Stop().Done()

	return nil
}

// RunOnce refreshes the cache if it has expired
func (r *Refresher) RunOnce(ctx context.Context) Outcome {
	if remaining, ok := r.cache.RemainingUntilExpiration(); ok {
		r.logger.WithField("remaining", remaining.Round(time.Second).String()).Info("Cache is fresh, skipping refresh")
		r.metrics.RefreshCompleted(OutcomeFresh.String(), 0)
		return OutcomeFresh
	}
	return r.Refresh(ctx)
}

// Refresh fetches, extracts and stores a new snapshot regardless of expiration.
// On failure the current snapshot is left untouched.
func (r *Refresher) Refresh(ctx context.Context) Outcome {
	start := r.clock.Now()
	outcome, usage := r.refresh(ctx)

	log := r.logger.WithField("outcome", outcome.String())
	if outcome.Updated() {
		log.WithFields(logrus.Fields{
			"electricity_days": len(usage.Electricity),
			"natural_gas_days": len(usage.NaturalGas),
		}).Info("Refresh completed")
		r.metrics.SetCacheExpiry(r.cache.ExpireAt())
	} else {
		log.Warn("Refresh failed, keeping current snapshot")
	}
	r.metrics.RefreshCompleted(outcome.String(), r.clock.Since(start))

	if outcome.Updated() && r.onRefresh != nil {
		r.onRefresh(ctx, usage)
	}
	return outcome
}

func (r *Refresher) refresh(ctx context.Context) (Outcome, models.EnergyUsage) {
	r.logger.Info("Refreshing usage data")

	dir, err := os.MkdirTemp("", "pse-download-*")
	if err != nil {
		r.logger.WithError(err).Error("Failed to create download directory")
		return OutcomeFetchFailed, models.EnergyUsage{}
	}
	defer os.RemoveAll(dir)

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	archive, err := r.fetcher.Fetch(fetchCtx, dir)
	if err != nil {
		r.logger.WithError(err).Error("Failed to download usage export")
		return OutcomeFetchFailed, models.EnergyUsage{}
	}

	usage, err := r.extractor.ExtractEnergyUsage(archive, r.clock.Now())
	if err != nil {
		r.logger.WithError(err).WithField("archive", archive).Error("Failed to extract usage")
		return OutcomeExtractFailed, models.EnergyUsage{}
	}

	if err := r.cache.Update(usage); err != nil {
		return OutcomePersistFailed, usage
	}
	return OutcomeRefreshed, usage
}

// cronLogger adapts logrus to the cron scheduler's logger
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
