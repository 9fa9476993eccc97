package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360studio/semguard/config"
	"github.com/c360studio/semguard/inference"
	"github.com/c360studio/semguard/journal"
	"github.com/c360studio/semguard/lock"
	"github.com/c360studio/semguard/metrics"
	"github.com/c360studio/semguard/plan"
	"github.com/c360studio/semguard/shacl"
	"github.com/c360studio/semguard/staging"
	"github.com/c360studio/semguard/storage"
	"github.com/c360studio/semguard/storage/graphdb"
	"github.com/c360studio/semguard/validation"
	"github.com/c360studio/semguard/vocabulary/checkin"
)

// app wires configuration into components. Components are built on first
// use so that plan commands never touch the store or NATS.
type app struct {
	cfg      *config.Config
	flags    *globalFlags
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store   storage.Store
	locker  lock.Locker
	journal *journal.Journal
	closers []func()
}

func newApp(g *globalFlags) (*app, error) {
	logger := slog.Default()
	cfg, err := config.NewLoader(logger).Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.storeURL != "" {
		cfg.Store.URL = g.storeURL
	}
	if g.journalPath != "" {
		cfg.Journal.Path = g.journalPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return &app{
		cfg:      cfg,
		flags:    g,
		logger:   logger,
		registry: reg,
		metrics:  m,
	}, nil
}

// close releases resources in reverse order and writes the metrics file.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.flags.metricsFile != "" {
		if err := prometheus.WriteToTextfile(a.flags.metricsFile, a.registry); err != nil {
			a.logger.Warn("Failed to write metrics file", "path", a.flags.metricsFile, "error", err)
		}
	}
}

func (a *app) storeClient() storage.Store {
	if a.store != nil {
		return a.store
	}
	opts := []graphdb.ClientOption{
		graphdb.WithLogger(a.logger),
		graphdb.WithTimeout(a.cfg.Store.Timeout),
	}
	if a.cfg.Store.Username != "" {
		opts = append(opts, graphdb.WithBasicAuth(a.cfg.Store.Username, a.cfg.Store.Password))
	}
	if a.cfg.Store.RateLimit > 0 {
		burst := max(1, int(a.cfg.Store.RateLimit))
		opts = append(opts, graphdb.WithRateLimiter(rate.NewLimiter(rate.Limit(a.cfg.Store.RateLimit), burst)))
	}
	a.store = graphdb.NewClient(a.cfg.Store.URL, opts...)
	return a.store
}

func (a *app) repositoryLocker(ctx context.Context) (lock.Locker, error) {
	if a.locker != nil {
		return a.locker, nil
	}
	if a.cfg.Lock.Mode != config.LockModeNATS {
		a.locker = lock.NewLocalLocker(lock.WithWait(a.cfg.Lock.Wait))
		return a.locker, nil
	}

	url := a.cfg.Lock.NATSURL
	a.logger.Debug("Connecting to NATS", "url", url)
	nc, err := nats.Connect(url, nats.Name(appName))
	if err != nil {
		return nil, wrapNATSError(err, url)
	}
	a.closers = append(a.closers, func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	})

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      a.cfg.Lock.Bucket,
		Description: "semguard repository leases",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure lock bucket %s: %w", a.cfg.Lock.Bucket, err)
	}

	a.locker = lock.NewKVLocker(kv,
		lock.WithLeaseTTL(a.cfg.Lock.LeaseTTL),
		lock.WithKVWait(a.cfg.Lock.Wait),
		lock.WithKVLogger(a.logger))
	return a.locker, nil
}

// wrapNATSError provides guidance when the NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start NATS, point lock.nats_url at a running server,
or set lock.mode to "local" for single-process use.`, err, url)
	}
	return fmt.Errorf("NATS connection failed: %w", err)
}

// runJournal returns nil when journaling is disabled.
func (a *app) runJournal() (*journal.Journal, error) {
	if a.journal != nil || a.cfg.Journal.Path == "" {
		return a.journal, nil
	}
	j, err := journal.Open(a.cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	a.journal = j
	a.closers = append(a.closers, func() {
		if err := j.Close(); err != nil {
			a.logger.Warn("Failed to close journal", "error", err)
		}
	})
	return j, nil
}

func (a *app) inferenceManager(ctx context.Context) (*inference.Manager, error) {
	l, err := a.repositoryLocker(ctx)
	if err != nil {
		return nil, err
	}
	return inference.NewManager(a.storeClient(),
		inference.WithLocker(l),
		inference.WithRetry(a.cfg.RetryPolicy()),
		inference.WithPolling(a.cfg.Inference.PollInterval, a.cfg.Inference.PollTimeout),
		inference.WithLogger(a.logger)), nil
}

func (a *app) localValidator() *validation.LocalValidator {
	return validation.NewLocalValidator(shacl.New(a.logger), validation.WithLogger(a.logger))
}

func (a *app) coordinator(ctx context.Context) (*staging.Coordinator, error) {
	mgr, err := a.inferenceManager(ctx)
	if err != nil {
		return nil, err
	}
	l, err := a.repositoryLocker(ctx)
	if err != nil {
		return nil, err
	}
	opts := []staging.Option{
		staging.WithLocker(l),
		staging.WithInferenceManager(mgr),
		staging.WithRetry(a.cfg.RetryPolicy()),
		staging.WithStagingPrefix(a.cfg.Store.StagingPrefix),
		staging.WithMetrics(a.metrics),
		staging.WithLogger(a.logger),
	}
	j, err := a.runJournal()
	if err != nil {
		return nil, err
	}
	if j != nil {
		opts = append(opts, staging.WithJournal(j))
	}
	return staging.NewCoordinator(a.storeClient(), a.localValidator(), opts...), nil
}

func (a *app) planValidator() *plan.Validator {
	opts := []plan.Option{
		plan.WithBackupSuffix(a.cfg.Plan.BackupSuffix),
		plan.WithMetrics(a.metrics),
		plan.WithLogger(a.logger),
	}
	if len(a.cfg.Plan.RequiredPrefixes) > 0 {
		opts = append(opts, plan.WithRequiredPrefixes(requiredPrefixes(a.cfg.Plan.RequiredPrefixes)))
	}
	return plan.NewValidator(opts...)
}

func requiredPrefixes(m map[string]string) []checkin.Prefix {
	out := make([]checkin.Prefix, 0, len(m))
	for name, ns := range m {
		out = append(out, checkin.Prefix{Name: name, Namespace: ns})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
