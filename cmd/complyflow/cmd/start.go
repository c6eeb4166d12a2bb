package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/complyflow/complyflow/internal/adapter/inbound/admin"
	"github.com/complyflow/complyflow/internal/adapter/inbound/http"
	"github.com/complyflow/complyflow/internal/adapter/inbound/kafkaingest"
	"github.com/complyflow/complyflow/internal/adapter/inbound/natsingest"
	"github.com/complyflow/complyflow/internal/adapter/outbound/actions"
	"github.com/complyflow/complyflow/internal/adapter/outbound/cel"
	"github.com/complyflow/complyflow/internal/adapter/outbound/memory"
	"github.com/complyflow/complyflow/internal/adapter/outbound/rulefile"
	"github.com/complyflow/complyflow/internal/adapter/outbound/sqlite"
	"github.com/complyflow/complyflow/internal/config"
	"github.com/complyflow/complyflow/internal/domain/action"
	"github.com/complyflow/complyflow/internal/domain/auth"
	"github.com/complyflow/complyflow/internal/domain/automation"
	"github.com/complyflow/complyflow/internal/domain/condition"
	"github.com/complyflow/complyflow/internal/domain/ratelimit"
	"github.com/complyflow/complyflow/internal/domain/workitem"
	"github.com/complyflow/complyflow/internal/service"
	"github.com/complyflow/complyflow/internal/telemetry"
)

var devMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rule engine server",
	Long: `Start the complyflow server.

The server ingests events over HTTP (and optionally NATS and Kafka), runs
them through the rule engine and serves the admin API under /admin/api/.

Examples:
  # Start with config file
  complyflow start

  # Start in development mode (dev-api-key, debug logging, localhost admin without a key)
  complyflow start --dev`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The --dev flag wins over the config file.
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("loaded config",
		"file", config.ConfigFileUsed(),
		"dev_mode", cfg.DevMode,
		"store", cfg.Store.Driver,
	)

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	if cfg.DevMode {
		logger.Warn("development mode: admin API open to localhost without a key, do not use in production")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdownTelemetry, err := telemetry.Setup(telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval, time.Minute),
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close(logger)

	history, err := createExecutionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.Warn("failed to close execution log", "error", err)
		}
	}()

	registryOfActions := action.NewRegistry()
	actions.RegisterDefaults(registryOfActions, st.inbox, st.items,
		actions.WithWebhookTimeout(config.Duration(cfg.Engine.WebhookTimeout, 10*time.Second)),
		actions.WithPrivateTargets(cfg.Engine.WebhookAllowPrivate),
	)
	executor := action.NewExecutor(registryOfActions, logger,
		action.WithActionTimeout(config.Duration(cfg.Engine.ActionTimeout, 30*time.Second)),
		action.WithLiveSideEffectsInDryRun(cfg.Harness.AllowLiveSideEffects),
	)

	engineMetrics := service.NewEngineMetrics(registry)
	engineOpts := []service.EngineOption{
		service.WithRecorder(history),
		service.WithEngineMetrics(engineMetrics),
		service.WithTracer(otel.Tracer("github.com/complyflow/complyflow")),
	}
	var expressions service.ExpressionValidator
	if cfg.Engine.GuardExpressions {
		guard, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create guard evaluator: %w", err)
		}
		engineOpts = append(engineOpts, service.WithGuard(guard))
		expressions = guard
	}

	engine := service.NewRuleEngine(st.rules, condition.New(), executor, logger, engineOpts...)
	harness := service.NewTestHarness(engine)
	ruleAdmin := service.NewRuleAdminService(st.rules, registryOfActions.Has, expressions, logger)

	if cfg.Rules.SeedFile != "" {
		seed, err := rulefile.Load(cfg.Rules.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to load seed rules: %w", err)
		}
		n, err := ruleAdmin.SeedRules(ctx, seed)
		if err != nil {
			return fmt.Errorf("failed to seed rules: %w", err)
		}
		logger.Info("seeded rules", "file", cfg.Rules.SeedFile, "added", n, "in_file", len(seed))
	}

	bus := service.NewEventBus(engine, logger,
		service.WithWorkers(cfg.Engine.Workers),
		service.WithQueueSize(cfg.Engine.QueueSize),
		service.WithPublishTimeout(config.Duration(cfg.Engine.PublishTimeout, 100*time.Millisecond)),
		service.WithRetry(uint64(cfg.Engine.MaxRetries), config.Duration(cfg.Engine.RetryInterval, 200*time.Millisecond)),
		service.WithBusMetrics(engineMetrics),
	)
	bus.Start(ctx)
	// Stop drains the queue, so it runs after every producer is gone.
	defer bus.Stop()

	if cfg.Telemetry.Enabled {
		if err := telemetry.ObserveBus(otel.Meter("github.com/complyflow/complyflow"), bus); err != nil {
			logger.Warn("failed to register bus gauges", "error", err)
		}
	}

	var publisher service.EventPublisher = bus
	if q := cfg.Ingest.TenantQuota; q.Enabled {
		limiter := memory.NewRateLimiter()
		limiter.StartCleanup(ctx)
		defer limiter.Stop()
		publisher = service.NewTenantQuota(bus, limiter, ratelimit.Config{
			Rate:   q.Rate,
			Burst:  q.Burst,
			Period: config.Duration(q.Period, time.Second),
		}, logger, service.WithQuotaMetrics(engineMetrics))
		logger.Debug("tenant quota enabled", "rate", q.Rate, "burst", q.Burst, "period", q.Period)
	}

	keyring, err := buildKeyring(cfg.Auth.Keys)
	if err != nil {
		return err
	}

	apiOpts := []admin.AdminAPIOption{
		admin.WithRuleAdminService(ruleAdmin),
		admin.WithTestHarness(harness),
		admin.WithExecutionHistory(history),
		admin.WithInbox(st.inbox),
		admin.WithItems(st.items),
		admin.WithDevMode(cfg.DevMode),
		admin.WithActionTypes(registryOfActions.Types),
		admin.WithAPILogger(logger),
		admin.WithBuildInfo(&admin.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		admin.WithStartTime(startTime),
		admin.WithRateLimit(cfg.Server.AdminRateLimit, time.Minute),
	}
	serverOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithRegistry(registry),
		http.WithMaxBodyBytes(cfg.Server.MaxEventBytes),
		http.WithHealthChecker(http.NewHealthChecker(st.pinger(), bus, Version)),
	}
	if keyring != nil {
		apiOpts = append(apiOpts, admin.WithKeyring(keyring))
		serverOpts = append(serverOpts, http.WithAuthenticator(keyring))
	}
	if cfg.Server.TLSCertFile != "" {
		serverOpts = append(serverOpts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	apiHandler := admin.NewAdminAPIHandler(apiOpts...)
	serverOpts = append(serverOpts, http.WithAdminHandler(apiHandler.Routes()))
	server := http.NewServer(publisher, serverOpts...)

	ruleCount, _ := st.countRules(ctx)
	logger.Info("complyflow starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"store", cfg.Store.Driver,
		"rules", ruleCount,
		"workers", cfg.Engine.Workers,
		"guard_expressions", cfg.Engine.GuardExpressions,
		"nats", cfg.Ingest.NATS.Enabled,
		"kafka", cfg.Ingest.Kafka.Enabled,
		"tenant_quota", cfg.Ingest.TenantQuota.Enabled,
	)
	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, cfg.Store.Driver, ruleCount, ingestSources(cfg))

	// ingestCtx stops the NATS and Kafka consumers before the bus drains.
	ingestCtx, cancelIngest := context.WithCancel(ctx)
	defer cancelIngest()
	var ingestWG sync.WaitGroup
	errCh := make(chan error, 3)

	if cfg.Ingest.NATS.Enabled {
		sub := natsingest.New(natsingest.Config{
			URL:     cfg.Ingest.NATS.URL,
			Subject: cfg.Ingest.NATS.Subject,
			Queue:   cfg.Ingest.NATS.Queue,
			Token:   cfg.Ingest.NATS.Token,
		}, publisher,
			natsingest.WithLogger(logger),
			natsingest.WithMetrics(natsingest.NewMetrics(registry)),
		)
		if err := sub.Start(ingestCtx); err != nil {
			return fmt.Errorf("failed to start nats ingest: %w", err)
		}
		ingestWG.Add(1)
		go func() {
			defer ingestWG.Done()
			<-ingestCtx.Done()
			if err := sub.Close(); err != nil {
				logger.Warn("nats ingest close failed", "error", err)
			}
		}()
	}

	if cfg.Ingest.Kafka.Enabled {
		consumer, err := kafkaingest.New(kafkaingest.Config{
			Brokers: cfg.Ingest.Kafka.Brokers,
			Topic:   cfg.Ingest.Kafka.Topic,
			GroupID: cfg.Ingest.Kafka.GroupID,
		}, publisher,
			kafkaingest.WithLogger(logger),
			kafkaingest.WithMetrics(kafkaingest.NewMetrics(registry)),
		)
		if err != nil {
			return fmt.Errorf("failed to create kafka ingest: %w", err)
		}
		ingestWG.Add(1)
		go func() {
			defer ingestWG.Done()
			defer func() {
				if err := consumer.Close(); err != nil {
					logger.Warn("kafka ingest close failed", "error", err)
				}
			}()
			if err := consumer.Run(ingestCtx); err != nil {
				errCh <- fmt.Errorf("kafka ingest: %w", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = err
	case err := <-errCh:
		runErr = err
		if cerr := server.Close(); cerr != nil {
			logger.Warn("http server close failed", "error", cerr)
		}
		<-serverErr
	}

	cancelIngest()
	ingestWG.Wait()
	logger.Info("ingest stopped, draining event bus", "queued", bus.QueueDepth())
	return runErr
}

// stores groups the persistence adapters selected by store.driver.
type stores struct {
	rules automation.RuleStore
	inbox workitem.Inbox
	items workitem.Sink
	db    *sqlite.DB
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Store.Driver != "sqlite" {
		logger.Debug("store: memory")
		return &stores{
			rules: memory.NewRuleStore(),
			inbox: memory.NewInbox(),
			items: memory.NewItemStore(),
		}, nil
	}
	db, err := sqlite.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store %s: %w", cfg.Store.Path, err)
	}
	logger.Debug("store: sqlite", "path", cfg.Store.Path)
	return &stores{
		rules: sqlite.NewRuleStore(db),
		inbox: sqlite.NewInbox(db),
		items: sqlite.NewItemStore(db),
		db:    db,
	}, nil
}

// pinger returns the database for health checks, or nil for the memory store.
func (s *stores) pinger() http.Pinger {
	if s.db == nil {
		return nil
	}
	return s.db
}

func (s *stores) countRules(ctx context.Context) (int, error) {
	rules, err := s.rules.ListRules(ctx, "", automation.RuleFilter{})
	if err != nil {
		return 0, err
	}
	return len(rules), nil
}

func (s *stores) close(logger *slog.Logger) {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("failed to close sqlite store", "error", err)
	}
}

// createExecutionStore builds the execution history. Records are kept in a
// ring buffer and, when execution_log.file is set, appended as JSON lines to
// stdout or a rotated file.
func createExecutionStore(cfg *config.Config, logger *slog.Logger) (*memory.MemoryExecutionStore, error) {
	lc := cfg.ExecutionLog
	var w io.Writer
	switch {
	case lc.File == "":
		logger.Debug("execution log: memory only", "buffer_size", lc.BufferSize)
	case lc.File == "stdout":
		w = os.Stdout
		logger.Debug("execution log: stdout", "buffer_size", lc.BufferSize)
	case strings.HasPrefix(lc.File, "file://"):
		return nil, errors.New("execution_log.file takes a plain path, not a file:// URI")
	default:
		w = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   lc.Compress,
		}
		logger.Debug("execution log: file", "path", lc.File, "max_size_mb", lc.MaxSizeMB, "buffer_size", lc.BufferSize)
	}
	return memory.NewExecutionStoreWithWriter(w, lc.BufferSize), nil
}

// buildKeyring converts configured keys into a keyring. It returns nil when
// no keys are configured.
func buildKeyring(keys []config.APIKeyConfig) (*auth.Keyring, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	apiKeys := make([]auth.APIKey, 0, len(keys))
	for _, k := range keys {
		roles := make([]auth.Role, 0, len(k.Roles))
		for _, r := range k.Roles {
			roles = append(roles, auth.Role(r))
		}
		key := auth.APIKey{
			Key: k.KeyHash,
			Identity: auth.Identity{
				ID:      k.Name,
				Name:    k.Name,
				Roles:   roles,
				Tenants: k.Tenants,
			},
		}
		if k.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, k.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("key %q: invalid expires_at: %w", k.Name, err)
			}
			t = t.UTC()
			key.ExpiresAt = &t
		}
		apiKeys = append(apiKeys, key)
	}
	return auth.NewKeyring(apiKeys), nil
}

func ingestSources(cfg *config.Config) []string {
	sources := []string{"http"}
	if cfg.Ingest.NATS.Enabled {
		sources = append(sources, "nats:"+cfg.Ingest.NATS.Subject)
	}
	if cfg.Ingest.Kafka.Enabled {
		sources = append(sources, "kafka:"+cfg.Ingest.Kafka.Topic)
	}
	return sources
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a startup banner to stderr.
func printBanner(version, httpAddr string, devMode bool, store string, ruleCount int, sources []string) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	base := "http://" + httpAddr
	if strings.HasPrefix(httpAddr, ":") {
		base = "http://localhost" + httpAddr
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset + dim + " (localhost admin without key)" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s complyflow %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Events:", base+"/api/v1/events")
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Admin API:", base+"/admin/api/")
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Store:", store)
	fmt.Fprintf(os.Stderr, "  %-14s %d loaded\n", "Rules:", ruleCount)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Ingest:", strings.Join(sources, ", "))
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
