package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/nova-hub/nova-hub/internal/bus"
	"github.com/nova-hub/nova-hub/internal/catalog"
	"github.com/nova-hub/nova-hub/internal/config"
	"github.com/nova-hub/nova-hub/internal/db"
	"github.com/nova-hub/nova-hub/internal/dosemu"
	"github.com/nova-hub/nova-hub/internal/httpapi"
	"github.com/nova-hub/nova-hub/internal/hubcheck"
	"github.com/nova-hub/nova-hub/internal/hubfs"
	"github.com/nova-hub/nova-hub/internal/kafkaexport"
	"github.com/nova-hub/nova-hub/internal/metrics"
	"github.com/nova-hub/nova-hub/internal/processing"
	"github.com/nova-hub/nova-hub/internal/retention"
	"github.com/nova-hub/nova-hub/internal/sequence"
	"github.com/nova-hub/nova-hub/internal/watcher"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "validate":
		runValidate()
	case "create-client":
		runCreateClient()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: nova-hub <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve           Start the hub service")
	fmt.Println("  migrate         Run database migrations")
	fmt.Println("  validate        Check league directories and node files")
	fmt.Println("  create-client   Register a client and print its credentials")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>     Path to configuration YAML file")
	fmt.Println("  --log-level <lvl>   Override log level (debug, info, warn, error)")
	fmt.Println()
	fmt.Println("create-client options:")
	fmt.Println("  --client-id <id>    Client identifier (default: generated)")
	fmt.Println("  --bbs-name <name>   BBS name (required)")
}

func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if !strings.HasPrefix(args[i], "--") {
			continue
		}
		name := strings.TrimPrefix(args[i], "--")
		if i+1 < len(args) {
			flags[name] = args[i+1]
			i++
		}
	}
	return flags
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	flags := parseFlags(args)

	cfg, err := config.Load(flags["config"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if lvl := flags["log-level"]; lvl != "" {
		cfg.Server.LogLevel = lvl
	}

	logger := initLogger(cfg.Server.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// migrationsDir returns the path to the migrations directory relative to the binary.
func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting nova-hub",
		zap.String("bbs_name", cfg.Hub.BBSName),
		zap.String("http_listen", cfg.Server.HTTPListen),
		zap.Int("leagues", len(cfg.Leagues)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger.Named("db")); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	cat := catalog.New(pool, logger.Named("catalog"))

	layout := hubfs.NewLayout(cfg.Server.DataDir)
	if err := layout.EnsureBase(); err != nil {
		logger.Fatal("failed to prepare data directory", zap.Error(err))
	}

	events := bus.New(logger.Named("bus"))

	runner := dosemu.NewRunner(cfg, layout, logger.Named("dosemu"))
	seq := sequence.NewValidator(cat, logger.Named("sequence"))

	processor := processing.New(cat, runner, seq, events, layout, cfg, logger.Named("processing"))
	processor.Start(ctx)

	w := watcher.New(cat, events, layout, cfg, logger.Named("watcher"))
	if err := w.Start(ctx); err != nil {
		logger.Fatal("failed to start outbound watcher", zap.Error(err))
	}

	var exporter *kafkaexport.Exporter
	if cfg.KafkaEnabled() {
		exporter, err = kafkaexport.New(cfg.Events.Kafka, events, logger.Named("kafka"))
		if err != nil {
			logger.Fatal("failed to create event exporter", zap.Error(err))
		}
		defer exporter.Close()
		exporter.Start(ctx)
		logger.Info("event exporter started",
			zap.Strings("brokers", cfg.Events.Kafka.Brokers),
			zap.String("topic", cfg.Events.Kafka.Topic),
		)
	}

	janitor := retention.New(cat, cfg.Processing.RetentionDays, logger.Named("retention"))
	janitor.Start(ctx)

	go publishStats(ctx, cat, events, logger.Named("stats"))

	server := httpapi.NewServer(cfg, cat, pool, events, layout, processor, logger.Named("http"))
	if err := server.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("nova-hub started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting HTTP traffic first, then tear down the background work.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	cancel()

	logger.Info("nova-hub stopped")
}

// publishStats refreshes the dashboard counters whenever a batch finishes or
// a packet arrives, coalescing bursts to at most one query per second.
func publishStats(ctx context.Context, cat *catalog.Catalog, events *bus.Bus, logger *zap.Logger) {
	sub := events.SubscribeDashboard()
	defer events.Unsubscribe(sub)

	var pending bool
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			switch ev.Type {
			case bus.TypePacketReceived, bus.TypePacketAvailable, bus.TypeProcessingComplete, bus.TypeAlertCreated:
				pending = true
			}
		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			stats, err := cat.Stats(ctx)
			if err != nil {
				logger.Warn("refreshing stats", zap.Error(err))
				continue
			}
			events.Publish(bus.Event{Type: bus.TypeStatsUpdate, Stats: &stats})
		}
	}
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	logger.Info("running migrations",
		zap.String("dsn", redactDSN(cfg.Postgres.DSN)),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func runValidate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	ctx := context.Background()

	// The catalog cross-check is best-effort: validate still works on a host
	// that cannot reach the database.
	var store hubcheck.Store
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Warn("database unavailable, skipping catalog checks", zap.Error(err))
	} else {
		defer pool.Close()
		store = catalog.New(pool, logger.Named("catalog"))
	}

	problems := hubcheck.New(cfg, store).Run(ctx)
	if len(problems) == 0 {
		fmt.Println("OK: no problems found")
		return
	}

	errors := 0
	for _, p := range problems {
		fmt.Println(p)
		if p.Severity == hubcheck.SeverityError {
			errors++
		}
	}
	fmt.Printf("\n%d problem(s), %d error(s)\n", len(problems), errors)
	if errors > 0 {
		os.Exit(1)
	}
}

func runCreateClient() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	flags := parseFlags(os.Args[2:])
	bbsName := flags["bbs-name"]
	if bbsName == "" {
		fmt.Fprintln(os.Stderr, "create-client: --bbs-name is required")
		os.Exit(1)
	}
	clientID := flags["client-id"]
	if clientID == "" {
		clientID = "bbs-" + randomHex(8)
	}
	secret := randomHex(24)

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("hashing secret", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	cat := catalog.New(pool, logger.Named("catalog"))
	client, err := cat.CreateClient(ctx, clientID, string(hashed), bbsName)
	if err != nil {
		logger.Fatal("creating client", zap.Error(err))
	}

	// The secret is shown once; only the hash is stored.
	fmt.Printf("client_id:     %s\n", client.ClientID)
	fmt.Printf("client_secret: %s\n", secret)
	fmt.Printf("bbs_name:      %s\n", client.BBSName)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
