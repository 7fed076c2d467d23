// Command server starts the stream control API and the ad-break dispatch
// worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/api"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/feed"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/injector"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/observability/logging"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/observability/metrics"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/registry"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/scheduler"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/server"
	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/storage"
)

const defaultDispatchInterval = 15 * time.Second

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	injectorURL := flag.String("injector-url", "", "base URL of the stream control boundary")
	injectorToken := flag.String("injector-token", "", "bearer token for the stream control boundary")
	deliveryMode := flag.String("delivery-mode", "", "cue delivery mode (live or simulated)")
	injectorTimeout := flag.Duration("injector-timeout", 0, "timeout for a single cue delivery call")
	dispatchInterval := flag.Duration("dispatch-interval", 0, "interval between dispatch ticks")
	dispatchWindow := flag.Duration("dispatch-window", 0, "look-ahead window when scanning due schedules")
	dispatchConcurrency := flag.Int("dispatch-concurrency", 0, "maximum concurrent cue dispatches per tick")
	dispatchMaxRetries := flag.Int("dispatch-max-retries", -1, "delivery retries after the first failed attempt")
	feedDriver := flag.String("feed-driver", "", "execution feed driver (none or redis)")
	feedRedisAddr := flag.String("feed-redis-addr", "", "Redis address for the execution feed")
	feedRedisAddrs := flag.String("feed-redis-addrs", "", "comma separated Redis addresses for the execution feed")
	feedRedisUsername := flag.String("feed-redis-username", "", "Redis username for the execution feed")
	feedRedisPassword := flag.String("feed-redis-password", "", "Redis password for the execution feed")
	feedRedisStream := flag.String("feed-redis-stream", "", "Redis stream key for execution events")
	feedRedisMasterName := flag.String("feed-redis-sentinel-master", "", "Redis sentinel master name for the execution feed")
	feedRedisPoolSize := flag.Int("feed-redis-pool-size", 0, "maximum Redis connections for the execution feed")
	hookToken := flag.String("hook-token", "", "shared token authorizing publish hook callbacks")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	hookLimit := flag.Int("rate-hook-limit", 0, "maximum publish hook callbacks per window for a single IP")
	hookWindow := flag.Duration("rate-hook-window", 0, "window for counting publish hook callbacks")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed hook throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed hook throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("SCTE_STREAMCONTROL_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("SCTE_STREAMCONTROL_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := resolveListenAddr(*addr, os.Getenv("SCTE_STREAMCONTROL_ADDR"))
	resolvedDSN := firstNonEmpty(*postgresDSN, os.Getenv("SCTE_STREAMCONTROL_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("SCTE_STREAMCONTROL_STORAGE_DRIVER"), resolvedDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("SCTE_STREAMCONTROL_DATA"))
		store, err = storage.NewJSONRepository(dataFile, storage.WithLogger(logging.WithComponent(logger, "storage")))
	case "postgres":
		if resolvedDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		store, err = storage.NewPostgresRepository(openCtx, storage.PostgresConfig{
			DSN:                 resolvedDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "SCTE_STREAMCONTROL_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "SCTE_STREAMCONTROL_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "SCTE_STREAMCONTROL_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "SCTE_STREAMCONTROL_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "SCTE_STREAMCONTROL_POSTGRES_HEALTH_INTERVAL", 0),
			AcquireTimeout:      resolveDuration(*postgresAcquireTimeout, "SCTE_STREAMCONTROL_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("SCTE_STREAMCONTROL_POSTGRES_APP_NAME")),
			Logger:              logging.WithComponent(logger, "storage"),
		})
		cancel()
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	boundary, err := injector.New(injector.Config{
		BaseURL: firstNonEmpty(*injectorURL, os.Getenv("SCTE_STREAMCONTROL_INJECTOR_URL")),
		Token:   firstNonEmpty(*injectorToken, os.Getenv("SCTE_STREAMCONTROL_INJECTOR_TOKEN")),
		Mode:    injector.DeliveryMode(firstNonEmpty(*deliveryMode, os.Getenv("SCTE_STREAMCONTROL_DELIVERY_MODE"))),
		Timeout: resolveDuration(*injectorTimeout, "SCTE_STREAMCONTROL_INJECTOR_TIMEOUT", 0),
	})
	if err != nil {
		logger.Error("failed to configure injector", "error", err)
		os.Exit(1)
	}

	feedCfg := feed.RedisConfig{
		Addr:       firstNonEmpty(*feedRedisAddr, os.Getenv("SCTE_STREAMCONTROL_FEED_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*feedRedisAddrs, os.Getenv("SCTE_STREAMCONTROL_FEED_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*feedRedisUsername, os.Getenv("SCTE_STREAMCONTROL_FEED_REDIS_USERNAME")),
		Password:   firstNonEmpty(*feedRedisPassword, os.Getenv("SCTE_STREAMCONTROL_FEED_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*feedRedisStream, os.Getenv("SCTE_STREAMCONTROL_FEED_REDIS_STREAM")),
		MasterName: firstNonEmpty(*feedRedisMasterName, os.Getenv("SCTE_STREAMCONTROL_FEED_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*feedRedisPoolSize, "SCTE_STREAMCONTROL_FEED_REDIS_POOL_SIZE"),
	}
	eventFeed, err := configureFeed(firstNonEmpty(*feedDriver, os.Getenv("SCTE_STREAMCONTROL_FEED_DRIVER")), feedCfg)
	if err != nil {
		logger.Error("failed to configure execution feed", "error", err)
		os.Exit(1)
	}

	streams := registry.New(
		registry.WithLogger(logging.WithComponent(logger, "registry")),
		registry.WithMetrics(recorder),
	)

	dispatcher, err := scheduler.New(scheduler.Config{
		Store:         store,
		Injector:      boundary,
		Feed:          eventFeed,
		Logger:        logging.WithComponent(logger, "scheduler"),
		Metrics:       recorder,
		Window:        resolveDuration(*dispatchWindow, "SCTE_STREAMCONTROL_DISPATCH_WINDOW", 0),
		InjectTimeout: resolveDuration(*injectorTimeout, "SCTE_STREAMCONTROL_INJECTOR_TIMEOUT", 0),
		MaxConcurrent: resolveInt(*dispatchConcurrency, "SCTE_STREAMCONTROL_DISPATCH_CONCURRENCY"),
		MaxRetries:    resolveRetries(*dispatchMaxRetries, "SCTE_STREAMCONTROL_DISPATCH_MAX_RETRIES"),
	})
	if err != nil {
		logger.Error("failed to configure dispatcher", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, streams, dispatcher)
	handler.Boundary = boundary
	handler.HookToken = firstNonEmpty(*hookToken, os.Getenv("SCTE_STREAMCONTROL_HOOK_TOKEN"))
	handler.Logger = logging.WithComponent(logger, "api")

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("SCTE_STREAMCONTROL_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("SCTE_STREAMCONTROL_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "SCTE_STREAMCONTROL_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "SCTE_STREAMCONTROL_RATE_GLOBAL_BURST"),
			HookLimit:     resolveInt(*hookLimit, "SCTE_STREAMCONTROL_RATE_HOOK_LIMIT"),
			HookWindow:    resolveDuration(*hookWindow, "SCTE_STREAMCONTROL_RATE_HOOK_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("SCTE_STREAMCONTROL_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("SCTE_STREAMCONTROL_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "SCTE_STREAMCONTROL_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS:    server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("SCTE_STREAMCONTROL_CORS_ORIGINS")))},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	interval := resolveDuration(*dispatchInterval, "SCTE_STREAMCONTROL_DISPATCH_INTERVAL", defaultDispatchInterval)
	dispatchStop := startDispatchWorker(workerCtx, logging.WithComponent(logger, "dispatch-worker"), dispatcher, interval)

	logger.Info("stream control API listening", "addr", listenAddr, "storage", driver, "delivery_mode", string(boundary.Mode()))
	logger.Info("metrics endpoint available", "path", "/metrics")

	err = srv.Run(runCtx, server.RunConfig{})
	if err != nil {
		logger.Error("server error", "error", err)
	}

	workerCancel()
	dispatchStop()
	dispatcher.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := eventFeed.Close(); err != nil {
		logger.Warn("failed to close execution feed", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

func configureFeed(driver string, cfg feed.RedisConfig) (feed.Feed, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none":
		return feed.Noop{}, nil
	case "redis":
		return feed.NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported feed driver %q", driver)
	}
}

func resolveListenAddr(flagValue, envValue string) string {
	if addr := strings.TrimSpace(flagValue); addr != "" {
		return addr
	}
	if addr := strings.TrimSpace(envValue); addr != "" {
		return addr
	}
	return ":8085"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envValue))
	}
	if driver == "" {
		if strings.TrimSpace(postgresDSN) != "" {
			return "postgres", nil
		}
		return "json", nil
	}
	switch driver {
	case "json", "postgres":
		return driver, nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func resolveDataPath(flagValue, envValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(envValue); path != "" {
		return path
	}
	return "data/store.json"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			return value
		}
	}
	return 0
}

// resolveRetries treats zero as a valid setting, so the unset sentinel is -1.
func resolveRetries(flagValue int, envKey string) int {
	if flagValue >= 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			return value
		}
	}
	return -1
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil && value > 0 {
			return value
		}
	}
	return fallback
}
