package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"salon/internal/events"
	"salon/internal/logging"
	"salon/internal/metrics"
	"salon/internal/repository"
	"salon/internal/server"
)

// Config holds CLI flags for basketd. Every flag can be preset with SALON_<FLAG>.
type Config struct {
	HTTPAddr     string
	RedisAddr    string // empty: in-memory baskets and idempotency keys
	DBDriver     string // mysql|postgres|memory
	DBDSN        string
	KafkaBrokers string
	EventsDriver string // segmentio|confluent|none
	EventsTopic  string
	JWTSecret    string
	Rate         float64
	Burst        int
	LogLevel     string
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("basketd failed: %v", err)
	}
}

func env(name, def string) string {
	if v := os.Getenv("SALON_" + name); v != "" {
		return v
	}
	return def
}

func envFloat(name string, def float64) float64 {
	if f, err := strconv.ParseFloat(env(name, ""), 64); err == nil {
		return f
	}
	return def
}

func envInt(name string, def int) int {
	if n, err := strconv.Atoi(env(name, "")); err == nil {
		return n
	}
	return def
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.HTTPAddr, "http", env("HTTP", ":8080"), "http listen address")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", env("REDIS_ADDR", ""), "redis address for baskets and idempotency keys (empty: in memory)")
	flag.StringVar(&cfg.DBDriver, "db-driver", env("DB_DRIVER", "memory"), "order store: mysql|postgres|memory")
	flag.StringVar(&cfg.DBDSN, "db-dsn", env("DB_DSN", ""), "order store DSN")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", env("KAFKA_BROKERS", ""), "comma-separated kafka bootstrap servers")
	flag.StringVar(&cfg.EventsDriver, "events-driver", env("EVENTS_DRIVER", "segmentio"), "order event producer: segmentio|confluent|none")
	flag.StringVar(&cfg.EventsTopic, "events-topic", env("EVENTS_TOPIC", events.DefaultTopic), "order event topic")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", env("JWT_SECRET", ""), "HS256 secret for admin routes (empty: admin routes off)")
	flag.Float64Var(&cfg.Rate, "rate", envFloat("RATE", 20), "requests per second per client (0: unlimited)")
	flag.IntVar(&cfg.Burst, "burst", envInt("BURST", 40), "rate limiter burst")
	flag.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", ""), "log level")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	logger := logging.New(os.Stderr, cfg.LogLevel).With().Str("app", "basketd").Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baskets, idem, closeRedis, err := openRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer closeRedis()

	orders, closeDB, err := openOrders(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer closeDB()

	pub, closePub, err := openPublisher(cfg.EventsDriver, cfg.KafkaBrokers, cfg.EventsTopic, logger)
	if err != nil {
		return err
	}
	defer closePub()

	e := server.New(server.Deps{
		Baskets:     baskets,
		Orders:      orders,
		Idempotency: idem,
		Publisher:   pub,
		Metrics:     metrics.NewRegistry(),
		Logger:      logger,
		JWTSecret:   []byte(cfg.JWTSecret),
		Rate:        cfg.Rate,
		Burst:       cfg.Burst,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("db", cfg.DBDriver).
			Bool("redis", cfg.RedisAddr != "").
			Str("events", cfg.EventsDriver).
			Bool("admin", cfg.JWTSecret != "").
			Msg("listening")
		errCh <- e.Start(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openRedis(ctx context.Context, addr string) (repository.BasketRepository, repository.IdempotencyStore, func(), error) {
	if addr == "" {
		return repository.NewMemoryBasketRepository(), repository.NewMemoryIdempotencyStore(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return repository.NewRedisBasketRepository(rdb), repository.NewRedisIdempotencyStore(rdb), func() { rdb.Close() }, nil
}

func openOrders(ctx context.Context, driver, dsn string) (repository.OrderRepository, func(), error) {
	if driver == "" || driver == "memory" {
		return repository.NewMemoryOrderRepository(), func() {}, nil
	}
	dialect, err := repository.ParseDialect(driver)
	if err != nil {
		return nil, nil, err
	}
	sqlDriver := "mysql"
	if dialect == repository.Postgres {
		sqlDriver = "postgres"
	} else if !strings.Contains(dsn, "parseTime=") {
		// created_at scans into time.Time
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", sqlDriver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", sqlDriver, err)
	}
	repo := repository.NewSQLOrderRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, func() { db.Close() }, nil
}

func openPublisher(driver, bootstrap, topic string, logger zerolog.Logger) (events.Publisher, func(), error) {
	logPub := events.LogPublisher{Logger: logger.With().Str("component", "events").Logger()}
	brokers := events.SplitBrokers(bootstrap)
	if driver == "none" || len(brokers) == 0 {
		return logPub, func() {}, nil
	}
	switch driver {
	case "segmentio", "":
		p := events.NewKafkaPublisher(brokers, topic)
		return events.MultiPublisher{logPub, p}, func() { p.Close() }, nil
	case "confluent":
		p, err := events.NewConfluentPublisher(brokers, topic)
		if err != nil {
			return nil, nil, err
		}
		return events.MultiPublisher{logPub, p}, func() { p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown events driver %q", driver)
}
