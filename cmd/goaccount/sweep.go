package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/metrics"
	"github.com/MrEthical07/goAccount/store/postgres"
	storeredis "github.com/MrEthical07/goAccount/store/redis"
	"github.com/MrEthical07/goAccount/token"
)

const shutdownTimeout = 5 * time.Second

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired and invalid tokens",
		Long: `Remove every persisted token that no longer validates. Without --once
the sweep repeats every sweep.interval and Prometheus metrics are served on
metrics.addr until the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")
	return cmd
}

func runSweep(cmd *cobra.Command, once bool) error {
	cfg, err := loadConfig(configFile, envFile)
	if err != nil {
		return err
	}
	log := cfg.logger()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openTokenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return oops.Code("METRICS_REGISTER_FAILED").Wrap(err)
	}

	signer, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("section", "jwt").Wrap(err)
	}
	store, err := token.NewStore(signer, repo, token.WithLogger(log.Named("token")), token.WithMetrics(m))
	if err != nil {
		return err
	}

	if once {
		n, err := store.Sweep(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Removed %d tokens\n", n)
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logging.Err(err)...)
			stop()
		}
	}()
	log.Info("sweeper started",
		zap.Duration("interval", cfg.Sweep.Interval),
		zap.String("metrics_addr", cfg.Metrics.Addr),
		zap.String("store", cfg.Store.Tokens),
	)

	halt := token.NewSweeper(store, cfg.Sweep.Interval, log.Named("sweeper")).Start(ctx)
	<-ctx.Done()
	halt()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	log.Info("sweeper stopped")
	return nil
}

// openTokenRepository connects the configured token backend.
func openTokenRepository(ctx context.Context, cfg fileConfig) (token.Repository, func(), error) {
	switch cfg.Store.Tokens {
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}
		repo := storeredis.NewTokens(client, cfg.Redis.Prefix, storeredis.WithExpiryGrace(cfg.Redis.Grace))
		return repo, func() { _ = client.Close() }, nil
	case "", "postgres":
		if cfg.Postgres.URL == "" {
			return nil, nil, oops.Code("CONFIG_INVALID").Errorf("postgres url is required (postgres.url or %sPOSTGRES_URL)", envPrefix)
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		return postgres.NewTokens(pool), pool.Close, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("store", cfg.Store.Tokens).Errorf("unknown token store %q", cfg.Store.Tokens)
	}
}
