package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verifykit/internal/app"
	"verifykit/internal/captcha"
	"verifykit/internal/config"
	"verifykit/internal/infra/memory"
	pgstore "verifykit/internal/infra/postgres"
	redisstore "verifykit/internal/infra/redis"
	"verifykit/internal/infra/sqlite"
	"verifykit/internal/render"
	transport "verifykit/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the verification widget host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// inline profiles win over database rows with the same id
	loaders := memory.ChainLoader{memory.NewStaticProfileLoader(cfg.Profiles.Items)}
	if pool != nil {
		loaders = append(loaders, pgstore.NewProfileLoader(pool))
	}
	if cfg.SQLite.Path != "" {
		sqliteStore, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		loaders = append(loaders, sqliteStore)
	}

	profileTTL := config.TTLDuration(cfg.Profiles.TTL, 10*time.Minute)
	var profiles app.ProfileRepository
	if redisClient != nil {
		profiles = redisstore.NewProfileRepository(redisClient, loaders, profileTTL, logger)
	} else {
		profiles = memory.NewProfileRepository(loaders, profileTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisstore.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	var recorders app.Recorders
	if pool != nil {
		recorders = append(recorders, pgstore.NewOutcomeRecorder(pool))
	}
	if redisClient != nil {
		recorders = append(recorders, redisstore.NewOutcomeCounter(redisClient))
	}

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithImageLoader(captcha.NewHTTPImageLoader(config.TTLDuration(cfg.Captcha.ImageTimeout, captcha.DefaultImageTimeout))),
		app.WithCooldown(config.TTLDuration(cfg.Captcha.Cooldown, captcha.DefaultCooldown)),
	}
	if len(recorders) > 0 {
		opts = append(opts, app.WithRecorder(recorders))
	}
	if cfg.RenderImages() {
		renderer, err := render.New(logger)
		if err != nil {
			return err
		}
		opts = append(opts, app.WithRenderer(renderer))
	}
	service := app.NewVerifyService(store, profiles, opts...)
	defer service.Shutdown()
	wsHandler := transport.NewWSHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", transport.HealthHandler)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	sessionTTL := config.TTLDuration(cfg.Captcha.SessionTTL, 10*time.Minute)
	if sessionTTL <= 0 {
		sessionTTL = 10 * time.Minute
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting verification host", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sessionTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				service.Expire(gctx, sessionTTL)
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
