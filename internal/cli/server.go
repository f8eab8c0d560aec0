package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crowdplay-room-service/internal/app"
	"crowdplay-room-service/internal/config"
	"crowdplay-room-service/internal/infra/memory"
	pgarchive "crowdplay-room-service/internal/infra/postgres"
	redisinfra "crowdplay-room-service/internal/infra/redis"
	"crowdplay-room-service/internal/infra/token"
	transport "crowdplay-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the room server",
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

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 12*time.Hour)
	codeTTL := config.TTLDuration(cfg.Room.CodeTTL, 24*time.Hour)

	hub := memory.NewHub()
	var publisher app.StatePublisher = hub
	var rooms app.RoomRepository = memory.NewRoomStore()
	var codes app.CodeRegistry = memory.NewCodeRegistry()
	if redisClient != nil {
		rooms = redisinfra.NewRoomStore(redisClient, redisTTL)
		codes = redisinfra.NewCodeRegistry(redisClient, codeTTL)
		publisher = app.MultiPublisher{hub, redisinfra.NewPublisher(redisClient, logger)}
	}

	tokens := token.NewHMACService(cfg.Auth.Secret)

	opts := []app.Option{
		app.WithTokenTTL(config.TTLDuration(cfg.Auth.TokenTTL, 6*time.Hour)),
	}
	if cfg.Room.JoinBaseURL != "" {
		opts = append(opts, app.WithJoinBaseURL(cfg.Room.JoinBaseURL))
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		opts = append(opts, app.WithArchiver(pgarchive.NewArchiveStore(pool)))
	}

	service := app.NewRoomService(rooms, codes, tokens, publisher, logger, opts...)
	api := transport.NewAPI(service, hub, logger)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(stopCtx)
	group.Go(func() error {
		logger.Info("starting room service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = parsed
	}
	if os.Getenv("LOG_DEV") != "" {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
