package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/auth"
	"quiz-battle-service/internal/config"
	"quiz-battle-service/internal/infra/gemini"
	"quiz-battle-service/internal/infra/memory"
	pginfra "quiz-battle-service/internal/infra/postgres"
	redisinfra "quiz-battle-service/internal/infra/redis"
	transport "quiz-battle-service/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the battle server",
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

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
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

	var store app.BattleStore
	var questions app.QuestionSource
	var notes app.NoteSource
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		store = pginfra.NewBattleStore(db)
		questions = pginfra.NewQuestionLoader(pool)
		notes = pginfra.NewNoteSource(pool)
	} else {
		logger.Warn("postgres not configured, using in-memory store")
		memStore := memory.NewBattleStore()
		store = memStore
		questions = memStore
		notes = memory.NewNoteSource()
	}

	keyTTL := config.TTLDuration(cfg.Battle.AnswerKeyTTL, 10*time.Minute)
	var keys app.AnswerKeySource
	if cfg.Redis.Addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		keys = redisinfra.NewAnswerKeyCache(redisClient, questions, keyTTL)
	} else {
		keys = memory.NewAnswerKeyCache(questions, keyTTL)
	}

	var generator app.TextGenerator
	if cfg.Gemini.APIKey != "" {
		generator = gemini.NewClient(gemini.Config{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
			Timeout: config.TTLDuration(cfg.Gemini.Timeout, 15*time.Second),
		})
	} else {
		logger.Warn("gemini not configured, serving canned questions")
		generator = memory.NewStaticGenerator(memory.DefaultGeneratorQuestions())
	}

	service := app.NewBattleService(store, questions, keys, notes, generator, logger, app.Options{
		PointsPerCorrect: cfg.Battle.PointsPerCorrect,
		CodeAttempts:     cfg.Battle.CodeAttempts,
	})

	jwtService := auth.NewService(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	router := transport.NewRouter(service, jwtService, logger, transport.RouterOptions{
		WatchInterval: config.TTLDuration(cfg.Battle.WatchInterval, 2*time.Second),
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting battle service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
