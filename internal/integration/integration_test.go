package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
	pgstore "quiz-battle-service/internal/infra/postgres"
	pgmigrations "quiz-battle-service/internal/infra/postgres/migrations"
	infraredis "quiz-battle-service/internal/infra/redis"
)

type staticGen struct{ payload string }

func (g staticGen) Generate(context.Context, string, string, float64, int) (string, error) {
	return g.payload, nil
}

func TestBattleFlowEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := pgstore.NewBattleStore(db)
	loader := pgstore.NewQuestionLoader(pool)
	notes := pgstore.NewNoteSource(pool)
	keys := infraredis.NewAnswerKeyCache(redisClient, loader, 5*time.Minute)

	service := app.NewBattleService(store, loader, keys, notes, staticGen{payload: questionPayload()}, zap.NewNop(), app.Options{})

	created, err := service.Create(ctx, "host", app.CreateBattleRequest{
		Title:         "Integration",
		SourceText:    "world geography",
		QuestionCount: 5,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != domain.StatusWaiting || len(created.Code) != 6 {
		t.Fatalf("unexpected summary: %+v", created)
	}

	// Concurrent joins seat exactly one opponent.
	var wg sync.WaitGroup
	joinErrs := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, joinErrs[i] = service.Join(ctx, created.Code, user)
		}(i, user)
	}
	wg.Wait()
	var opponent string
	var conflicts int
	for i, user := range []string{"u1", "u2"} {
		switch {
		case joinErrs[i] == nil:
			opponent = user
		case errors.Is(joinErrs[i], domain.ErrOpponentTaken):
			conflicts++
		default:
			t.Fatalf("join %s: %v", user, joinErrs[i])
		}
	}
	if opponent == "" || conflicts != 1 {
		t.Fatalf("expected one seated opponent, got opponent=%q conflicts=%d", opponent, conflicts)
	}

	answers := []string{"Paris", "4", "Mars", "Water", "Pacific"}
	for i, answer := range answers {
		if _, err := service.SubmitAnswer(ctx, created.ID, "host", i, answer); err != nil {
			t.Fatalf("host answer %d: %v", i, err)
		}
	}
	// Duplicate submission is rejected at the database level too.
	if _, err := service.SubmitAnswer(ctx, created.ID, "host", 0, "Paris"); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}

	var lastResult app.SubmitResult
	for i := range answers {
		// Opponent gets the first answer wrong.
		answer := answers[i]
		if i == 0 {
			answer = "London"
		}
		lastResult, err = service.SubmitAnswer(ctx, created.ID, opponent, i, answer)
		if err != nil {
			t.Fatalf("opponent answer %d: %v", i, err)
		}
	}
	if !lastResult.BattleComplete {
		t.Fatalf("expected completion after both sides answered")
	}

	result, err := service.Result(ctx, created.ID, "host")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.WinnerID == nil || *result.WinnerID != "host" {
		t.Fatalf("expected host to win, got %+v", result)
	}
	if result.HostScore != 50 || result.OpponentScore != 40 {
		t.Fatalf("unexpected scores: %+v", result)
	}
	if result.Duration < 1 {
		t.Fatalf("duration must be at least 1 second, got %d", result.Duration)
	}

	state, err := service.State(ctx, created.ID, opponent)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != domain.StatusCompleted || len(state.Questions) != 5 {
		t.Fatalf("unexpected final state: %+v", state)
	}

	// Answer key was cached in Redis during scoring.
	fields, err := redisClient.HGetAll(ctx, "battle:"+created.ID+":answers").Result()
	if err != nil || len(fields) != 5 {
		t.Fatalf("expected cached answer key, got %d fields %v", len(fields), err)
	}
}

func questionPayload() string {
	items := []struct{ q, a string }{
		{"Capital of France?", "Paris"},
		{"2 + 2?", "4"},
		{"Red planet?", "Mars"},
		{"H2O?", "Water"},
		{"Largest ocean?", "Pacific"},
	}
	questions := make([]map[string]any, len(items))
	for i, item := range items {
		questions[i] = map[string]any{
			"question":      item.q,
			"options":       []string{item.a, "wrong", "other"},
			"correctAnswer": item.a,
		}
	}
	data, _ := json.Marshal(map[string]any{"questions": questions})
	return string(data)
}

func openBun(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "battle", "POSTGRES_PASSWORD": "battlepass", "POSTGRES_DB": "battledb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://battle:battlepass@%s:%s/battledb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
