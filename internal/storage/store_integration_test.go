//go:build integration

package storage_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/platform/database"
	"storybook-server/internal/storage"
)

// StoreIntegrationSuite прогоняет одинаковые проверки для Redis и Postgres бэкендов.
type StoreIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	rdContainer *tcredis.RedisContainer
	pgPool      *pgxpool.Pool
	pgDSN       string
	redisClient *redis.Client
	logger      *zap.Logger
}

func TestStoreIntegration(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()
	var err error

	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("storybook_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	s.pgDSN, err = s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)
	s.pgPool, err = pgxpool.New(s.ctx, s.pgDSN)
	require.NoError(s.T(), err)
	require.NoError(s.T(), storage.ApplyMigrations(s.pgPool, s.logger))

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	host, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err)
	port, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)
	s.redisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(s.T(), s.redisClient.Ping(s.ctx).Err())
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.rdContainer != nil {
		_ = s.rdContainer.Terminate(s.ctx)
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *StoreIntegrationSuite) SetupTest() {
	require.NoError(s.T(), s.redisClient.FlushAll(s.ctx).Err())
	_, err := s.pgPool.Exec(s.ctx, `TRUNCATE storybook_kv`)
	require.NoError(s.T(), err)
}

func (s *StoreIntegrationSuite) TestMigrationsAreRecorded() {
	db, err := sql.Open("postgres", s.pgDSN)
	s.Require().NoError(err)
	defer db.Close()

	var version int
	var dirty bool
	err = db.QueryRowContext(s.ctx, `SELECT version, dirty FROM storybook_schema_migrations`).Scan(&version, &dirty)
	s.Require().NoError(err)
	s.GreaterOrEqual(version, 1)
	s.False(dirty)

	// Повторное применение миграций не меняет схему.
	s.Require().NoError(storage.ApplyMigrations(s.pgPool, s.logger))
}

func (s *StoreIntegrationSuite) TestEnsureDatabaseCreatesMissing() {
	dsn := strings.Replace(s.pgDSN, "/storybook_test?", "/storybook_created?", 1)
	require.NoError(s.T(), database.EnsureDatabase(s.ctx, dsn, s.logger))
	require.NoError(s.T(), database.EnsureDatabase(s.ctx, dsn, s.logger))

	cfg, err := database.PoolConfig(dsn, 2)
	require.NoError(s.T(), err)
	pool, err := pgxpool.NewWithConfig(s.ctx, cfg)
	require.NoError(s.T(), err)
	defer pool.Close()
	s.NoError(pool.Ping(s.ctx))
}

func (s *StoreIntegrationSuite) backends(capacity int64) map[string]storage.Store {
	return map[string]storage.Store{
		"redis":    storage.NewRedisStore(s.redisClient, "test:", capacity, s.logger),
		"postgres": storage.NewPostgresStore(s.pgPool, capacity, s.logger),
	}
}

func (s *StoreIntegrationSuite) TestGetSetDeleteUsage() {
	for name, store := range s.backends(0) {
		s.Run(name, func() {
			_, err := store.Get(s.ctx, "missing")
			s.ErrorIs(err, models.ErrNotFound)

			s.Require().NoError(store.Set(s.ctx, "alpha", []byte("12345")))
			value, err := store.Get(s.ctx, "alpha")
			s.Require().NoError(err)
			s.Equal([]byte("12345"), value)

			usage, err := store.Usage(s.ctx)
			s.Require().NoError(err)
			s.Equal(int64(len("alpha")+5), usage)

			s.Require().NoError(store.Set(s.ctx, storage.StoryKey("s1"), []byte("{}")))
			keys, err := store.Keys(s.ctx, storage.StoryKeyPrefix)
			s.Require().NoError(err)
			s.Equal([]string{storage.StoryKey("s1")}, keys)
			s.Require().NoError(store.Delete(s.ctx, storage.StoryKey("s1")))

			s.Require().NoError(store.Delete(s.ctx, "alpha"))
			usage, err = store.Usage(s.ctx)
			s.Require().NoError(err)
			s.Equal(int64(0), usage)
		})
	}
}

func (s *StoreIntegrationSuite) TestQuotaEnforced() {
	for name, store := range s.backends(20) {
		s.Run(name, func() {
			s.Require().NoError(store.Set(s.ctx, "k", []byte("0123456789")))
			err := store.Set(s.ctx, "k2", []byte("0123456789"))
			s.ErrorIs(err, models.ErrStorageQuotaExceeded)
			s.Require().NoError(store.Set(s.ctx, "k", []byte("0123456789abcdefgh")))
		})
	}
}

func (s *StoreIntegrationSuite) TestStoryCacheOverBackends() {
	for name, store := range s.backends(0) {
		s.Run(name, func() {
			cache := storage.NewStoryCache(store, storage.StoryCacheConfig{}, s.logger)
			story := &models.GeneratedStory{
				ID:        "story-" + name,
				Title:     "Backend story",
				CreatedAt: time.Date(2025, 5, 1, 10, 0, 0, 123_000_000, time.UTC),
				Pages: []models.StoryPage{{PageNumber: 1, Panels: []models.Panel{
					{ID: "p1", Description: "scene", Characters: []string{}, ImageURL: "data:image/png;base64,AA=="},
				}}},
			}
			s.Require().NoError(cache.Save(s.ctx, story))
			loaded, err := cache.Load(s.ctx, story.ID)
			s.Require().NoError(err)
			s.Equal(story, loaded)
			s.Len(cache.ListAll(s.ctx), 1)
		})
	}
}
