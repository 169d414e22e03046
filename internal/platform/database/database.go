package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	defaultMinConns          = 1                // Минимальное количество соединений в пуле
	defaultMaxConnLifetime   = time.Hour        // Максимальное время жизни соединения
	defaultMaxConnIdleTime   = 30 * time.Minute // Максимальное время простоя соединения
	defaultHealthCheckPeriod = time.Minute      // Периодичность проверки соединений
	defaultConnectTimeout    = 5 * time.Second

	adminDBName = "postgres"

	insufficientPrivilege = "42501"
)

// PoolConfig разбирает DSN и задает параметры пула.
func PoolConfig(dsn string, maxConns int32) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = defaultMinConns
	if config.MinConns > config.MaxConns {
		config.MinConns = config.MaxConns
	}
	config.MaxConnLifetime = defaultMaxConnLifetime
	config.MaxConnIdleTime = defaultMaxConnIdleTime
	config.HealthCheckPeriod = defaultHealthCheckPeriod
	if config.ConnConfig.ConnectTimeout == 0 {
		config.ConnConfig.ConnectTimeout = defaultConnectTimeout
	}
	return config, nil
}

// EnsureDatabase создает базу из DSN, если ее еще нет.
// Пользователь должен иметь право CREATEDB.
func EnsureDatabase(ctx context.Context, dsn string, logger *zap.Logger) error {
	target, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("unable to parse postgres config: %w", err)
	}
	name := target.Database
	if name == "" || name == adminDBName {
		return nil
	}

	admin := target.Copy()
	admin.Database = adminDBName
	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		return fmt.Errorf("failed to connect to admin database %q: %w", adminDBName, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check if database %q exists: %w", name, err)
	}
	if exists {
		logger.Debug("Database already exists", zap.String("database", name))
		return nil
	}

	logger.Info("Database does not exist, creating", zap.String("database", name))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == insufficientPrivilege {
			return fmt.Errorf("user %q lacks permission to create database %q: %w", target.User, name, err)
		}
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	logger.Info("Database created", zap.String("database", name))
	return nil
}
