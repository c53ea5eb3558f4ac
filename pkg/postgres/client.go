package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NewPool 建立 pgx 連線池，連不上時重試
//
// 參數:
//
//	ctx: 上下文
//	cfg: Config - Postgres 連線配置
//	log: *zap.Logger - 連線重試時使用
//
// 回傳值:
//
//	*pgxpool.Pool: 連線池
//	error: 若連線失敗則回傳錯誤
func NewPool(ctx context.Context, cfg Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	// Retry mechanism for database connection
	maxRetries := 10
	retryInterval := 2 * time.Second
	for i := 0; i < maxRetries; i++ {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		if i < maxRetries-1 {
			log.Warn("failed to connect to postgres, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", maxRetries),
				zap.Duration("retry_in", retryInterval),
				zap.Error(err))
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}
	pool.Close()
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", maxRetries, err)
}
