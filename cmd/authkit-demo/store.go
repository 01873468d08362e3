package main

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authkit/otp"
	"github.com/MrEthical07/authkit/store/memory"
	"github.com/MrEthical07/authkit/store/pgstore"
	"github.com/MrEthical07/authkit/store/redisstore"
	"github.com/MrEthical07/authkit/store/sqlitestore"
	"github.com/MrEthical07/authkit/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// openedStore is a token store plus what the engine can borrow from its
// backend and how to release it.
type openedStore struct {
	store   token.Store
	limiter otp.AttemptLimiter
	close   func()
}

func openStore(ctx context.Context, cfg storeConfig, logger *zap.Logger) (*openedStore, error) {
	switch cfg.Driver {
	case driverMemory:
		return &openedStore{store: memory.New(), close: func() {}}, nil

	case driverRedis:
		return openRedis(ctx, cfg.Redis, logger)

	case driverPostgres:
		s, err := pgstore.New(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return &openedStore{store: s, close: s.Close}, nil

	case driverSQLite:
		s, err := sqlitestore.New(cfg.SQLite.DSN)
		if err != nil {
			return nil, err
		}
		return &openedStore{store: s, close: func() {
			if err := s.Close(); err != nil {
				logger.Warn("close sqlite store", zap.Error(err))
			}
		}}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openRedis(ctx context.Context, cfg redisConfig, logger *zap.Logger) (*openedStore, error) {
	var mr *miniredis.Miniredis
	addr := cfg.Addr
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		logger.Info("using in-process redis", zap.String("addr", addr))
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	release := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}

	s := redisstore.New(client, cfg.Store)
	if _, err := s.Ping(ctx); err != nil {
		release()
		return nil, err
	}

	out := &openedStore{store: s, close: release}
	if cfg.MaxOTPAttempts > 0 {
		out.limiter = otp.NewRedisLimiter(client, cfg.MaxOTPAttempts, cfg.AttemptWindow)
	}
	return out, nil
}
