package redisx

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/engramlabs/engram-backend/internal/platform/logger"
)

// NewClient connects to the queue/cache backend named by REDIS_URL and
// verifies the connection with a ping.
func NewClient(log *logger.Logger) (*goredis.Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	rawURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if rawURL == "" {
		return nil, fmt.Errorf("missing REDIS_URL")
	}

	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("redis connected", "addr", opts.Addr)
	return rdb, nil
}
