package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	clientName       = "feedback-engine"
	connectTimeout   = 5 * time.Second
	operationTimeout = time.Second
)

// NewRedis connects the client shared by the template cache and the rate
// limiter. Both sit on the send path, so commands get short timeouts.
func NewRedis(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = clientName
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = operationTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = operationTimeout
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to ping redis: %v", domain.ErrStoreUnavailable, err)
	}

	return client, nil
}
