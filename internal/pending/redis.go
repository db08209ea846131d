package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "scribe:pending:"

// Redis keeps held captures as JSON strings with a TTL, so they survive a
// restart of the capture service.
type Redis struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*Redis)(nil)

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "pending_redis"),
		now:    time.Now,
	}, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) Put(ctx context.Context, c Capture) (string, error) {
	c.ID = IDFor(c)
	if c.HeldAt.IsZero() {
		c.HeldAt = r.now().UTC()
	}
	raw, err := encode(c)
	if err != nil {
		return "", err
	}
	if err := r.rdb.Set(ctx, keyPrefix+c.ID, raw, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set: %w", err)
	}
	return c.ID, nil
}

func (r *Redis) Get(ctx context.Context, id string) (Capture, error) {
	raw, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Capture{}, ErrNotFound
	}
	if err != nil {
		return Capture{}, fmt.Errorf("redis get: %w", err)
	}
	return decode(raw)
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]Capture, error) {
	values, err := r.values(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Capture, 0, len(values))
	for _, raw := range values {
		c, err := decode([]byte(raw))
		if err != nil {
			r.logger.Warn("skipping undecodable pending capture", "error", err)
			continue
		}
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Redis) Bytes(ctx context.Context) (int64, error) {
	values, err := r.values(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, raw := range values {
		n += int64(len(raw))
	}
	return n, nil
}

// values returns the payload of every live key. Keys that expire between
// SCAN and MGET come back nil and are skipped.
func (r *Redis) values(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}
