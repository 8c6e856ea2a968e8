package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/sitecache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// delChunk bounds the number of keys per DEL so one generation drop never
// builds an unbounded command.
const delChunk = 512

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ pr.Provider     = (*Redis)(nil)
	_ pr.BatchDeleter = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0 // KEEPTTL is -1 in go-redis; non-positive means "no expiry" here
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// DelMany issues DEL in chunks. On a cluster client keys are usually spread
// across slots, so chunks go through a pipeline of single-key DELs instead.
func (p *Redis) DelMany(ctx context.Context, keys ...string) error {
	if _, ok := p.rdb.(*goredis.ClusterClient); ok {
		_, err := p.rdb.Pipelined(ctx, func(pl goredis.Pipeliner) error {
			for _, k := range keys {
				pl.Del(ctx, k)
			}
			return nil
		})
		return err
	}
	for len(keys) > 0 {
		n := min(len(keys), delChunk)
		if err := p.rdb.Del(ctx, keys[:n]...).Err(); err != nil {
			return err
		}
		keys = keys[n:]
	}
	return nil
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
