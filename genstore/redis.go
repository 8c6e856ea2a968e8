package genstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// trackChunk bounds the members passed to one script call (Lua unpack limit).
const trackChunk = 512

// KEYS[1] tags set, KEYS[2] members set; ARGV[1] tag, ARGV[2..] keys.
// Returns 0 when the tag is not registered.
var trackScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('SADD', KEYS[2], unpack(ARGV, 2))
return 1
`)

// KEYS[1] tags set, KEYS[2] members set; ARGV[1] tag.
// Returns {removed, members}.
var dropScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
local members = redis.call('SMEMBERS', KEYS[2])
redis.call('DEL', KEYS[2])
return {removed, members}
`)

// RedisGenStore shares the generation registry across processes and survives restarts.
// Tags live in one set; each generation's request keys live in a set of their own.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string // logical namespace; same value as the storage key namespace
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore creates a Redis-backed generation registry.
func NewRedisGenStore(client redis.UniversalClient, namespace string) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace}
}

// Both keys share a hash tag so the scripts run on one cluster slot.
func (s *RedisGenStore) tagsKey() string            { return "gens:{" + s.ns + "}" }
func (s *RedisGenStore) membersKey(t string) string { return "gen:{" + s.ns + "}:" + t }

func (s *RedisGenStore) Create(ctx context.Context, tag string) error {
	return s.rdb.SAdd(ctx, s.tagsKey(), tag).Err()
}

func (s *RedisGenStore) Exists(ctx context.Context, tag string) (bool, error) {
	return s.rdb.SIsMember(ctx, s.tagsKey(), tag).Result()
}

func (s *RedisGenStore) Tags(ctx context.Context) ([]string, error) {
	out, err := s.rdb.SMembers(ctx, s.tagsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Track adds keys only while tag is registered, checking and adding in one script.
func (s *RedisGenStore) Track(ctx context.Context, tag string, keys ...string) error {
	if len(keys) == 0 {
		ok, err := s.Exists(ctx, tag)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownTag
		}
		return nil
	}
	rkeys := []string{s.tagsKey(), s.membersKey(tag)}
	for start := 0; start < len(keys); start += trackChunk {
		chunk := keys[start:min(start+trackChunk, len(keys))]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, tag)
		for _, k := range chunk {
			args = append(args, k)
		}
		n, err := trackScript.Run(ctx, s.rdb, rkeys, args...).Int()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrUnknownTag
		}
	}
	return nil
}

func (s *RedisGenStore) Members(ctx context.Context, tag string) ([]string, error) {
	out, err := s.rdb.SMembers(ctx, s.membersKey(tag)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Drop unregisters tag and takes its member set in one script, so no Track
// can land between reading the members and removing them.
func (s *RedisGenStore) Drop(ctx context.Context, tag string) ([]string, bool, error) {
	res, err := dropScript.Run(ctx, s.rdb, []string{s.tagsKey(), s.membersKey(tag)}, tag).Slice()
	if err != nil {
		return nil, false, err
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("genstore: drop %q: unexpected reply %v", tag, res)
	}
	removed, _ := res[0].(int64)
	raw, _ := res[1].([]any)
	keys := make([]string, 0, len(raw))
	for _, m := range raw {
		if k, ok := m.(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, removed > 0, nil
}

// Close closes the underlying Redis client.
func (s *RedisGenStore) Close(ctx context.Context) error { return s.rdb.Close() }
