package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/teris-io/shortid"
)

const (
	defaultKeyPrefix    = "voicechat:session:"
	defaultEvictChannel = "voicechat:evict"
)

// compare-and-delete so a stale connection cannot drop a newer session
var removeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry shares the session table between several server processes
// and relays evictions to the process that owns the evicted connection.
// Group membership and per-user locks stay local to each process, so moves
// of a user connected to another process are not propagated.
type RedisRegistry struct {
	client       *redis.Client
	prefix       string
	evictChannel string
	origin       string
}

type eviction struct {
	Origin string `json:"origin"`
	ConnId string `json:"connId"`
}

var _ Registry = (*RedisRegistry)(nil)

func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRegistry{
		client:       client,
		prefix:       prefix,
		evictChannel: defaultEvictChannel,
		origin:       shortid.MustGenerate(),
	}
}

func (r *RedisRegistry) key(userId string) string {
	return r.prefix + userId
}

func (r *RedisRegistry) Register(ctx context.Context, userId, connId string) (string, error) {
	old, err := r.client.SetArgs(ctx, r.key(userId), connId, redis.SetArgs{Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}
	if old == connId {
		return "", nil
	}

	return old, nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, userId string) (string, bool, error) {
	connId, err := r.client.Get(ctx, r.key(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup session: %w", err)
	}

	return connId, true, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, userId, connId string) (bool, error) {
	n, err := removeScript.Run(ctx, r.client, []string{r.key(userId)}, connId).Int()
	if err != nil {
		return false, fmt.Errorf("remove session: %w", err)
	}

	return n == 1, nil
}

// PublishEviction tells every other process sharing the registry to drop
// connId.
func (r *RedisRegistry) PublishEviction(ctx context.Context, connId string) error {
	payload, err := json.Marshal(eviction{Origin: r.origin, ConnId: connId})
	if err != nil {
		return fmt.Errorf("encode eviction: %w", err)
	}

	if err := r.client.Publish(ctx, r.evictChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish eviction: %w", err)
	}

	return nil
}

// WatchEvictions calls fn for every connection evicted by another process.
// The subscription is active when it returns; the returned func ends it.
func (r *RedisRegistry) WatchEvictions(ctx context.Context, fn func(connId string)) (func() error, error) {
	sub := r.client.Subscribe(ctx, r.evictChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to evictions: %w", err)
	}

	go func() {
		for msg := range sub.Channel() {
			var e eviction
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil || e.ConnId == "" {
				continue
			}
			if e.Origin == r.origin {
				continue
			}
			fn(e.ConnId)
		}
	}()

	return sub.Close, nil
}
