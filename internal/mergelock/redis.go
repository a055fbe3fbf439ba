// Package mergelock provides a short-lived Redis lease that serializes merges
// of the same suggestion across API instances.
package mergelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lexicon/api/internal/util"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("mergelock: lease held")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out leases keyed by collection and suggestion id.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker connects to redisURL and verifies the connection.
func NewRedisLocker(redisURL string, ttl time.Duration) (*Locker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewLockerWithClient(client, ttl), nil
}

func NewLockerWithClient(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{
		client: client,
		prefix: "merge:",
		ttl:    ttl,
	}
}

func (l *Locker) key(collection, id string) string {
	return l.prefix + collection + ":" + id
}

// Lease is one acquired lock. Release is safe to call more than once.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the lease for collection/id or returns ErrHeld.
func (l *Locker) Acquire(ctx context.Context, collection, id string) (*Lease, error) {
	key := l.key(collection, id)
	token := util.NewID("lease")
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire merge lease: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release drops the lease if it has not expired and been taken by someone else.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release merge lease: %w", err)
	}
	return nil
}

func (l *Locker) Close() error {
	return l.client.Close()
}

func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
