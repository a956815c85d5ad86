package commerce

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrBusy is returned when the session lock could not be acquired in time.
var ErrBusy = Conflict(ReasonBusy, "session is busy, retry")

// Locker provides the per-session exclusion scope every catalog mutation
// runs in.
type Locker interface {
	WithLock(ctx context.Context, sessionID uint64, fn func(ctx context.Context) error) error
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker with one mutex per session id.
// Entries are dropped once no goroutine holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[uint64]*keyedEntry
	wait    time.Duration
}

// NewKeyedMutex creates a KeyedMutex.  wait bounds how long WithLock
// blocks; zero waits until ctx is done.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{entries: make(map[uint64]*keyedEntry), wait: wait}
}

func (k *KeyedMutex) acquireEntry(id uint64) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[id]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.entries[id] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaseEntry(id uint64, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, id)
	}
}

// WithLock runs fn while holding the lock of sessionID.
func (k *KeyedMutex) WithLock(ctx context.Context, sessionID uint64, fn func(ctx context.Context) error) error {
	e := k.acquireEntry(sessionID)
	defer k.releaseEntry(sessionID, e)

	var timeout <-chan time.Time
	if k.wait > 0 {
		t := time.NewTimer(k.wait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case e.ch <- struct{}{}:
	case <-timeout:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.ch }()
	return fn(ctx)
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLocker is a Locker shared by every replica talking to the same
// Redis.  The lock is a SET NX PX key holding a random token; it expires on
// its own if the holder dies.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	log    zerolog.Logger
}

// NewRedisLocker creates a RedisLocker.  ttl is the lease of one critical
// section; wait bounds acquisition.
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration, log zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		rdb:    rdb,
		prefix: "live:lock:session:",
		ttl:    ttl,
		wait:   wait,
		poll:   20 * time.Millisecond,
		log:    log.With().Str("component", "session_lock").Logger(),
	}
}

func (r *RedisLocker) key(sessionID uint64) string {
	return r.prefix + strconv.FormatUint(sessionID, 10)
}

// WithLock runs fn while holding the Redis lock of sessionID.
func (r *RedisLocker) WithLock(ctx context.Context, sessionID uint64, fn func(ctx context.Context) error) error {
	key := r.key(sessionID)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return Upstream("session lock unavailable", err)
		}
		if ok {
			break
		}
		if r.wait <= 0 || time.Now().After(deadline) {
			return ErrBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.poll):
		}
	}
	defer func() {
		// release with a fresh context so a cancelled request still frees the key
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.log.Warn().Err(err).Uint64("session_id", sessionID).Msg("release session lock")
		}
	}()
	return fn(ctx)
}

var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*RedisLocker)(nil)
)
