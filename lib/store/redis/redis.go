// Package redis implements the audit log repository for Redis.
//
// Rows are JSON strings under satp:log:<key>. Each session keeps a sorted set satp:session:<id> of its keys scored by
// a global write counter, and satp:sessions indexes the session ids.
package redis

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/tarancss/satp/lib/store"
)

const (
	prefixLog     = "satp:log:"
	prefixSession = "satp:session:"
	keySessions   = "satp:sessions"
	keyCounter    = "satp:counter"
)

// Redis implements a connection to a Redis server.
type Redis struct {
	client *redis.Client
}

// New connects to the redis url (redis://host:port/db).
func New(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redis url %s", url)
	}

	r := NewWithClient(redis.NewClient(opts))

	if err = r.client.Ping(context.Background()).Err(); err != nil {
		_ = r.client.Close()

		return nil, errors.Wrap(err, "cannot reach redis")
	}

	return r, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c *redis.Client) *Redis {
	return &Redis{client: c}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Create stores l and appends its key to the session index.
func (r *Redis) Create(ctx context.Context, l store.LocalLog) error {
	if l.Key == "" {
		return store.ErrNoKey
	}

	data, err := json.Marshal(l)
	if err != nil {
		return errors.Wrap(err, "failed to marshal log")
	}

	n, err := r.client.Incr(ctx, keyCounter).Result()
	if err != nil {
		return errors.Wrap(err, "failed to order log")
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, prefixLog+l.Key, data, 0)
		p.ZAdd(ctx, prefixSession+l.SessionID, redis.Z{Score: float64(n), Member: l.Key})
		p.SAdd(ctx, keySessions, l.SessionID)

		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to save log %s", l.Key)
	}

	return nil
}

// ReadByID returns the row stored under key.
func (r *Redis) ReadByID(ctx context.Context, key string) (store.LocalLog, error) {
	var l store.LocalLog

	data, err := r.client.Get(ctx, prefixLog+key).Bytes()
	if err != nil {
		if err == redis.Nil { //nolint:errorlint // redis.Nil is returned unwrapped
			return l, store.ErrLogNotFound
		}

		return l, errors.Wrap(err, "failed to get log")
	}

	if err = json.Unmarshal(data, &l); err != nil {
		return l, errors.Wrap(err, "failed to unmarshal log")
	}

	return l, nil
}

// ReadLastestLog returns the last row written for the session.
func (r *Redis) ReadLastestLog(ctx context.Context, sessionID string) (store.LocalLog, error) {
	keys, err := r.client.ZRevRange(ctx, prefixSession+sessionID, 0, 0).Result()
	if err != nil {
		return store.LocalLog{}, errors.Wrap(err, "failed to read session index")
	}

	if len(keys) == 0 {
		return store.LocalLog{}, store.ErrLogNotFound
	}

	return r.ReadByID(ctx, keys[0])
}

// ReadLogsBySession returns the rows of the session, oldest first.
func (r *Redis) ReadLogsBySession(ctx context.Context, sessionID string) ([]store.LocalLog, error) {
	keys, err := r.client.ZRange(ctx, prefixSession+sessionID, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session index")
	}

	if len(keys) == 0 {
		return nil, store.ErrLogNotFound
	}

	logs := make([]store.LocalLog, 0, len(keys))

	for _, k := range keys {
		l, err := r.ReadByID(ctx, k)
		if err != nil {
			return nil, err
		}

		logs = append(logs, l)
	}

	return logs, nil
}

// FetchSessionIDs returns the ids of every logged session.
func (r *Redis) FetchSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, keySessions).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}

	return ids, nil
}
