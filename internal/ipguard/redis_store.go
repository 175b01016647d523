package ipguard

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "gatekeeper:ipguard"
	maxUpdateAttempts = 20
)

// KEYS[1]: registration counter
// ARGV[1]: cap
var reserveScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
    return 0
end
redis.call('INCR', KEYS[1])
return 1
`)

// KEYS[1]: registration counter
var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
    return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisStore shares guard state between instances. Values are JSON documents;
// registration counters are plain integer keys without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects using a redis:// URL and verifies the connection
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}

	return NewRedisStoreFromClient(client, defaultKeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client. prefix namespaces every key.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

func (s *RedisStore) windowKey(ip string) string { return s.prefix + ":window:" + ip }
func (s *RedisStore) blockKey(ip string) string  { return s.prefix + ":block:" + ip }
func (s *RedisStore) regKey(ip string) string    { return s.prefix + ":reg:" + ip }

// Update reads both keys for ip under WATCH and writes fn's result in a
// MULTI/EXEC block. A conflicting write from another client restarts the
// attempt.
func (s *RedisStore) Update(ctx context.Context, ip string, fn UpdateFunc) error {
	windowKey, blockKey := s.windowKey(ip), s.blockKey(ip)

	txf := func(tx *redis.Tx) error {
		var state AddressState

		windowRaw, err := getRaw(ctx, tx, windowKey)
		if err != nil {
			return err
		}
		if windowRaw != nil {
			state.Window = &models.FailureWindow{}
			if err := json.Unmarshal(windowRaw, state.Window); err != nil {
				return errors.Wrapf(err, "decode %s", windowKey)
			}
		}

		blockRaw, err := getRaw(ctx, tx, blockKey)
		if err != nil {
			return err
		}
		if blockRaw != nil {
			state.Block = &models.BlockRecord{}
			if err := json.Unmarshal(blockRaw, state.Block); err != nil {
				return errors.Wrapf(err, "decode %s", blockKey)
			}
		}

		write, err := fn(&state)
		if err != nil || !write {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := queueJSON(ctx, pipe, windowKey, windowRaw, state.Window, state.WindowTTL); err != nil {
				return err
			}
			return queueJSON(ctx, pipe, blockKey, blockRaw, state.Block, state.BlockTTL)
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, windowKey, blockKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.Errorf("update %s: still conflicting after %d attempts", ip, maxUpdateAttempts)
}

func (s *RedisStore) DeleteWindow(ctx context.Context, ip string) error {
	return errors.Wrap(s.client.Del(ctx, s.windowKey(ip)).Err(), "delete window")
}

func (s *RedisStore) ListWindows(ctx context.Context) ([]*models.FailureWindow, error) {
	var windows []*models.FailureWindow
	err := s.scanJSON(ctx, s.windowKey("*"), func(raw string) error {
		var w models.FailureWindow
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return err
		}
		windows = append(windows, &w)
		return nil
	})
	return windows, err
}

func (s *RedisStore) ListBlocks(ctx context.Context) ([]*models.BlockRecord, error) {
	var blocks []*models.BlockRecord
	err := s.scanJSON(ctx, s.blockKey("*"), func(raw string) error {
		var b models.BlockRecord
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return err
		}
		blocks = append(blocks, &b)
		return nil
	})
	return blocks, err
}

func (s *RedisStore) RegistrationCount(ctx context.Context, ip string) (int, error) {
	n, err := s.client.Get(ctx, s.regKey(ip)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "get registration count")
	}
	return n, nil
}

func (s *RedisStore) IncrRegistrations(ctx context.Context, ip string) (int, error) {
	n, err := s.client.Incr(ctx, s.regKey(ip)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "increment registration count")
	}
	return int(n), nil
}

func (s *RedisStore) ReserveRegistration(ctx context.Context, ip string, limit int) (bool, error) {
	ok, err := reserveScript.Run(ctx, s.client, []string{s.regKey(ip)}, limit).Int()
	if err != nil {
		return false, errors.Wrap(err, "reserve registration")
	}
	return ok == 1, nil
}

func (s *RedisStore) ReleaseRegistration(ctx context.Context, ip string) error {
	err := releaseScript.Run(ctx, s.client, []string{s.regKey(ip)}).Err()
	return errors.Wrap(err, "release registration")
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "ping redis")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func getRaw(ctx context.Context, tx *redis.Tx, key string) ([]byte, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return raw, errors.Wrapf(err, "get %s", key)
}

// queueJSON queues the write that moves key from old to v. A nil v deletes
// the key; an unchanged value with no new ttl queues nothing.
func queueJSON[T any](ctx context.Context, pipe redis.Pipeliner, key string, old []byte, v *T, ttl time.Duration) error {
	if v == nil {
		if old != nil {
			pipe.Del(ctx, key)
		}
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if ttl <= 0 {
		if bytes.Equal(raw, old) {
			return nil
		}
		ttl = redis.KeepTTL
	}
	pipe.Set(ctx, key, raw, ttl)
	return nil
}

// scanJSON walks every key matching pattern and hands each value to fn.
// Keys that expire between SCAN and GET are skipped.
func (s *RedisStore) scanJSON(ctx context.Context, pattern string, fn func(raw string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return errors.Wrap(err, "scan keys")
		}
		cursor = next

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			cmds := make([]*redis.StringCmd, 0, len(keys))
			for _, key := range keys {
				cmds = append(cmds, pipe.Get(ctx, key))
			}
			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return errors.Wrap(err, "fetch scanned keys")
			}

			for i, cmd := range cmds {
				val, err := cmd.Result()
				if err == redis.Nil {
					continue
				}
				if err != nil {
					return errors.Wrapf(err, "get %s", keys[i])
				}
				if err := fn(val); err != nil {
					return errors.Wrapf(err, "decode %s", keys[i])
				}
			}
		}

		if cursor == 0 {
			return nil
		}
	}
}
