package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/schema"
)

// maxTxRetries bounds the optimistic transaction loop of Redis.Update.
const maxTxRetries = 100

var ErrTxConflict = errors.New("document changed concurrently too many times")

// Dial connects to the redis server at url and checks it answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opt.Addr, err)
	}
	return client, nil
}

func NewRedisStores(client redis.UniversalClient, prefix string) *Stores {
	return &Stores{
		Global:     NewRedis(client, prefix, GlobalDocument, schema.DefaultGlobalState),
		Sessions:   NewRedis(client, prefix, SessionsDocument, schema.DefaultSessionStore),
		Vocabulary: NewRedis(client, prefix, VocabularyDocument, schema.DefaultVocabulary),
		Burns:      NewRedis(client, prefix, BurnsDocument, schema.DefaultBurnBoard),
		Backend:    config.StoreRedis,
	}
}

// Redis keeps a document under one key. Update is a WATCH/MULTI transaction, so several
// processes can share the same documents without losing writes.
type Redis[T any] struct {
	client redis.UniversalClient
	key    string
	def    func() T
}

func NewRedis[T any](client redis.UniversalClient, prefix, name string, def func() T) *Redis[T] {
	key := name
	if prefix != "" {
		key = prefix + ":" + name
	}
	return &Redis[T]{client: client, key: key, def: def}
}

func (r *Redis[T]) Key() string {
	return r.key
}

func (r *Redis[T]) Load(ctx context.Context) (T, error) {
	return r.get(ctx, r.client)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis[T]) get(ctx context.Context, c getter) (T, error) {
	b, err := c.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return r.def(), nil
	}
	if err != nil {
		return r.def(), err
	}
	v, err := decode(b, r.def)
	if err != nil {
		log.Warn("could not parse document, using default", "key", r.key, "error", err)
	}
	return v, nil
}

func (r *Redis[T]) Update(ctx context.Context, fn func(*T) error) (T, error) {
	var out T
	txf := func(tx *redis.Tx) error {
		v, err := r.get(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(&v); err != nil {
			out = v
			return errAbort{err}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, b, 0)
			return nil
		})
		if err == nil {
			out = v
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, r.key)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			log.Debug("document changed during update, retrying", "key", r.key, "attempt", attempt+1)
			continue
		default:
			return out, unwrapAbort(err)
		}
	}
	return out, fmt.Errorf("%w: %s", ErrTxConflict, r.key)
}
