// Package store persists whole JSON documents. Every mutation goes through Update, which
// loads, mutates and saves the document as one atomic step.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/schema"
)

// Document is a single persisted value of type T.
//
// Load returns the default value when nothing is stored yet or the stored bytes cannot be
// decoded. Update passes the current value to fn and saves whatever fn leaves behind. If fn
// returns an error nothing is saved and the error is returned unchanged.
type Document[T any] interface {
	Load(ctx context.Context) (T, error)
	Update(ctx context.Context, fn func(*T) error) (T, error)
}

// ErrSessionNotFound is returned for a session id missing from the session document.
var ErrSessionNotFound = errors.New("session not found")

const (
	GlobalDocument     = "global-state"
	SessionsDocument   = "user-sessions"
	VocabularyDocument = "learned-words"
	BurnsDocument      = "legendary-burns"
)

// Stores is the set of documents the chatbot reads and writes.
type Stores struct {
	Global     Document[schema.GlobalState]
	Sessions   Document[schema.SessionStore]
	Vocabulary Document[schema.Vocabulary]
	Burns      Document[schema.BurnBoard]

	Backend string
	close   func() error
}

// Open builds the documents for the backend selected by cfg.Store.
func Open(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.Store {
	case config.StoreFile, "":
		return NewFileStores(cfg.DataDir), nil
	case config.StoreMemory:
		return NewMemoryStores(), nil
	case config.StoreRedis:
		client, err := Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s := NewRedisStores(client, cfg.RedisPrefix)
		s.close = client.Close
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

func NewFileStores(dir string) *Stores {
	return &Stores{
		Global:     NewFile(dir, GlobalDocument, schema.DefaultGlobalState),
		Sessions:   NewFile(dir, SessionsDocument, schema.DefaultSessionStore),
		Vocabulary: NewFile(dir, VocabularyDocument, schema.DefaultVocabulary),
		Burns:      NewFile(dir, BurnsDocument, schema.DefaultBurnBoard),
		Backend:    config.StoreFile,
	}
}

func NewMemoryStores() *Stores {
	return &Stores{
		Global:     NewMemory(schema.DefaultGlobalState),
		Sessions:   NewMemory(schema.DefaultSessionStore),
		Vocabulary: NewMemory(schema.DefaultVocabulary),
		Burns:      NewMemory(schema.DefaultBurnBoard),
		Backend:    config.StoreMemory,
	}
}

// decode unmarshals b into a fresh default value so fields missing from old documents keep
// their defaults.
func decode[T any](b []byte, def func() T) (T, error) {
	v := def()
	if err := json.Unmarshal(b, &v); err != nil {
		return def(), err
	}
	return v, nil
}

// errAbort marks an error returned by the caller's mutation, so backends can tell it apart
// from their own failures.
type errAbort struct{ err error }

func (e errAbort) Error() string { return e.err.Error() }
func (e errAbort) Unwrap() error { return e.err }

func unwrapAbort(err error) error {
	var a errAbort
	if errors.As(err, &a) {
		return a.err
	}
	return err
}
