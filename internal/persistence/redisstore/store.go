// Package redisstore mirrors match histories into Redis so another process
// can replay or hand over a match while it is still running.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

var ErrMatchNotFound = errors.New("redisstore: match not found")

// Store keeps one list of action envelopes per match, a meta hash and a
// sorted index of matches by creation time.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL expires a match's keys ttl after its last write.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: "gameframework:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Meta is the per-match summary kept next to the history.
type Meta struct {
	Seed      int64
	CreatedAt time.Time
	ClosedAt  time.Time
	Digest    string
}

func (s *Store) historyKey(id uuid.UUID) string { return s.prefix + "match:" + id.String() + ":history" }
func (s *Store) metaKey(id uuid.UUID) string    { return s.prefix + "match:" + id.String() + ":meta" }
func (s *Store) indexKey() string               { return s.prefix + "matches" }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Create registers a match in the index and stores its seed.
func (s *Store) Create(ctx context.Context, id uuid.UUID, seed int64, at time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: float64(at.UnixMilli()), Member: id.String()})
	pipe.HSet(ctx, s.metaKey(id), "seed", seed, "created_at", at.UTC().Format(time.RFC3339Nano))
	s.expire(ctx, pipe, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create %s: %w", id, err)
	}
	return nil
}

// AppendBatch appends one flushed batch to the match history.
func (s *Store) AppendBatch(ctx context.Context, id uuid.UUID, actions []json.RawMessage) error {
	if len(actions) == 0 {
		return nil
	}
	vals := make([]any, len(actions))
	for i, a := range actions {
		vals[i] = []byte(a)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.historyKey(id), vals...)
	pipe.HIncrBy(ctx, s.metaKey(id), "actions", int64(len(actions)))
	s.expire(ctx, pipe, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append %s: %w", id, err)
	}
	return nil
}

// Close marks the match finished with its final digest.
func (s *Store) Close(ctx context.Context, id uuid.UUID, digest string, at time.Time) error {
	err := s.client.HSet(ctx, s.metaKey(id), "closed_at", at.UTC().Format(time.RFC3339Nano), "digest", digest).Err()
	if err != nil {
		return fmt.Errorf("redis close %s: %w", id, err)
	}
	return nil
}

func (s *Store) expire(ctx context.Context, pipe backend.Pipeliner, id uuid.UUID) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.historyKey(id), s.ttl)
	pipe.Expire(ctx, s.metaKey(id), s.ttl)
}

// History returns the stored envelopes in append order.
func (s *Store) History(ctx context.Context, id uuid.UUID) ([]json.RawMessage, error) {
	vals, err := s.client.LRange(ctx, s.historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history %s: %w", id, err)
	}
	if len(vals) == 0 {
		if n, err := s.client.Exists(ctx, s.metaKey(id)).Result(); err == nil && n == 0 {
			return nil, ErrMatchNotFound
		}
	}
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		out[i] = json.RawMessage(v)
	}
	return out, nil
}

// Meta loads the match summary.
func (s *Store) Meta(ctx context.Context, id uuid.UUID) (Meta, error) {
	m, err := s.client.HGetAll(ctx, s.metaKey(id)).Result()
	if err != nil {
		return Meta{}, fmt.Errorf("redis meta %s: %w", id, err)
	}
	if len(m) == 0 {
		return Meta{}, ErrMatchNotFound
	}
	var out Meta
	if out.Seed, err = strconv.ParseInt(m["seed"], 10, 64); err != nil {
		return Meta{}, fmt.Errorf("redis meta %s: seed: %w", id, err)
	}
	if out.CreatedAt, err = parseTime(m["created_at"]); err != nil {
		return Meta{}, err
	}
	if out.ClosedAt, err = parseTime(m["closed_at"]); err != nil {
		return Meta{}, err
	}
	out.Digest = m["digest"]
	return out, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// Delete removes every key of the match.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.historyKey(id), s.metaKey(id))
	pipe.ZRem(ctx, s.indexKey(), id.String())
	_, err := pipe.Exec(ctx)
	return err
}

// Matches lists indexed matches, oldest first. Entries whose keys expired
// are pruned from the index on the way.
func (s *Store) Matches(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list matches: %w", err)
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		if s.ttl > 0 {
			n, err := s.client.Exists(ctx, s.metaKey(id)).Result()
			if err != nil {
				return nil, err
			}
			if n == 0 {
				s.client.ZRem(ctx, s.indexKey(), raw)
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// Shutdown closes the redis client.
func (s *Store) Shutdown() error {
	return s.client.Close()
}
