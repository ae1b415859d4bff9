// Package redisstore persists security tokens in Redis.
//
// Each record lives under <prefix>:tok:<value> with a TTL equal to its
// remaining lifetime plus a grace (DefaultExpiryGrace unless overridden), so
// an expired token is still found and reported as expired until the sweeper
// or Redis removes it. <prefix>:idx:<userID> is a set
// of the user's token values; entries whose record has been evicted are
// pruned lazily on read.
package redisstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/token"
	"github.com/redis/go-redis/v9"
)

const (
	recordVersionV1 = 1
	defaultPrefix   = "gacc"
	minTTL          = time.Second
	maxTxRetries    = 4
	scanBatch       = 256
)

// DefaultExpiryGrace is how long a record outlives its expiry by default.
const DefaultExpiryGrace = 24 * time.Hour

// ErrUnavailable wraps every Redis transport failure.
var ErrUnavailable = errors.New("token redis unavailable")

// Tokens implements token.Repository on Redis.
type Tokens struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
	now    func() time.Time
}

// Option customizes Tokens.
type Option func(*Tokens)

// WithExpiryGrace keeps records for grace past their expiry. Zero lets Redis
// evict a record as soon as it expires, after which it reads as unknown
// rather than expired.
func WithExpiryGrace(grace time.Duration) Option {
	return func(t *Tokens) {
		if grace >= 0 {
			t.grace = grace
		}
	}
}

// WithClock overrides the time source used to compute TTLs.
func WithClock(now func() time.Time) Option {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens returns a repository using keys under prefix.
func NewTokens(client redis.UniversalClient, prefix string, opts ...Option) *Tokens {
	if prefix == "" {
		prefix = defaultPrefix
	}
	t := &Tokens{redis: client, prefix: prefix, grace: DefaultExpiryGrace, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (s *Tokens) tokenKey(value string) string { return s.prefix + ":tok:" + value }
func (s *Tokens) indexKey(userID string) string { return s.prefix + ":idx:" + userID }

func (s *Tokens) ttl(tok *token.SecurityToken) time.Duration {
	ttl := tok.ExpiresAt.Sub(s.now()) + s.grace
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func (s *Tokens) Save(ctx context.Context, tok *token.SecurityToken) error {
	encoded, err := encodeRecord(tok)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(tok.Value), encoded, s.ttl(tok))
		pipe.SAdd(ctx, s.indexKey(tok.UserID), tok.Value)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Tokens) FindByValueAndType(ctx context.Context, value string, typ token.Type) (*token.SecurityToken, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, token.ErrNotFound
		}
		return nil, unavailable(err)
	}
	tok, err := decodeRecord(value, data)
	if err != nil {
		return nil, err
	}
	if tok.Type != typ {
		return nil, token.ErrNotFound
	}
	return tok, nil
}

func (s *Tokens) FindByUserAndType(ctx context.Context, userID string, typ token.Type) ([]*token.SecurityToken, error) {
	all, err := s.forUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, tok := range all {
		if tok.Type == typ {
			out = append(out, tok)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes value with GETDEL so that exactly one concurrent caller
// receives the record.
func (s *Tokens) Delete(ctx context.Context, value string) (bool, error) {
	data, err := s.redis.GetDel(ctx, s.tokenKey(value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	if tok, decodeErr := decodeRecord(value, data); decodeErr == nil {
		if err := s.redis.SRem(ctx, s.indexKey(tok.UserID), value).Err(); err != nil {
			return true, unavailable(err)
		}
	}
	return true, nil
}

func (s *Tokens) DeleteByUserAndType(ctx context.Context, userID string, typ token.Type) (int, error) {
	return s.deleteForUser(ctx, userID, func(tok *token.SecurityToken) bool { return tok.Type == typ })
}

func (s *Tokens) DeleteByUser(ctx context.Context, userID string) (int, error) {
	return s.deleteForUser(ctx, userID, func(*token.SecurityToken) bool { return true })
}

// deleteForUser removes the user's records accepted by match inside a WATCH on
// the index key, retrying when a concurrent Save touches the index.
func (s *Tokens) deleteForUser(ctx context.Context, userID string, match func(*token.SecurityToken) bool) (int, error) {
	idx := s.indexKey(userID)

	for i := 0; i < maxTxRetries; i++ {
		deleted := 0
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			values, err := tx.SMembers(ctx, idx).Result()
			if err != nil {
				return err
			}
			toks, missing, err := s.load(ctx, tx, values)
			if err != nil {
				return err
			}

			var victims []string
			for _, tok := range toks {
				if match(tok) {
					victims = append(victims, tok.Value)
				}
			}
			if len(victims) == 0 && len(missing) == 0 {
				return nil
			}

			var dels []*redis.IntCmd
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, v := range victims {
					dels = append(dels, pipe.Del(ctx, s.tokenKey(v)))
				}
				stale := append(victims, missing...)
				members := make([]interface{}, len(stale))
				for j, v := range stale {
					members[j] = v
				}
				pipe.SRem(ctx, idx, members...)
				return nil
			})
			if err != nil {
				return err
			}
			for _, cmd := range dels {
				deleted += int(cmd.Val())
			}
			return nil
		}, idx)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, unavailable(err)
		}
		return deleted, nil
	}
	return 0, fmt.Errorf("%w: index for %s kept changing", ErrUnavailable, userID)
}

// All scans every token key. It backs the sweeper and is linear in the
// number of stored tokens.
func (s *Tokens) All(ctx context.Context) ([]*token.SecurityToken, error) {
	keyPrefix := s.tokenKey("")
	var out []*token.SecurityToken

	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		values := make([]string, len(batch))
		for i, k := range batch {
			values[i] = strings.TrimPrefix(k, keyPrefix)
		}
		toks, _, err := s.load(ctx, s.redis, values)
		if err != nil {
			return err
		}
		out = append(out, toks...)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return nil, unavailable(err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(err)
	}
	if err := flush(); err != nil {
		return nil, unavailable(err)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Tokens) forUser(ctx context.Context, userID string) ([]*token.SecurityToken, error) {
	idx := s.indexKey(userID)
	values, err := s.redis.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	toks, missing, err := s.load(ctx, s.redis, values)
	if err != nil {
		return nil, unavailable(err)
	}
	if len(missing) > 0 {
		members := make([]interface{}, len(missing))
		for i, v := range missing {
			members[i] = v
		}
		// Pruning is best effort; a failure leaves stale members for the next read.
		_ = s.redis.SRem(ctx, idx, members...).Err()
	}
	return toks, nil
}

// multiGetter is satisfied by clients and by *redis.Tx inside WATCH.
type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// load fetches the records for values and reports values with no record.
func (s *Tokens) load(ctx context.Context, c multiGetter, values []string) ([]*token.SecurityToken, []string, error) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = s.tokenKey(v)
	}
	raw, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}

	toks := make([]*token.SecurityToken, 0, len(values))
	var missing []string
	for i, r := range raw {
		str, ok := r.(string)
		if !ok {
			missing = append(missing, values[i])
			continue
		}
		tok, err := decodeRecord(values[i], []byte(str))
		if err != nil {
			return nil, nil, err
		}
		toks = append(toks, tok)
	}
	return toks, missing, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func sortNewestFirst(toks []*token.SecurityToken) {
	sort.SliceStable(toks, func(i, j int) bool {
		return toks[i].CreatedAt.After(toks[j].CreatedAt)
	})
}

// encodeRecord writes a versioned binary record. The value is the key suffix
// and is not repeated in the payload.
func encodeRecord(tok *token.SecurityToken) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersionV1)

	for _, s := range []string{tok.ID, string(tok.Type), tok.UserID} {
		if len(s) > 65535 {
			return nil, errors.New("token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}
	if err := binary.Write(&buf, binary.BigEndian, tok.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, tok.ExpiresAt.UnixNano()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(value string, data []byte) (*token.SecurityToken, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid token record version")
	}

	fields := make([]string, 3)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return nil, err
		}
		fields[i] = string(b)
	}

	var created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return nil, err
	}

	typ, err := token.ParseType(fields[1])
	if err != nil {
		return nil, err
	}
	return &token.SecurityToken{
		ID:        fields[0],
		Value:     value,
		Type:      typ,
		UserID:    fields[2],
		CreatedAt: time.Unix(0, created),
		ExpiresAt: time.Unix(0, expires),
	}, nil
}
