package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/techland/internal/model"
)

const cartMaxRetries = 8

// CartStore keeps carts in Redis as JSON under cart:<sid>. Updates use
// WATCH/MULTI so two requests on the same cart cannot lose each other's
// changes; no cart state lives in process memory.
type CartStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewCartStore(rdb *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{rdb: rdb, ttl: ttl, prefix: "cart", now: time.Now}
}

func (s *CartStore) key(sid string) string { return s.prefix + ":" + sid }

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *CartStore) read(ctx context.Context, g stringGetter, sid string) (model.Cart, error) {
	raw, err := g.Get(ctx, s.key(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Cart{ID: sid}, nil
	}
	if err != nil {
		return model.Cart{}, err
	}
	var c model.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return model.Cart{}, err
	}
	c.ID = sid
	return c, nil
}

// Load returns the cart, or an empty one when none is stored.
func (s *CartStore) Load(ctx context.Context, sid string) (model.Cart, error) {
	return s.read(ctx, s.rdb, sid)
}

// Mutate applies fn to the current cart and stores the result with a new
// revision. If fn returns an error nothing is written and the error is
// returned unchanged.
func (s *CartStore) Mutate(ctx context.Context, sid string, fn func(*model.Cart) error) (model.Cart, error) {
	key := s.key(sid)
	for attempt := 0; attempt < cartMaxRetries; attempt++ {
		var out model.Cart
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cart, err := s.read(ctx, tx, sid)
			if err != nil {
				return err
			}
			if err := fn(&cart); err != nil {
				return err
			}
			cart.Revision = uuid.NewString()
			cart.UpdatedAt = s.now().UTC()
			body, err := json.Marshal(cart)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, body, s.ttl)
				return nil
			})
			out = cart
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return model.Cart{}, err
		}
		return out, nil
	}
	return model.Cart{}, ErrCartConflict
}

// Delete removes the cart unconditionally.
func (s *CartStore) Delete(ctx context.Context, sid string) error {
	return s.rdb.Del(ctx, s.key(sid)).Err()
}

// ClearIfRevision removes the cart only if it still has the given revision,
// so items added while a checkout was running survive it.
func (s *CartStore) ClearIfRevision(ctx context.Context, sid, revision string) (bool, error) {
	key := s.key(sid)
	cleared := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cart, err := s.read(ctx, tx, sid)
		if err != nil {
			return err
		}
		if cart.Revision != revision {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		cleared = err == nil
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return cleared, err
}
