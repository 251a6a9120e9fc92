package rates

import (
	"context"
	"encoding/json"
	"time"

	"botpay/cache"
	"botpay/models"
)

const lastGoodTTL = 7 * 24 * time.Hour

// RedisLastGoodStore keeps the most recent live quote in Redis so a
// restarted process can still quote from the stale fallback before its
// first successful live fetch.
type RedisLastGoodStore struct {
	redis *cache.RedisCache
}

func CreateRedisLastGoodStore(redis *cache.RedisCache) *RedisLastGoodStore {
	return &RedisLastGoodStore{redis: redis}
}

func (s *RedisLastGoodStore) key(pair string) string {
	return "rates:last_good:" + pair
}

func (s *RedisLastGoodStore) Save(ctx context.Context, quote *models.RateQuote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.key(quote.Pair), data, lastGoodTTL)
}

func (s *RedisLastGoodStore) Load(ctx context.Context, pair string) (*models.RateQuote, error) {
	data, err := s.redis.Get(ctx, s.key(pair))
	if err != nil {
		if cache.IsMiss(err) {
			return nil, nil
		}
		return nil, err
	}

	var quote models.RateQuote
	if err := json.Unmarshal([]byte(data), &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}
