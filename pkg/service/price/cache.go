package price

import (
	"context"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	priceKey        = "nativeTokenPrice"
	lastUpdateKey   = "nativeTokenPriceLastUpdate"
	DefaultCacheTTL = 5 * time.Minute
)

// Cache stores the native token price in redis so concurrent instances share a
// single feed quota. Writes are last-writer-wins; stamping a slightly older
// price is harmless within the TTL.
type Cache struct {
	client *redis.Client
	clock  clock.Clock
	ttl    time.Duration
}

func NewCache(client *redis.Client, clk clock.Clock, ttl time.Duration) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{client: client, clock: clk, ttl: ttl}
}

// Get returns the cached price and whether it is still fresh. A missing entry
// returns fresh == false and price == 0 with no error.
func (c *Cache) Get(ctx context.Context) (price float64, fresh bool, err error) {
	values, err := c.client.MGet(ctx, priceKey, lastUpdateKey).Result()
	if err != nil {
		return 0, false, errors.Wrap(err, "reading price cache")
	}

	rawPrice, ok := values[0].(string)
	if !ok {
		return 0, false, nil
	}
	price, err = strconv.ParseFloat(rawPrice, 64)
	if err != nil {
		return 0, false, errors.Wrap(err, "parsing cached price")
	}

	rawUpdated, ok := values[1].(string)
	if !ok {
		return price, false, nil
	}
	updatedMs, err := strconv.ParseInt(rawUpdated, 10, 64)
	if err != nil {
		return price, false, errors.Wrap(err, "parsing cached price timestamp")
	}

	age := c.clock.Now().Sub(time.UnixMilli(updatedMs))
	return price, age < c.ttl, nil
}

// Set records the latest price and its update time. The two keys are written
// in one round trip but not transactionally; last writer wins.
func (c *Cache) Set(ctx context.Context, price float64) error {
	nowMs := c.clock.Now().UnixMilli()
	err := c.client.MSet(ctx,
		priceKey, strconv.FormatFloat(price, 'f', -1, 64),
		lastUpdateKey, strconv.FormatInt(nowMs, 10),
	).Err()
	return errors.Wrap(err, "writing price cache")
}
