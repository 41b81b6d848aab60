// Package price quotes the attestation fee in native token units. The USD
// price of the token comes from an upstream feed and is cached in redis with a
// short TTL so concurrent instances share a single feed quota.
package price

import (
	"context"
	"fmt"
	"math/big"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/config"
	"github.com/stamphq/iam-service/pkg/service/framework"
)

// ErrPriceUnavailable is returned when the feed is down and no cached price
// exists, stale or otherwise.
var ErrPriceUnavailable = errors.New("native token price unavailable")

type Service struct {
	config config.PriceServiceConfig
	cache  *Cache
	feed   *Feed
}

func (s Service) Type() framework.Type {
	return framework.Price
}

func (s Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.cache == nil {
		ae.AppendString("no price cache configured")
	}
	if s.feed == nil {
		ae.AppendString("no price feed configured")
	}

	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("price service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewPriceService(config config.PriceServiceConfig, clk clock.Clock) (*Service, error) {
	if config.FeedURL == "" {
		return nil, sdkutil.LoggingNewError("price feed url is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress,
		Password: config.RedisPassword,
	})
	return newPriceService(config, NewCache(client, clk, config.CacheTTL), NewFeed(config.FeedURL, nil))
}

func newPriceService(config config.PriceServiceConfig, cache *Cache, feed *Feed) (*Service, error) {
	service := Service{config: config, cache: cache, feed: feed}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// CurrentPriceUSD returns the native token's USD price. A fresh cached price
// is served directly; otherwise the feed is consulted and the cache refreshed.
// When the feed fails, a stale cached price is better than no quote.
func (s Service) CurrentPriceUSD(ctx context.Context) (float64, error) {
	cached, fresh, err := s.cache.Get(ctx)
	if err != nil {
		logrus.WithError(err).Warn("price cache unavailable")
	}
	if fresh {
		return cached, nil
	}

	fetched, err := s.feed.Fetch(ctx)
	if err != nil {
		if cached > 0 {
			logrus.WithError(err).Warn("price feed failed, serving stale cached price")
			return cached, nil
		}
		logrus.WithError(err).Error("price feed failed with no cached fallback")
		return 0, ErrPriceUnavailable
	}

	if err = s.cache.Set(ctx, fetched); err != nil {
		logrus.WithError(err).Warn("could not refresh price cache")
	}
	return fetched, nil
}

// FeeAmount converts a USD fee into native token base units (wei).
func (s Service) FeeAmount(ctx context.Context, usdFee float64) (*big.Int, error) {
	priceUSD, err := s.CurrentPriceUSD(ctx)
	if err != nil {
		return nil, err
	}

	tokens := new(big.Float).Quo(big.NewFloat(usdFee), big.NewFloat(priceUSD))
	wei, _ := new(big.Float).Mul(tokens, big.NewFloat(params.Ether)).Int(nil)
	return wei, nil
}
