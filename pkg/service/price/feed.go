package price

import (
	"context"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/util"
)

const feedMaxRetries = 2

// Feed fetches the native token's USD price from an upstream HTTP endpoint
// serving {"usdPrice": <float>}.
type Feed struct {
	url        string
	httpClient *http.Client
}

func NewFeed(url string, httpClient *http.Client) *Feed {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Feed{url: url, httpClient: httpClient}
}

type feedResponse struct {
	USDPrice float64 `json:"usdPrice"`
}

// Fetch retrieves the current price, retrying transient failures with
// exponential backoff.
func (f *Feed) Fetch(ctx context.Context) (float64, error) {
	var price float64
	fetch := func() error {
		p, err := f.fetchOnce(ctx)
		if err != nil {
			return err
		}
		price = p
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), feedMaxRetries), ctx)
	if err := backoff.Retry(fetch, policy); err != nil {
		return 0, errors.Wrap(err, "fetching price from feed")
	}
	return price, nil
}

func (f *Feed) fetchOnce(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, backoff.Permanent(errors.Wrap(err, "building feed request"))
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "requesting price feed")
	}
	defer func() { _ = resp.Body.Close() }()

	if !util.Is2xxResponse(resp.StatusCode) {
		return 0, errors.Errorf("price feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, "reading feed response")
	}
	var parsed feedResponse
	if err = json.Unmarshal(body, &parsed); err != nil {
		return 0, errors.Wrap(err, "parsing feed response")
	}
	if parsed.USDPrice <= 0 {
		return 0, errors.Errorf("price feed returned non-positive price %f", parsed.USDPrice)
	}
	return parsed.USDPrice, nil
}
