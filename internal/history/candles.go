package history

import (
	"context"
	"fmt"
	"net/url"

	"github.com/anvilabs/marketpipe/internal/model"
)

// Candles fetches one page of candles for (symbol, interval), ordered
// ascending by time. A non-nil to is an exclusive upper bound: the server
// returns only candles strictly older, which is how backward pagination
// walks into history. An empty result signals exhaustion, not an error.
func (c *Client) Candles(ctx context.Context, symbol string, interval model.Interval, to *model.BarTime) ([]model.Candle, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", string(interval))
	if to != nil {
		query.Set("to", to.Text())
	}

	var candles []model.Candle
	if err := c.get(ctx, "/candles", query, &candles); err != nil {
		return nil, fmt.Errorf("get candles %s %s: %w", symbol, interval, err)
	}

	return candles, nil
}
