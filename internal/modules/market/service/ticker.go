package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"signal_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

type quote struct {
	price float64
	at    time.Time
}

// priceCache keeps the last streamed price per instrument.
type priceCache struct {
	mu sync.RWMutex
	m  map[string]quote
}

func newPriceCache() *priceCache {
	return &priceCache{m: make(map[string]quote)}
}

func (p *priceCache) set(instrument string, price float64, at time.Time) {
	p.mu.Lock()
	p.m[instrument] = quote{price: price, at: at}
	p.mu.Unlock()
}

func (p *priceCache) get(instrument string, maxAge time.Duration) (float64, bool) {
	p.mu.RLock()
	q, ok := p.m[instrument]
	p.mu.RUnlock()
	if !ok || q.price <= 0 || maxAge <= 0 || time.Since(q.at) > maxAge {
		return 0, false
	}
	return q.price, true
}

// GetLastPrice prefers a fresh streamed price and falls back to REST.
func (c *Client) GetLastPrice(ctx context.Context, instrument string) (float64, error) {
	if p, ok := c.prices.get(instrument, c.cfg.PriceMaxAge); ok {
		return p, nil
	}

	// concurrent REST lookups for one instrument share a single request
	v, err, _ := c.flight.Do("price:"+instrument, func() (any, error) {
		q := url.Values{}
		q.Set("symbol", instrument)
		return c.fetch(ctx, "price "+instrument, "/fapi/v1/ticker/price", q)
	})
	if err != nil {
		return 0, err
	}
	b := v.([]byte)

	var r struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := sonic.Unmarshal(b, &r); err != nil {
		return 0, errors.Wrap(ErrNoData, err.Error())
	}
	p, err := strconv.ParseFloat(r.Price, 64)
	if err != nil || p <= 0 {
		return 0, errors.Wrapf(ErrNoData, "price %s: %q", instrument, r.Price)
	}
	return p, nil
}

// GetTicker24h returns last price and 24h quote volume.
func (c *Client) GetTicker24h(ctx context.Context, instrument string) (models.Ticker, error) {
	q := url.Values{}
	q.Set("symbol", instrument)
	b, err := c.fetch(ctx, "ticker24h "+instrument, "/fapi/v1/ticker/24hr", q)
	if err != nil {
		return models.Ticker{}, err
	}

	var r struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := sonic.Unmarshal(b, &r); err != nil {
		return models.Ticker{}, errors.Wrap(ErrNoData, err.Error())
	}
	last, err1 := strconv.ParseFloat(r.LastPrice, 64)
	vol, err2 := strconv.ParseFloat(r.QuoteVolume, 64)
	if err1 != nil || err2 != nil {
		return models.Ticker{}, errors.Wrapf(ErrNoData, "ticker24h %s", instrument)
	}
	sym := r.Symbol
	if sym == "" {
		sym = instrument
	}
	return models.Ticker{Instrument: strings.ToUpper(sym), LastPrice: last, QuoteVolume: vol}, nil
}
