package exchange

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REST CLIENT - Open interest, symbols, spot prices, funding
// ═══════════════════════════════════════════════════════════════════════════════

// oiConcurrency bounds parallel open-interest requests to stay inside the
// exchange rate limits.
const oiConcurrency = 10

type Client struct {
	futures *futures.Client
	spot    *binance.Client
}

// NewClient builds an unauthenticated client; all endpoints used here are
// public market data.
func NewClient() *Client {
	return &Client{
		futures: binance.NewFuturesClient("", ""),
		spot:    binance.NewClient("", ""),
	}
}

// PerpetualSymbols returns all USDT perpetual contracts currently trading.
func (c *Client) PerpetualSymbols(ctx context.Context) ([]string, error) {
	info, err := c.futures.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" && s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	log.Debug().Int("count", len(symbols)).Msg("📋 Perpetual symbols fetched")
	return symbols, nil
}

// OpenInterest returns the current open interest in base units.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	res, err := c.futures.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(res.OpenInterest, 64)
}

// AllOpenInterest polls open interest for every symbol with bounded
// concurrency. Failed symbols are skipped, not fatal.
func (c *Client) AllOpenInterest(ctx context.Context, symbols []string) map[string]float64 {
	result := make(map[string]float64, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, oiConcurrency)

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			wg.Wait()
			return result
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			oi, err := c.OpenInterest(ctx, symbol)
			if err != nil {
				log.Debug().Str("symbol", symbol).Err(err).Msg("OI fetch failed")
				return
			}
			mu.Lock()
			result[symbol] = oi
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return result
}

// SpotPrices returns the latest spot price for every USDT pair.
func (c *Client) SpotPrices(ctx context.Context) (map[string]float64, error) {
	prices, err := c.spot.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]float64, len(prices))
	for _, p := range prices {
		if !strings.HasSuffix(p.Symbol, "USDT") {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || v <= 0 {
			continue
		}
		result[p.Symbol] = v
	}
	return result, nil
}

// FundingRate returns the latest funding rate for a contract.
func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	rows, err := c.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return strconv.ParseFloat(rows[0].LastFundingRate, 64)
}

// Kline is one futures candle.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Klines fetches historical candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	rows, err := c.futures.NewKlinesService().
		Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		open, _ := strconv.ParseFloat(row.Open, 64)
		high, _ := strconv.ParseFloat(row.High, 64)
		low, _ := strconv.ParseFloat(row.Low, 64)
		closeP, _ := strconv.ParseFloat(row.Close, 64)
		volume, _ := strconv.ParseFloat(row.Volume, 64)
		klines = append(klines, Kline{
			OpenTime:  time.UnixMilli(row.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
			CloseTime: time.UnixMilli(row.CloseTime),
		})
	}
	return klines, nil
}
