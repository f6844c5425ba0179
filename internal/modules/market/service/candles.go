package service

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const maxKlines = 1500

// GetCandles returns up to count bars of the instrument, oldest first. The
// last bar may still be forming.
func (c *Client) GetCandles(ctx context.Context, instrument, timeframe string, count int) ([]models.Candle, error) {
	if count <= 0 {
		count = 100
	}
	if count > maxKlines {
		count = maxKlines
	}
	tf := helper.NormTF(timeframe)
	if !helper.KnownTF(tf) {
		return nil, errors.Errorf("klines %s: unknown timeframe %q", instrument, timeframe)
	}

	q := url.Values{}
	q.Set("symbol", instrument)
	q.Set("interval", tf)
	q.Set("limit", strconv.Itoa(count))

	b, err := c.fetch(ctx, "klines "+instrument+" "+tf, "/fapi/v1/klines", q)
	if err != nil {
		return nil, err
	}
	return parseKlines(b, helper.TimeframeDuration(tf))
}

// parseKlines reads rows of [openTime, o, h, l, c, v, closeTime, ...].
func parseKlines(b []byte, tfDur time.Duration) ([]models.Candle, error) {
	var rows [][]any
	if err := sonic.Unmarshal(b, &rows); err != nil {
		return nil, errors.Wrap(ErrNoData, err.Error())
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, ok1 := number(row[0])
		open, ok2 := number(row[1])
		high, ok3 := number(row[2])
		low, ok4 := number(row[3])
		closep, ok5 := number(row[4])
		if !(ok1 && ok2 && ok3 && ok4 && ok5) || closep <= 0 {
			continue
		}
		vol, _ := number(row[5])

		start := time.UnixMilli(int64(ts))
		end := start.Add(tfDur)
		if len(row) >= 7 {
			if ct, ok := number(row[6]); ok {
				end = time.UnixMilli(int64(ct))
			}
		}

		out = append(out, models.Candle{
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closep,
			Volume: vol,
			Start:  start,
			End:    end,
		})
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// number accepts both quoted and bare JSON numbers.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case int64:
		return float64(x), true
	}
	return 0, false
}
