package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"signal_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	reconnectDelay = time.Second
	readTimeout    = time.Minute
)

// tickerFrame is one message of the combined <symbol>@ticker stream.
type tickerFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Close     string `json:"c"`
	} `json:"data"`
}

func streamURL(base string, instruments []string) string {
	names := make([]string, 0, len(instruments))
	for _, id := range instruments {
		names = append(names, strings.ToLower(id)+"@ticker")
	}
	return strings.TrimRight(base, "/") + "?streams=" + strings.Join(names, "/")
}

// StreamTickers keeps the price cache fed from the ticker stream until ctx is
// done, reconnecting after any read or dial failure. onState reports the
// connection state when set.
func (c *Client) StreamTickers(ctx context.Context, instruments []string, onState func(connected bool)) {
	if len(instruments) == 0 {
		return
	}
	if onState == nil {
		onState = func(bool) {}
	}
	u := streamURL(c.cfg.WSURL, instruments)

	for {
		if err := c.streamOnce(ctx, u, onState); err != nil && ctx.Err() == nil {
			logger.Warn("market ws: %v", err)
		}
		onState(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, u string, onState func(bool)) error {
	conn, _, err := c.wsDialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	logger.Info("market ws: connected")
	onState(true)

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var f tickerFrame
		if err := sonic.Unmarshal(msg, &f); err != nil || f.Data.Symbol == "" {
			continue
		}
		p, err := strconv.ParseFloat(f.Data.Close, 64)
		if err != nil || p <= 0 {
			continue
		}
		c.prices.set(strings.ToUpper(f.Data.Symbol), p, time.Now())
	}
}
