package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	assert.Equal(t,
		"wss://fstream.binance.com/stream?streams=solusdt@ticker/avaxusdt@ticker",
		streamURL("wss://fstream.binance.com/stream/", []string{"SOLUSDT", "AVAXUSDT"}),
	)
}

func TestStreamTickersFeedsCache(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "solusdt@ticker", r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"solusdt@ticker","data":{"e":"24hrTicker","E":1,"s":"SOLUSDT","c":"152.5","q":"1000"}}`))
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:     "http://127.0.0.1:1",
		WSURL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		PriceMaxAge: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	connected := make(chan bool, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.StreamTickers(ctx, []string{"SOLUSDT"}, func(v bool) {
			select {
			case connected <- v:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		_, ok := c.prices.get("SOLUSDT", time.Minute)
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	p, err := c.GetLastPrice(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 152.5, p)
	assert.True(t, <-connected)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop")
	}
}
