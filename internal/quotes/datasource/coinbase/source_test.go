package coinbase

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
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
)

// fakeFeed 模拟 ws-feed：无效的 product 回 error 帧，其余回 subscriptions 再推一条 ticker
func fakeFeed(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			var req struct {
				Type       string   `json:"type"`
				ProductIDs []string `json:"product_ids"`
			}
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			if req.Type == "subscribe" && req.ProductIDs[0] == "FOO-BAR" {
				_ = c.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"error","message":"Failed to subscribe","reason":"FOO-BAR is not a valid product"}`))
				continue
			}
			_ = c.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"subscriptions","channels":[{"name":"ticker","product_ids":["BTC-USD"]}]}`))
			if req.Type == "subscribe" {
				_ = c.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"ticker","product_id":"BTC-USD","price":"43250.12","open_24h":"42000.00","low_24h":"41800.5","high_24h":"43500","time":"2024-01-02T03:04:05.123456Z"}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSource_SubscribeRejected(t *testing.T) {
	s := &config.Setting{Coinbase: &config.CoinbaseToken{URL: fakeFeed(t)}}
	src, err := New(context.Background(), s)
	require.NoError(t, err)
	defer src.Close()

	err = src.Subscribe(context.Background(), "FOO-BAR")
	require.ErrorIs(t, err, mdsource.ErrSubscribe)
	assert.Contains(t, err.Error(), "not a valid product")
}

func TestSource_SubscribeAndRecv(t *testing.T) {
	s := &config.Setting{Coinbase: &config.CoinbaseToken{URL: fakeFeed(t)}}
	src, err := New(context.Background(), s)
	require.NoError(t, err)
	assert.Nil(t, s.Coinbase, "credential block consumed")

	require.NoError(t, src.Subscribe(context.Background(), "BTC-USD"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	q, err := src.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", q.Symbol)
	assert.Equal(t, config.SourceCoinbase, q.Source)
	assert.Equal(t, "43250.12", q.LastDone.String())

	require.NoError(t, src.Unsubscribe(context.Background(), "BTC-USD"))
	require.NoError(t, src.Close())
	_, err = src.Recv(context.Background())
	assert.ErrorIs(t, err, mdsource.ErrClosed)
}
