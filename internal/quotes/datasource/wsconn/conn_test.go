package wsconn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/pkg/logger"
)

var errTestClosed = errors.New("closed")

type testFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
	ID   string   `json:"id"`
}

// testReply 应答帧：{"ack":"1"} 或 {"ack":"1","err":"..."}
type testReply struct {
	Ack *string `json:"ack"`
	Err string  `json:"err,omitempty"`
}

// testProto 最简协议：{"op":"sub","args":[...],"id":"1"} / {"s":"X","p":"1.5"}
type testProto struct {
	next atomic.Int64
}

func (p *testProto) frame(op string, s []string) (any, string) {
	id := strconv.FormatInt(p.next.Add(1), 10)
	return testFrame{Op: op, Args: s, ID: id}, id
}

func (p *testProto) SubscribeFrame(s []string) (any, string)   { return p.frame("sub", s) }
func (p *testProto) UnsubscribeFrame(s []string) (any, string) { return p.frame("unsub", s) }

func (p *testProto) Reply(b []byte) (Ack, bool) {
	var r testReply
	if err := json.Unmarshal(b, &r); err != nil || r.Ack == nil {
		return Ack{}, false
	}
	ack := Ack{ID: *r.Ack}
	if r.Err != "" {
		ack.Err = errors.New(r.Err)
	}
	return ack, true
}

func (p *testProto) Decode(b []byte) ([]model.Quote, error) {
	var m struct {
		S string `json:"s"`
		P string `json:"p"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m.S == "" {
		return nil, nil
	}
	p2, err := decimal.NewFromString(m.P)
	if err != nil {
		return nil, err
	}
	return []model.Quote{{Symbol: m.S, LastDone: p2}}, nil
}

type fakeExchange struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeExchange(t *testing.T) *fakeExchange {
	t.Helper()
	fx := &fakeExchange{conns: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{}
	fx.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fx.conns <- c
	}))
	t.Cleanup(fx.srv.Close)
	return fx
}

func (fx *fakeExchange) url() string {
	return "ws" + strings.TrimPrefix(fx.srv.URL, "http")
}

func (fx *fakeExchange) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fx.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no client connection")
		return nil
	}
}

// serveAcks 在服务端读帧并逐帧应答，reject 里的 symbol 回拒绝；
// 读到的帧依次送进返回的 channel。它是服务端连接唯一的读者。
func serveAcks(server *websocket.Conn, reject map[string]string) <-chan testFrame {
	frames := make(chan testFrame, 16)
	go func() {
		defer close(frames)
		for {
			var f testFrame
			if err := server.ReadJSON(&f); err != nil {
				return
			}
			r := testReply{Ack: &f.ID}
			for _, a := range f.Args {
				if msg, ok := reject[a]; ok {
					r.Err = msg
				}
			}
			if err := server.WriteJSON(r); err != nil {
				return
			}
			frames <- f
		}
	}()
	return frames
}

func nextFrame(t *testing.T, frames <-chan testFrame) testFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "server connection closed")
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("no frame from client")
		return testFrame{}
	}
}

func testConfig(url string) Config {
	return Config{
		Name:        "fake",
		URL:         url,
		BaseBackoff: 10 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	}
}

func recv(t *testing.T, c *Conn) model.Quote {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	q, err := c.Recv(ctx, errTestClosed)
	require.NoError(t, err)
	return q
}

func TestConn_SubscribeAndRecv(t *testing.T) {
	fx := newFakeExchange(t)
	c, err := Dial(context.Background(), testConfig(fx.url()), &testProto{})
	require.NoError(t, err)
	defer c.Close()
	server := fx.accept(t)
	frames := serveAcks(server, nil)

	require.NoError(t, c.Subscribe("AAA"))
	require.NoError(t, c.Subscribe("AAA"), "duplicate subscribe is a no-op")
	f := nextFrame(t, frames)
	assert.Equal(t, "sub", f.Op)
	assert.Equal(t, []string{"AAA"}, f.Args)

	// 非报价帧被过滤，坏帧被丢弃
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"s":"AAA","p":"1.25"}`)))

	q := recv(t, c)
	assert.Equal(t, "AAA", q.Symbol)
	assert.Equal(t, "fake", q.Source)
	assert.True(t, q.LastDone.Equal(decimal.RequireFromString("1.25")))

	require.NoError(t, c.Unsubscribe("AAA"))
	f = nextFrame(t, frames)
	assert.Equal(t, "unsub", f.Op)
	assert.Equal(t, []string{"AAA"}, f.Args)
	assert.Empty(t, c.Symbols())
}

func TestConn_SubscribeRejected(t *testing.T) {
	fx := newFakeExchange(t)
	c, err := Dial(context.Background(), testConfig(fx.url()), &testProto{})
	require.NoError(t, err)
	defer c.Close()
	frames := serveAcks(fx.accept(t), map[string]string{"BAD": "BAD is not a valid product"})

	err = c.Subscribe("BAD")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "not a valid product")
	assert.Equal(t, []string{"BAD"}, nextFrame(t, frames).Args)
	assert.Empty(t, c.Symbols(), "rejected symbol is not replayed")

	require.NoError(t, c.Subscribe("AAA"))
	assert.Equal(t, []string{"AAA"}, c.Symbols())
}

func TestConn_SubscribeAckTimeout(t *testing.T) {
	fx := newFakeExchange(t)
	cfg := testConfig(fx.url())
	cfg.AckWait = 50 * time.Millisecond
	c, err := Dial(context.Background(), cfg, &testProto{})
	require.NoError(t, err)
	defer c.Close()
	fx.accept(t) // 服务端从不应答

	err = c.Subscribe("AAA")
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.Empty(t, c.Symbols())
}

func TestConn_UnmatchedRejectionLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	fx := newFakeExchange(t)
	c, err := Dial(context.Background(), testConfig(fx.url()), &testProto{})
	require.NoError(t, err)
	defer c.Close()
	server := fx.accept(t)

	// 没有请求在等的拒绝（例如重连重放被拒）
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"ack":"99","err":"ZZZ delisted"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"s":"AAA","p":"1"}`)))
	assert.Equal(t, "AAA", recv(t, c).Symbol, "a reply frame is not decoded as a quote")

	entries := logs.FilterMessage("subscription rejected upstream").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "99", entries[0].ContextMap()["id"])
}

func TestConn_ReconnectReplaysSubscriptions(t *testing.T) {
	fx := newFakeExchange(t)
	c, err := Dial(context.Background(), testConfig(fx.url()), &testProto{})
	require.NoError(t, err)
	defer c.Close()

	first := fx.accept(t)
	frames := serveAcks(first, nil)
	require.NoError(t, c.Subscribe("AAA"))
	require.NoError(t, c.Subscribe("BBB"))
	nextFrame(t, frames)
	nextFrame(t, frames)

	// 服务端断开，客户端退避后重连并一次性重放订阅
	require.NoError(t, first.Close())
	second := fx.accept(t)
	f := nextFrame(t, serveAcks(second, nil))
	assert.Equal(t, "sub", f.Op)
	assert.Equal(t, []string{"AAA", "BBB"}, f.Args)

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"s":"BBB","p":"2"}`)))
	assert.Equal(t, "BBB", recv(t, c).Symbol)
}

func TestConn_CloseEndsRecv(t *testing.T) {
	fx := newFakeExchange(t)
	c, err := Dial(context.Background(), testConfig(fx.url()), &testProto{})
	require.NoError(t, err)
	fx.accept(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Recv(context.Background(), errTestClosed)
	assert.ErrorIs(t, err, errTestClosed)
}

func TestConn_RecvHonoursContext(t *testing.T) {
	fx := newFakeExchange(t)
	c, err := Dial(context.Background(), testConfig(fx.url()), &testProto{})
	require.NoError(t, err)
	defer c.Close()
	fx.accept(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Recv(ctx, errTestClosed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_Unreachable(t *testing.T) {
	fx := newFakeExchange(t)
	url := fx.url()
	fx.srv.Close()

	_, err := Dial(context.Background(), testConfig(url), &testProto{})
	assert.Error(t, err)
}
