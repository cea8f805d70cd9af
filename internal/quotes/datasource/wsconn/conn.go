package wsconn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/quotemetrics"
	"quoteboard.com/pkg/logger"
	"quoteboard.com/pkg/safe"
)

var (
	// ErrNotReady 当前没有可用连接（正在重连）
	ErrNotReady = errors.New("websocket not connected")
	// ErrAckTimeout AckWait 内没有收到订阅应答
	ErrAckTimeout = errors.New("no subscription reply")
	// ErrRejected 上游拒绝了订阅请求
	ErrRejected = errors.New("subscription rejected")
)

// Ack 上游对订阅/退订请求的应答，Err 非空表示被拒绝
type Ack struct {
	ID  string
	Err error
}

// Protocol 描述一个交易所的 websocket 行情协议
type Protocol interface {
	// SubscribeFrame / UnsubscribeFrame 返回要发送的 JSON 帧，
	// 以及应答帧里用来配对的 id（上游不带 id 时返回空串）
	SubscribeFrame(symbols []string) (frame any, ackID string)
	UnsubscribeFrame(symbols []string) (frame any, ackID string)
	// Reply 识别订阅应答帧；不是应答时 ok=false
	Reply(msg []byte) (ack Ack, ok bool)
	// Decode 把一帧解析成报价；非报价帧返回 (nil, nil)
	Decode(msg []byte) ([]model.Quote, error)
}

type Config struct {
	Name string
	URL  string

	ReadLimit int64
	PongWait  time.Duration
	WriteWait time.Duration
	// AckWait 订阅请求等待应答的上限，默认同 WriteWait
	AckWait time.Duration

	// Backoff 参数：指数退避 + jitter
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Buffer 解码后报价的缓冲长度
	Buffer int
	Dialer *websocket.Dialer
}

func (c *Config) withDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.AckWait <= 0 {
		c.AckWait = c.WriteWait
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 300 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Conn 是一条自动重连的行情 websocket。
//
// 后台读协程负责读帧、解码、断线重连（重连后重放订阅）；
// 解码出的报价通过带缓冲的 channel 交给 Recv。Close 之后 channel 关闭。
type Conn struct {
	cfg     Config
	proto   Protocol
	breaker *gobreaker.CircuitBreaker[*websocket.Conn]
	out     chan model.Quote

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols []string

	// gorilla 不允许并发写：Subscribe 与 ping 回复可能同时发生
	writeMu sync.Mutex

	// subMu 串行化订阅请求，同一时刻只有一个请求在等应答
	subMu   sync.Mutex
	pendMu  sync.Mutex
	pending map[string]chan error

	closeOnce sync.Once
}

// Dial 同步建立第一条连接（握手失败直接返回），然后启动后台读协程。
func Dial(ctx context.Context, cfg Config, proto Protocol) (*Conn, error) {
	cfg.withDefaults()

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:    cfg,
		proto:  proto,
		out:    make(chan model.Quote, cfg.Buffer),
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),

		pending: make(map[string]chan error),
	}
	c.breaker = gobreaker.NewCircuitBreaker[*websocket.Conn](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.MaxBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(runCtx, "dial breaker state changed",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	safe.Go(func() { c.run(conn) })
	return c, nil
}

// Subscribe 发送订阅帧并等待上游应答；成功后记录，重连后自动重放
func (c *Conn) Subscribe(symbol string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	if slices.Contains(c.symbols, symbol) {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	// 先记下，等应答期间重连也会重放它；失败再撤掉
	c.symbols = append(c.symbols, symbol)
	c.mu.Unlock()

	frame, id := c.proto.SubscribeFrame([]string{symbol})
	if err := c.request(conn, frame, id); err != nil {
		c.mu.Lock()
		c.symbols = slices.DeleteFunc(c.symbols, func(s string) bool { return s == symbol })
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Conn) Unsubscribe(symbol string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	conn, has := c.conn, slices.Contains(c.symbols, symbol)
	c.mu.Unlock()
	if !has {
		return nil
	}
	if conn == nil {
		return ErrNotReady
	}

	frame, id := c.proto.UnsubscribeFrame([]string{symbol})
	if err := c.request(conn, frame, id); err != nil {
		return err
	}
	c.mu.Lock()
	c.symbols = slices.DeleteFunc(c.symbols, func(s string) bool { return s == symbol })
	c.mu.Unlock()
	return nil
}

// request 写出一帧并等待 id 对应的应答
func (c *Conn) request(conn *websocket.Conn, frame any, id string) error {
	reply := make(chan error, 1)
	c.pendMu.Lock()
	c.pending[id] = reply
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.writeJSON(conn, frame); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.AckWait)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err
	case <-timer.C:
		return fmt.Errorf("%w within %s", ErrAckTimeout, c.cfg.AckWait)
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// settle 把应答交给等待中的请求；没人等的拒绝（重放或迟到的应答）只记日志
func (c *Conn) settle(ack Ack) {
	c.pendMu.Lock()
	reply, ok := c.pending[ack.ID]
	delete(c.pending, ack.ID)
	c.pendMu.Unlock()

	if ok {
		if ack.Err != nil {
			reply <- fmt.Errorf("%w: %w", ErrRejected, ack.Err)
		} else {
			reply <- nil
		}
		return
	}
	if ack.Err != nil {
		logger.Warn(c.ctx, "subscription rejected upstream",
			zap.String("source", c.cfg.Name), zap.String("id", ack.ID), zap.Error(ack.Err))
	}
}

// Symbols 当前订阅集合
func (c *Conn) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.symbols)
}

// Recv 读取下一条报价。channel 关闭返回 closedErr。
func (c *Conn) Recv(ctx context.Context, closedErr error) (model.Quote, error) {
	select {
	case q, ok := <-c.out:
		if !ok {
			return model.Quote{}, closedErr
		}
		return q, nil
	case <-ctx.Done():
		return model.Quote{}, ctx.Err()
	}
}

// Close 停止重连，关闭当前连接，等待读协程退出
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		<-c.done
	})
	return nil
}

func (c *Conn) run(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.out)

	backoff := c.cfg.BaseBackoff
	for {
		if conn != nil {
			err := c.readLoop(conn)
			_ = conn.Close()
			c.setConn(nil)
			conn = nil
			if c.ctx.Err() != nil {
				return
			}
			logger.Warn(c.ctx, "websocket read failed, reconnecting",
				zap.String("source", c.cfg.Name), zap.Error(err))
		}

		// 指数退避 + jitter（避免所有源同时重连造成尖峰）
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		if sleep > c.cfg.MaxBackoff {
			sleep = c.cfg.MaxBackoff
		}
		timer := time.NewTimer(sleep)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		next, err := c.dial(c.ctx)
		if err != nil {
			logger.Warn(c.ctx, "websocket redial failed",
				zap.String("source", c.cfg.Name), zap.Duration("backoff", backoff), zap.Error(err))
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}
		quotemetrics.Reconnects.WithLabelValues(c.cfg.Name).Inc()
		backoff = c.cfg.BaseBackoff
		conn = next
	}
}

// dial 经过熔断器建连，成功后重放订阅并登记为当前连接
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, err := c.breaker.Execute(func() (*websocket.Conn, error) {
		conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
		return conn, err
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	conn.SetReadLimit(c.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteWait))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		_ = conn.Close()
		return nil, c.ctx.Err()
	}
	if len(c.symbols) > 0 {
		// 重放不等应答，被拒绝时由 settle 记 Warn
		frame, _ := c.proto.SubscribeFrame(c.symbols)
		if err := c.writeJSON(conn, frame); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("resubscribe: %w", err)
		}
	}
	c.conn = conn
	return conn, nil
}

func (c *Conn) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		if ack, ok := c.proto.Reply(msg); ok {
			c.settle(ack)
			continue
		}
		quotes, err := c.proto.Decode(msg)
		if err != nil {
			logger.Debug(c.ctx, "drop undecodable frame",
				zap.String("source", c.cfg.Name), zap.Error(err))
			continue
		}
		for _, q := range quotes {
			q.Source = c.cfg.Name
			select {
			case c.out <- q:
			case <-c.ctx.Done():
				return c.ctx.Err()
			}
		}
	}
}

func (c *Conn) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Conn) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return conn.WriteJSON(v)
}
