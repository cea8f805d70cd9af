package natsfeed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
	"quoteboard.com/pkg/logger"
)

// DefaultSubject subject 前缀缺省值
const DefaultSubject = "quotes"

// Subject 标的报价所在的 subject：{prefix}.{SYMBOL}
func Subject(prefix, symbol string) string {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return prefix + "." + strings.ToUpper(symbol)
}

// Source 从 NATS 订阅 {subject}.{SYMBOL} 上的报价。
// 断线重连由 nats 客户端负责；连接被关闭（Close 或重连次数耗尽）后 Recv 返回 ErrClosed。
type Source struct {
	nc      *nats.Conn
	subject string

	msgs   chan *nats.Msg
	closed chan struct{}

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// New 取走 s.Nats 并连接
func New(ctx context.Context, s *config.Setting, opts ...nats.Option) (*Source, error) {
	tok := s.Nats
	s.Nats = nil
	if tok == nil {
		return nil, fmt.Errorf("%w: nats: no credential block", mdsource.ErrInit)
	}
	url := tok.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := tok.Subject
	src := &Source{
		subject: subject,
		msgs:    make(chan *nats.Msg, 4096),
		closed:  make(chan struct{}),
		subs:    make(map[string]*nats.Subscription),
	}

	var closeOnce sync.Once
	all := []nats.Option{
		nats.Name("quoteboard"),
		nats.MaxReconnects(-1),
		nats.ClosedHandler(func(*nats.Conn) {
			closeOnce.Do(func() { close(src.closed) })
		}),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.Warn(ctx, "nats disconnected", zap.String("url", url))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	switch {
	case tok.Token != "":
		all = append(all, nats.Token(tok.Token))
	case tok.User != "":
		all = append(all, nats.UserInfo(tok.User, tok.Password))
	}
	all = append(all, opts...)

	nc, err := nats.Connect(url, all...)
	if err != nil {
		return nil, fmt.Errorf("%w: nats: %w", mdsource.ErrInit, err)
	}
	src.nc = nc
	return src, nil
}

func (s *Source) Name() string { return config.SourceNats }

func (s *Source) subjectFor(symbol string) string {
	return Subject(s.subject, symbol)
}

func (s *Source) Subscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[symbol]; ok {
		return nil
	}
	if !s.nc.IsConnected() {
		return fmt.Errorf("%w: nats %s: not connected", mdsource.ErrSubscribe, symbol)
	}
	sub, err := s.nc.ChanSubscribe(s.subjectFor(symbol), s.msgs)
	if err != nil {
		return fmt.Errorf("%w: nats %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	// Flush 确认服务端已经收到 SUB，权限不足等错误在这里暴露
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%w: nats %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	s.subs[symbol] = sub
	return nil
}

func (s *Source) Unsubscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[symbol]
	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("%w: nats %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	delete(s.subs, symbol)
	return nil
}

func (s *Source) Recv(ctx context.Context) (model.Quote, error) {
	for {
		select {
		case m := <-s.msgs:
			q, ok, err := model.DecodeWire(m.Data)
			if err != nil {
				logger.Debug(ctx, "drop undecodable nats message",
					zap.String("subject", m.Subject), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			q.Source = config.SourceNats
			return q, nil
		case <-s.closed:
			return model.Quote{}, mdsource.ErrClosed
		case <-ctx.Done():
			return model.Quote{}, ctx.Err()
		}
	}
}

func (s *Source) Close() error {
	s.nc.Close()
	return nil
}

var _ mdsource.Source = (*Source)(nil)
