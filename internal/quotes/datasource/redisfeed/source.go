package redisfeed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
	"quoteboard.com/pkg/logger"
)

// DefaultChannel channel 前缀缺省值
const DefaultChannel = "quotes"

// Channel 标的报价所在的 pub/sub channel：{prefix}:{SYMBOL}
func Channel(prefix, symbol string) string {
	if prefix == "" {
		prefix = DefaultChannel
	}
	return prefix + ":" + strings.ToUpper(symbol)
}

// Source 通过 Redis pub/sub 订阅 {channel}:{SYMBOL}。
type Source struct {
	rdb     *redis.Client
	pubsub  *redis.PubSub
	msgs    <-chan *redis.Message
	channel string

	mu      sync.Mutex
	symbols map[string]struct{}
}

// New 取走 s.Redis，PING 通过才算握手成功
func New(ctx context.Context, s *config.Setting) (*Source, error) {
	tok := s.Redis
	s.Redis = nil
	if tok == nil {
		return nil, fmt.Errorf("%w: redis: no credential block", mdsource.ErrInit)
	}
	addr := tok.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	channel := tok.Channel
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: tok.Password,
		DB:       tok.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis: %w", mdsource.ErrInit, err)
	}

	pubsub := rdb.Subscribe(ctx)
	return &Source{
		rdb:     rdb,
		pubsub:  pubsub,
		msgs:    pubsub.Channel(),
		channel: channel,
		symbols: make(map[string]struct{}),
	}, nil
}

func (s *Source) Name() string { return config.SourceRedis }

func (s *Source) channelFor(symbol string) string {
	return Channel(s.channel, symbol)
}

func (s *Source) Subscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; ok {
		return nil
	}
	if err := s.pubsub.Subscribe(ctx, s.channelFor(symbol)); err != nil {
		return fmt.Errorf("%w: redis %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	s.symbols[symbol] = struct{}{}
	return nil
}

func (s *Source) Unsubscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; !ok {
		return nil
	}
	if err := s.pubsub.Unsubscribe(ctx, s.channelFor(symbol)); err != nil {
		return fmt.Errorf("%w: redis %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	delete(s.symbols, symbol)
	return nil
}

func (s *Source) Recv(ctx context.Context) (model.Quote, error) {
	for {
		select {
		case m, ok := <-s.msgs:
			if !ok {
				return model.Quote{}, mdsource.ErrClosed
			}
			q, isQuote, err := model.DecodeWire([]byte(m.Payload))
			if err != nil {
				logger.Debug(ctx, "drop undecodable redis message",
					zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if !isQuote {
				continue
			}
			q.Source = config.SourceRedis
			return q, nil
		case <-ctx.Done():
			return model.Quote{}, ctx.Err()
		}
	}
}

func (s *Source) Close() error {
	err := s.pubsub.Close()
	if cerr := s.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ mdsource.Source = (*Source)(nil)
