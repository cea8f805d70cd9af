package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/datasource/natsfeed"
	"quoteboard.com/internal/quotes/datasource/redisfeed"
	"quoteboard.com/pkg/config"
)

// Publisher 把报价按 wire 格式发布到总线，natsfeed / redisfeed 是对应的消费端
type Publisher interface {
	Name() string
	Publish(ctx context.Context, q model.Quote) error
	Close() error
}

var ErrNoTarget = errors.New("relay target not configured")

// NewPublisher 按 relay.target 构造发布端
func NewPublisher(ctx context.Context, rc *config.RelayConfig) (Publisher, error) {
	if rc == nil {
		return nil, ErrNoTarget
	}
	switch rc.Target {
	case config.SourceNats:
		if rc.Nats == nil {
			return nil, fmt.Errorf("%w: relay.nats block missing", ErrNoTarget)
		}
		return NewNatsPublisher(*rc.Nats)
	case config.SourceRedis:
		if rc.Redis == nil {
			return nil, fmt.Errorf("%w: relay.redis block missing", ErrNoTarget)
		}
		return NewRedisPublisher(ctx, *rc.Redis)
	default:
		return nil, fmt.Errorf("%w: unsupported target %q", ErrNoTarget, rc.Target)
	}
}

type NatsPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNatsPublisher(tok config.NatsToken, opts ...nats.Option) (*NatsPublisher, error) {
	url := tok.URL
	if url == "" {
		url = nats.DefaultURL
	}
	all := []nats.Option{nats.Name("quoterelay"), nats.MaxReconnects(-1)}
	switch {
	case tok.Token != "":
		all = append(all, nats.Token(tok.Token))
	case tok.User != "":
		all = append(all, nats.UserInfo(tok.User, tok.Password))
	}
	nc, err := nats.Connect(url, append(all, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("relay nats connect: %w", err)
	}
	return &NatsPublisher{nc: nc, prefix: tok.Subject}, nil
}

func (p *NatsPublisher) Name() string { return config.SourceNats }

func (p *NatsPublisher) Publish(_ context.Context, q model.Quote) error {
	b, err := model.EncodeWire(q)
	if err != nil {
		return err
	}
	return p.nc.Publish(natsfeed.Subject(p.prefix, q.Symbol), b)
}

func (p *NatsPublisher) Close() error {
	// Drain 把已缓冲的消息刷出去再断开
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPublisher(ctx context.Context, tok config.RedisToken) (*RedisPublisher, error) {
	addr := tok.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: tok.Password, DB: tok.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("relay redis ping: %w", err)
	}
	return &RedisPublisher{rdb: rdb, prefix: tok.Channel}, nil
}

func (p *RedisPublisher) Name() string { return config.SourceRedis }

func (p *RedisPublisher) Publish(ctx context.Context, q model.Quote) error {
	b, err := model.EncodeWire(q)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, redisfeed.Channel(p.prefix, q.Symbol), b).Err()
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }

// MemPublisher 进程内发布端：按 topic 记录消息，供测试和本地演示使用
type MemPublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func NewMemPublisher() *MemPublisher {
	return &MemPublisher{msgs: make(map[string][][]byte)}
}

func (p *MemPublisher) Name() string { return "mem" }

func (p *MemPublisher) Publish(_ context.Context, q model.Quote) error {
	b, err := model.EncodeWire(q)
	if err != nil {
		return err
	}
	topic := natsfeed.Subject("", q.Symbol)
	p.mu.Lock()
	p.msgs[topic] = append(p.msgs[topic], b)
	p.mu.Unlock()
	return nil
}

// Messages 返回 topic 上收到的消息
func (p *MemPublisher) Messages(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.msgs[topic]...)
}

func (p *MemPublisher) Close() error { return nil }
