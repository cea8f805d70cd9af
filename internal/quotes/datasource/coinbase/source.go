package coinbase

import (
	"context"
	"fmt"

	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/datasource/wsconn"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
)

const DefaultURL = "wss://ws-feed.exchange.coinbase.com"

type Source struct {
	conn *wsconn.Conn
}

// New 取走 s.Coinbase 并建立连接
func New(ctx context.Context, s *config.Setting) (*Source, error) {
	tok := s.Coinbase
	s.Coinbase = nil
	if tok == nil {
		return nil, fmt.Errorf("%w: coinbase: no credential block", mdsource.ErrInit)
	}
	url := tok.URL
	if url == "" {
		url = DefaultURL
	}

	conn, err := wsconn.Dial(ctx, wsconn.Config{Name: config.SourceCoinbase, URL: url}, protocol{})
	if err != nil {
		return nil, fmt.Errorf("%w: coinbase: %w", mdsource.ErrInit, err)
	}
	return &Source{conn: conn}, nil
}

func (s *Source) Name() string { return config.SourceCoinbase }

func (s *Source) Subscribe(ctx context.Context, symbol string) error {
	if err := s.conn.Subscribe(symbol); err != nil {
		return fmt.Errorf("%w: coinbase %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	return nil
}

func (s *Source) Unsubscribe(ctx context.Context, symbol string) error {
	if err := s.conn.Unsubscribe(symbol); err != nil {
		return fmt.Errorf("%w: coinbase %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	return nil
}

func (s *Source) Recv(ctx context.Context) (model.Quote, error) {
	return s.conn.Recv(ctx, mdsource.ErrClosed)
}

func (s *Source) Close() error { return s.conn.Close() }

var _ mdsource.Source = (*Source)(nil)
