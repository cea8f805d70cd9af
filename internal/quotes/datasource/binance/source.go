package binance

import (
	"context"
	"fmt"
	"time"

	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/datasource/wsconn"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
)

const DefaultURL = "wss://stream.binance.com:9443/stream"

type Source struct {
	conn *wsconn.Conn
}

// New 取走 s.Binance 并建立 combined stream 连接；订阅通过 SUBSCRIBE 帧动态下发
func New(ctx context.Context, s *config.Setting) (*Source, error) {
	tok := s.Binance
	s.Binance = nil
	if tok == nil {
		return nil, fmt.Errorf("%w: binance: no credential block", mdsource.ErrInit)
	}
	url := tok.URL
	if url == "" {
		url = DefaultURL
	}

	conn, err := wsconn.Dial(ctx, wsconn.Config{
		Name:      config.SourceBinance,
		URL:       url,
		WriteWait: 2 * time.Second,
	}, &protocol{})
	if err != nil {
		return nil, fmt.Errorf("%w: binance: %w", mdsource.ErrInit, err)
	}
	return &Source{conn: conn}, nil
}

func (s *Source) Name() string { return config.SourceBinance }

func (s *Source) Subscribe(ctx context.Context, symbol string) error {
	if err := s.conn.Subscribe(symbol); err != nil {
		return fmt.Errorf("%w: binance %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	return nil
}

func (s *Source) Unsubscribe(ctx context.Context, symbol string) error {
	if err := s.conn.Unsubscribe(symbol); err != nil {
		return fmt.Errorf("%w: binance %s: %w", mdsource.ErrSubscribe, symbol, err)
	}
	return nil
}

func (s *Source) Recv(ctx context.Context) (model.Quote, error) {
	return s.conn.Recv(ctx, mdsource.ErrClosed)
}

func (s *Source) Close() error { return s.conn.Close() }

var _ mdsource.Source = (*Source)(nil)
