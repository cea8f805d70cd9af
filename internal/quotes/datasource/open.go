package datasource

import (
	"context"
	"fmt"

	"quoteboard.com/internal/quotes/datasource/binance"
	"quoteboard.com/internal/quotes/datasource/coinbase"
	"quoteboard.com/internal/quotes/datasource/natsfeed"
	"quoteboard.com/internal/quotes/datasource/redisfeed"
	"quoteboard.com/internal/quotes/datasource/sim"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
)

// Kind 支持的数据源种类（封闭集合）
type Kind uint8

const (
	KindCoinbase Kind = iota + 1
	KindBinance
	KindNats
	KindRedis
	KindSim
)

// Kinds 按构造顺序列出全部种类
var Kinds = []Kind{KindCoinbase, KindBinance, KindNats, KindRedis, KindSim}

func (k Kind) String() string {
	switch k {
	case KindCoinbase:
		return config.SourceCoinbase
	case KindBinance:
		return config.SourceBinance
	case KindNats:
		return config.SourceNats
	case KindRedis:
		return config.SourceRedis
	case KindSim:
		return config.SourceSim
	default:
		return "unknown"
	}
}

// Configured 判断 Setting 中是否还留有该种类的凭证块
func (k Kind) Configured(s *config.Setting) bool {
	switch k {
	case KindCoinbase:
		return s.Coinbase != nil
	case KindBinance:
		return s.Binance != nil
	case KindNats:
		return s.Nats != nil
	case KindRedis:
		return s.Redis != nil
	case KindSim:
		return s.Sim != nil
	default:
		return false
	}
}

// Open 构造一个已连接的数据源。构造会取走 Setting 中对应的凭证块。
func Open(ctx context.Context, k Kind, s *config.Setting) (mdsource.Source, error) {
	var (
		src mdsource.Source
		err error
	)
	switch k {
	case KindCoinbase:
		src, err = asSource(coinbase.New(ctx, s))
	case KindBinance:
		src, err = asSource(binance.New(ctx, s))
	case KindNats:
		src, err = asSource(natsfeed.New(ctx, s))
	case KindRedis:
		src, err = asSource(redisfeed.New(ctx, s))
	case KindSim:
		src, err = asSource(sim.New(ctx, s))
	default:
		err = fmt.Errorf("%w: unknown source kind %d", mdsource.ErrInit, k)
	}
	return src, err
}

// asSource 避免把 typed nil 指针装进接口
func asSource[T mdsource.Source](src T, err error) (mdsource.Source, error) {
	if err != nil {
		return nil, err
	}
	return src, nil
}
