package mdsource

import (
	"context"
	"errors"

	"quoteboard.com/internal/quotes/datasource/model"
)

var (
	// ErrInit 数据源构造失败：缺凭证或握手失败
	ErrInit = errors.New("source init failed")
	// ErrSubscribe 上游拒绝订阅/退订，或连接未就绪
	ErrSubscribe = errors.New("subscribe rejected")
	// ErrClosed 数据源通道已永久关闭，之后不会再产出
	ErrClosed = errors.New("source closed")
)

// Source：一个"可插拔"的推送行情源。
//
// 同一时刻最多只有一个调用在途（Multiplexer 的 re-arm 纪律保证这一点），
// Subscribe/Unsubscribe 只在进入稳态之前的单线程阶段调用，不会与 Recv 并发。
type Source interface {
	Name() string
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
	// Recv 阻塞到任一已订阅标的的下一条报价推送。
	// 非报价类推送在源内部过滤掉，不会返回。
	// 通道永久关闭时返回 ErrClosed；ctx 取消时返回 ctx.Err()。
	Recv(ctx context.Context) (model.Quote, error)
	Close() error
}
