package relay

import (
	"context"

	"go.uber.org/zap"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/quotemetrics"
	"quoteboard.com/pkg/logger"
)

// Stream 是报价的来源，*mux.Multiplexer 满足它
type Stream interface {
	Next(ctx context.Context) (model.Quote, bool)
}

// Run 把 stream 中的报价逐条发布，直到 stream 排空或 ctx 结束。
// 单条发布失败只记录，不中断转发（at-most-once）。返回成功发布的条数。
func Run(ctx context.Context, s Stream, p Publisher) int {
	var n int
	for {
		q, ok := s.Next(ctx)
		if !ok {
			logger.Info(ctx, "relay stream drained", zap.Int("published", n))
			return n
		}
		if err := p.Publish(ctx, q); err != nil {
			quotemetrics.RelayPublished.WithLabelValues(p.Name(), "error").Inc()
			logger.Warn(ctx, "relay publish failed",
				zap.String("target", p.Name()), zap.String("symbol", q.Symbol), zap.Error(err))
			continue
		}
		quotemetrics.RelayPublished.WithLabelValues(p.Name(), "ok").Inc()
		n++
	}
}
