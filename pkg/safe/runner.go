package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"quoteboard.com/pkg/logger"
)

// Go 安全启动协程
func Go(fn func()) {
	go func() {
		defer Recover(context.Background(), nil)
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留会话信息。
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer Recover(ctx, nil)
		fn(ctx)
	}()
}

// Recover 必须直接 defer 调用。捕获 panic 并记录；onPanic 非空时收到转换后的 error，
// 调用方可以据此补发结果，避免等待方永远阻塞。
func Recover(ctx context.Context, onPanic func(err error)) {
	r := recover()
	if r == nil {
		return
	}
	stack := string(debug.Stack())
	logger.Error(ctx, "goroutine panic recovered",
		zap.Any("panic", r),
		zap.String("stack", stack),
	)
	if onPanic != nil {
		onPanic(fmt.Errorf("panic: %v", r))
	}
}
