package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/mux"
	"quoteboard.com/internal/quotes/render"
	"quoteboard.com/internal/quotes/render/screen"
	"quoteboard.com/pkg/config"
	"quoteboard.com/pkg/logger"
)

const service = "quoteboard"

func main() {
	configFile := flag.String("config", "", "config file (default config/quoteboard.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化配置
	var setting config.Setting
	v, err := config.Load(service, *configFile, &setting)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := setting.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid watch-list:\n%v\n", err)
		os.Exit(1)
	}

	// 终端被表格占用，日志只写文件
	logger.InitWithOptions(logger.Options{
		Service: service,
		Level:   setting.Log.Level,
		File:    setting.Log.File,
	})
	defer logger.Sync()
	ctx = logger.WithTrace(ctx, uuid.NewString())
	logger.Info(ctx, "quoteboard starting", zap.Int("watch_list", len(setting.Stock)))

	m, err := mux.New(ctx, &setting)
	if err != nil {
		logger.Error(ctx, "build multiplexer", zap.Error(err))
		fmt.Fprintf(os.Stderr, "start feeds: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, v, m, setting.Metrics.Addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "quoteboard exited", zap.Error(err))
		fmt.Fprintf(os.Stderr, "quoteboard: %v\n", err)
		os.Exit(1)
	}
	logger.Info(ctx, "quoteboard stopped")
}

func run(ctx context.Context, v *viper.Viper, m *mux.Multiplexer, metricsAddr string) error {
	scr := screen.NewANSI(os.Stdout)
	scr.HideCursor()
	defer func() {
		_, h := termSize()
		scr.MoveTo(h-1, 0)
		scr.Write("\r\n")
		scr.ShowCursor()
		_ = scr.Flush()
	}()

	notices := make(chan string, 1)
	watchConfig(ctx, v, notices)

	g, gctx := errgroup.WithContext(ctx)
	quotes := make(chan model.Quote, 256)

	// pump：多路复用器 -> 渲染协程
	g.Go(func() error {
		defer close(quotes)
		for {
			q, ok := m.Next(gctx)
			if !ok {
				return nil
			}
			select {
			case quotes <- q:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// 收到退出信号后关闭数据源，pump 随之排空
	g.Go(func() error {
		<-gctx.Done()
		return m.Close()
	})

	g.Go(func() error {
		w, h := termSize()
		return renderLoop(gctx, render.New(scr, w, h), m, quotes, notices)
	})

	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, metricsAddr) })
	}

	return g.Wait()
}

// renderLoop 渲染器只在这个协程里使用
func renderLoop(ctx context.Context, tb *render.PagedTable, m *mux.Multiplexer, quotes <-chan model.Quote, notices <-chan string) error {
	status := statusLine(m.Active(), m.Failures())
	redraw := func() {
		w, h := termSize()
		if err := tb.Render(w, h, tb.Stocks(), status); err != nil {
			logger.Warn(ctx, "render skipped", zap.Int("width", w), zap.Int("height", h), zap.Error(err))
		}
	}
	redraw()

	resize := notifyResize()
	defer signal.Stop(resize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q, ok := <-quotes:
			if !ok {
				// 所有数据源都已关闭：保留最后的画面直到退出
				quotes = nil
				status = "all feeds closed, press Ctrl-C to exit"
				tb.RefreshCommand(status)
				continue
			}
			tb.RefreshStock(q)
		case <-resize:
			redraw()
		case msg := <-notices:
			status = msg
			tb.RefreshCommand(status)
		}
	}
}

// watchConfig 配置变更只提示，不热加载：凭证已被数据源取走，watch-list 启动后不可变
func watchConfig(ctx context.Context, v *viper.Viper, notices chan<- string) {
	config.Watch(v, func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		select {
		case notices <- "config changed, restart to apply":
		default:
		}
	})
}

func serveMetrics(ctx context.Context, addr string) error {
	mx := http.NewServeMux()
	mx.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mx, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// termSize 非终端（重定向、测试）时退回 80x24
func termSize() (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 80, 24
	}
	return w, h
}
