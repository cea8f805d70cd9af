package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"quoteboard.com/internal/quotes/mux"
	"quoteboard.com/internal/quotes/relay"
	"quoteboard.com/pkg/config"
	"quoteboard.com/pkg/logger"
	"quoteboard.com/pkg/safe"
)

const service = "quoterelay"

// quoterelay 把任意数据源（sim、交易所 websocket）的报价转发到 NATS / Redis，
// 供 quoteboard 的 nats / redis 数据源消费。
func main() {
	configFile := flag.String("config", "", "config file (default config/quoterelay.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var setting config.Setting
	if _, err := config.Load(service, *configFile, &setting); err != nil {
		logger.Init(service, "info")
		logger.Fatal(ctx, "load config", zap.Error(err))
	}
	logger.InitWithOptions(logger.Options{
		Service: service,
		Level:   setting.Log.Level,
		File:    setting.Log.File,
		Console: true,
	})
	defer logger.Sync()
	ctx = logger.WithTrace(ctx, uuid.NewString())

	if err := setting.Validate(); err != nil {
		logger.Fatal(ctx, "invalid watch-list", zap.Error(err))
	}

	pub, err := relay.NewPublisher(ctx, setting.Relay)
	if err != nil {
		logger.Fatal(ctx, "build publisher", zap.Error(err))
	}
	defer func() { _ = pub.Close() }()

	m, err := mux.New(ctx, &setting)
	if err != nil {
		logger.Fatal(ctx, "build multiplexer", zap.Error(err))
	}
	defer func() { _ = m.Close() }()
	for name, ferr := range m.Failures() {
		logger.Warn(ctx, "source unavailable", zap.String("source", name), zap.Error(ferr))
	}

	if addr := setting.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		safe.Go(func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server", zap.Error(err))
			}
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info(ctx, "relay started",
		zap.String("target", pub.Name()), zap.Strings("sources", m.Active()))
	n := relay.Run(ctx, m, pub)
	logger.Info(ctx, "relay stopped", zap.Int("published", n))
}
