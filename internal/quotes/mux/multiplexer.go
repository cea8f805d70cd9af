package mux

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
	"quoteboard.com/internal/quotes/datasource"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/internal/quotes/quotemetrics"
	"quoteboard.com/pkg/config"
	"quoteboard.com/pkg/logger"
	"quoteboard.com/pkg/safe"
)

// OpenFunc 按种类构造数据源，默认 datasource.Open
type OpenFunc func(ctx context.Context, k datasource.Kind, s *config.Setting) (mdsource.Source, error)

type Option func(*options)

type options struct {
	open OpenFunc
}

// WithOpener 替换数据源构造函数（测试、嵌入场景）
func WithOpener(fn OpenFunc) Option {
	return func(o *options) { o.open = fn }
}

type result struct {
	name  string
	quote model.Quote
	err   error
}

// Multiplexer 把 N 个节奏各异的推送源合成一条报价流。
//
// 不变量：任一时刻每个源最多一个在途 Recv。一次 Recv 完成后立刻为同一个源
// 补发下一次 Recv（re-arm），既不会让源饿死，也不会对同一个源并发接收。
// 通道永久关闭（ErrClosed）的源会被摘除，不再 re-arm。
type Multiplexer struct {
	ctx    context.Context // 所有在途 Recv 共用；Close 时取消
	cancel context.CancelFunc
	wg     sync.WaitGroup

	results chan result

	mu       sync.Mutex
	closed   bool
	sources  map[string]mdsource.Source
	pending  map[string]struct{}
	failures map[string]error
}

func newMultiplexer() *Multiplexer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{
		ctx:      ctx,
		cancel:   cancel,
		sources:  make(map[string]mdsource.Source),
		pending:  make(map[string]struct{}),
		failures: make(map[string]error),
	}
}

// New 按 Setting 构造所有已配置的数据源并订阅 watch-list。
//
// 构造失败的源只记录（日志 + Failures），不影响其它源；
// watch-list 中指向未启用源的标的跳过；订阅失败则整体失败。
func New(ctx context.Context, s *config.Setting, opts ...Option) (*Multiplexer, error) {
	o := options{open: datasource.Open}
	for _, opt := range opts {
		opt(&o)
	}

	m := newMultiplexer()
	for _, k := range datasource.Kinds {
		if !k.Configured(s) {
			continue
		}
		src, err := o.open(ctx, k, s)
		if err != nil {
			m.failures[k.String()] = err
			logger.Warn(ctx, "source init failed, excluded", zap.String("source", k.String()), zap.Error(err))
			continue
		}
		m.register(src)
		logger.Info(ctx, "source ready", zap.String("source", src.Name()))
	}

	for _, st := range s.Stock {
		src, ok := m.sources[st.Source]
		if !ok {
			logger.Warn(ctx, "watch-list entry bound to inactive source, skipped",
				zap.String("symbol", st.Symbol), zap.String("source", st.Source))
			continue
		}
		if err := src.Subscribe(ctx, st.Symbol); err != nil {
			m.closeSources()
			return nil, fmt.Errorf("subscribe %s on %s: %w", st.Symbol, st.Source, err)
		}
		logger.Debug(ctx, "subscribed", zap.String("symbol", st.Symbol), zap.String("source", st.Source))
	}

	m.start()
	return m, nil
}

// NewWithSources 用已构造、已订阅好的数据源组装
func NewWithSources(sources ...mdsource.Source) (*Multiplexer, error) {
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if _, dup := seen[src.Name()]; dup {
			return nil, fmt.Errorf("duplicate source name %q", src.Name())
		}
		seen[src.Name()] = struct{}{}
	}
	m := newMultiplexer()
	for _, src := range sources {
		m.register(src)
	}
	m.start()
	return m, nil
}

// register 登记一个活跃源；SourcesActive 与 sources 同步增减
func (m *Multiplexer) register(src mdsource.Source) {
	m.sources[src.Name()] = src
	quotemetrics.SourcesActive.Inc()
}

// start 为每个源发出第一次 Recv
func (m *Multiplexer) start() {
	m.results = make(chan result, len(m.sources))
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.sources {
		m.armLocked(name)
	}
}

// Next 阻塞到任一源产出报价（先到先得），并在返回前为该源 re-arm。
// 没有活跃源且没有在途 Recv、已 Close、或 ctx 结束时返回 false。
func (m *Multiplexer) Next(ctx context.Context) (model.Quote, bool) {
	for {
		m.mu.Lock()
		n := len(m.pending)
		m.mu.Unlock()
		if n == 0 {
			return model.Quote{}, false
		}

		select {
		case r := <-m.results:
			if q, ok := m.complete(ctx, r); ok {
				return q, true
			}
		case <-ctx.Done():
			return model.Quote{}, false
		}
	}
}

func (m *Multiplexer) complete(ctx context.Context, r result) (model.Quote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, r.name)
	quotemetrics.PendingReceives.Set(float64(len(m.pending)))

	switch {
	case m.closed:
		return model.Quote{}, false
	case r.err == nil:
		m.armLocked(r.name)
		quotemetrics.OnQuote(r.name)
		return r.quote, true
	case errors.Is(r.err, mdsource.ErrClosed):
		m.retireLocked(ctx, r.name, r.err)
		return model.Quote{}, false
	default:
		quotemetrics.RecvErrorsTotal.WithLabelValues(r.name).Inc()
		logger.Warn(ctx, "source recv failed", zap.String("source", r.name), zap.Error(r.err))
		m.armLocked(r.name)
		return model.Quote{}, false
	}
}

// armLocked 为 name 发出一次 Recv；已有在途 Recv 时什么也不做
func (m *Multiplexer) armLocked(name string) {
	if m.closed {
		return
	}
	if _, inflight := m.pending[name]; inflight {
		return
	}
	src, ok := m.sources[name]
	if !ok {
		return
	}
	m.pending[name] = struct{}{}
	quotemetrics.PendingReceives.Set(float64(len(m.pending)))

	m.wg.Add(1)
	go m.receive(name, src)
}

func (m *Multiplexer) receive(name string, src mdsource.Source) {
	defer m.wg.Done()
	res := result{name: name}
	// 无论 Recv 正常返回还是 panic，都必须交回一个结果，否则该源永远不会被 re-arm
	defer func() { m.results <- res }()
	defer safe.Recover(m.ctx, func(err error) {
		res.err = fmt.Errorf("%w: %w", mdsource.ErrClosed, err)
	})
	res.quote, res.err = src.Recv(m.ctx)
}

func (m *Multiplexer) retireLocked(ctx context.Context, name string, cause error) {
	src, ok := m.sources[name]
	if !ok {
		return
	}
	delete(m.sources, name)
	if err := src.Close(); err != nil {
		logger.Warn(ctx, "close retired source", zap.String("source", name), zap.Error(err))
	}
	quotemetrics.OnRetire(name)
	logger.Warn(ctx, "source channel closed, retired", zap.String("source", name), zap.Error(cause))
}

// Close 停止 re-arm，取消在途 Recv，关闭全部数据源。之后 Next 排空结果并返回 false。
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeSources()
}

// closeSources 调用方持锁或尚未并发
func (m *Multiplexer) closeSources() error {
	var errs []error
	for name, src := range m.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	quotemetrics.SourcesActive.Sub(float64(len(m.sources)))
	clear(m.sources)
	return errors.Join(errs...)
}

// Active 当前活跃数据源名称（排序）
func (m *Multiplexer) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.sources))
}

// Pending 在途 Recv 数量
func (m *Multiplexer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Failures 构造失败的数据源及原因
func (m *Multiplexer) Failures() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.failures)
}
