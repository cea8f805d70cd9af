package sim

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
)

var defaultStart = decimal.NewFromInt(100)

type walk struct {
	open, last, high, low decimal.Decimal
}

// Source 离线随机游走行情：按 Rate 限速，轮流为已订阅标的产生报价。
type Source struct {
	limiter *rate.Limiter
	rnd     *rand.Rand
	start   decimal.Decimal
	limit   int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	symbols []string
	walks   map[string]*walk
	next    int
	emitted int
}

// New 取走 s.Sim
func New(ctx context.Context, s *config.Setting) (*Source, error) {
	cfg := s.Sim
	s.Sim = nil
	if cfg == nil {
		return nil, fmt.Errorf("%w: sim: no config block", mdsource.ErrInit)
	}
	return NewWithConfig(*cfg)
}

func NewWithConfig(cfg config.SimConfig) (*Source, error) {
	r := cfg.Rate
	if r <= 0 {
		r = 5
	}
	start := defaultStart
	if cfg.Start != "" {
		d, err := decimal.NewFromString(cfg.Start)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("%w: sim: bad start price %q", mdsource.ErrInit, cfg.Start)
		}
		start = d
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		limiter: rate.NewLimiter(rate.Limit(r), 1),
		rnd:     rand.New(rand.NewSource(seed)),
		start:   start,
		limit:   cfg.Limit,
		ctx:     ctx,
		cancel:  cancel,
		walks:   make(map[string]*walk),
	}, nil
}

func (s *Source) Name() string { return config.SourceSim }

func (s *Source) Subscribe(ctx context.Context, symbol string) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: sim %s: source closed", mdsource.ErrSubscribe, symbol)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.symbols, symbol) {
		return nil
	}
	s.symbols = append(s.symbols, symbol)
	if _, ok := s.walks[symbol]; !ok {
		s.walks[symbol] = &walk{open: s.start, last: s.start, high: s.start, low: s.start}
	}
	return nil
}

func (s *Source) Unsubscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.symbols, symbol); i >= 0 {
		s.symbols = slices.Delete(s.symbols, i, i+1)
	}
	return nil
}

func (s *Source) Recv(ctx context.Context) (model.Quote, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	for {
		if err := s.limiter.Wait(wctx); err != nil {
			// 截止时间前拿不到令牌时 Wait 会提前返回，这里等到真正截止或关闭
			<-wctx.Done()
			if s.ctx.Err() != nil {
				return model.Quote{}, mdsource.ErrClosed
			}
			return model.Quote{}, ctx.Err()
		}
		if q, ok := s.step(); ok {
			return q, nil
		}
		if s.ctx.Err() != nil {
			return model.Quote{}, mdsource.ErrClosed
		}
	}
}

// step 为下一个标的走一步；没有订阅时 ok=false
func (s *Source) step() (model.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.symbols) == 0 {
		return model.Quote{}, false
	}
	if s.limit > 0 && s.emitted >= s.limit {
		s.cancel()
		return model.Quote{}, false
	}

	sym := s.symbols[s.next%len(s.symbols)]
	s.next++
	w := s.walks[sym]

	// ±0.5% 的随机步长，保留 3 位小数
	pct := decimal.NewFromFloat(s.rnd.Float64() - 0.5).Div(decimal.NewFromInt(100))
	w.last = w.last.Add(w.last.Mul(pct)).Round(3)
	if !w.last.IsPositive() {
		w.last = decimal.New(1, -3)
	}
	if w.last.GreaterThan(w.high) {
		w.high = w.last
	}
	if w.last.LessThan(w.low) {
		w.low = w.last
	}
	s.emitted++

	return model.Quote{
		Symbol:    sym,
		Timestamp: time.Now().UTC(),
		LastDone:  w.last,
		Open:      w.open,
		High:      w.high,
		Low:       w.low,
		Source:    config.SourceSim,
	}, true
}

func (s *Source) Close() error {
	s.cancel()
	return nil
}

var _ mdsource.Source = (*Source)(nil)
