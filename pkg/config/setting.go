package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 数据源名称，同时也是 watch-list 中 source 字段的取值
const (
	SourceCoinbase = "coinbase"
	SourceBinance  = "binance"
	SourceNats     = "nats"
	SourceRedis    = "redis"
	SourceSim      = "sim"
)

// CoinbaseToken Coinbase Exchange 行情 websocket 配置
type CoinbaseToken struct {
	URL string `mapstructure:"url"`
}

// BinanceToken Binance 行情 websocket 配置
type BinanceToken struct {
	URL string `mapstructure:"url"`
}

// NatsToken NATS 行情总线配置。Token 与 User/Password 二选一
type NatsToken struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
	// Subject 前缀，实际订阅 {Subject}.{SYMBOL}
	Subject string `mapstructure:"subject"`
}

// RedisToken Redis pub/sub 行情配置
type RedisToken struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Channel 前缀，实际订阅 {Channel}:{SYMBOL}
	Channel string `mapstructure:"channel"`
}

// SimConfig 离线随机游走行情
type SimConfig struct {
	// 每秒产生的报价条数（所有标的合计）
	Rate  float64 `mapstructure:"rate"`
	Seed  int64   `mapstructure:"seed"`
	Start string  `mapstructure:"start"` // 初始价格，十进制字符串
	// Limit > 0 时产出 Limit 条后通道关闭
	Limit int `mapstructure:"limit"`
}

// RelayConfig quoterelay 的发布目标。Target 取 nats 或 redis，对应的块必须存在
type RelayConfig struct {
	Target string      `mapstructure:"target"`
	Nats   *NatsToken  `mapstructure:"nats"`
	Redis  *RedisToken `mapstructure:"redis"`
}

// StockConfig watch-list 中的一项
type StockConfig struct {
	Symbol string `mapstructure:"symbol"`
	Name   string `mapstructure:"name"`
	Source string `mapstructure:"source"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	// 为空则不启动 /metrics
	Addr string `mapstructure:"addr"`
}

// Setting 是启动时一次性交给数据源构造的配置。
//
// 各数据源的凭证块是指针：数据源构造时会把对应字段取走并置 nil，
// 同一份 Setting 不能再构造出第二个同类数据源。
type Setting struct {
	Coinbase *CoinbaseToken `mapstructure:"coinbase"`
	Binance  *BinanceToken  `mapstructure:"binance"`
	Nats     *NatsToken     `mapstructure:"nats"`
	Redis    *RedisToken    `mapstructure:"redis"`
	Sim      *SimConfig     `mapstructure:"sim"`

	Stock []StockConfig `mapstructure:"stock"`

	// Relay 只有 quoterelay 使用
	Relay *RelayConfig `mapstructure:"relay"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Defaults 设置默认值
func (s *Setting) Defaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/quoteboard.log")
	v.SetDefault("metrics.addr", "")
}

// EnvKeys 需要显式绑定环境变量的 key（凭证类）
func (s *Setting) EnvKeys() []string {
	return []string{
		"log.level", "log.file", "metrics.addr",
		"nats.password", "nats.token", "redis.password",
		"relay.nats.password", "relay.nats.token", "relay.redis.password",
	}
}

// Validate 校验 watch-list：symbol/source 非空，symbol 不重复
func (s *Setting) Validate() error {
	seen := make(map[string]struct{}, len(s.Stock))
	var errs []error
	for i, st := range s.Stock {
		sym := strings.TrimSpace(st.Symbol)
		if sym == "" {
			errs = append(errs, fmt.Errorf("stock[%d]: empty symbol", i))
			continue
		}
		if strings.TrimSpace(st.Source) == "" {
			errs = append(errs, fmt.Errorf("stock[%d] %s: empty source", i, sym))
		}
		if _, dup := seen[sym]; dup {
			errs = append(errs, fmt.Errorf("stock[%d]: duplicate symbol %s", i, sym))
			continue
		}
		seen[sym] = struct{}{}
	}
	return errors.Join(errs...)
}
