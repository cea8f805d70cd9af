package binance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/datasource/wsconn"
)

type bnCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// bn24hrTicker <symbol>@ticker 的 data 部分，价格字段都是十进制字符串
type bn24hrTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Last      string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
}

// ParseTickerCombined 解析 combined stream 的一帧。
// 订阅回执（{"result":null,"id":1}）等非 ticker 帧返回 (nil, nil)。
func ParseTickerCombined(b []byte) ([]model.Quote, error) {
	var wrap bnCombined
	if err := json.Unmarshal(b, &wrap); err != nil {
		return nil, err
	}
	if len(wrap.Data) == 0 {
		return nil, nil
	}
	var t bn24hrTicker
	if err := json.Unmarshal(wrap.Data, &t); err != nil {
		return nil, err
	}
	if t.EventType != "24hrTicker" {
		return nil, nil
	}

	last, err := decimal.NewFromString(t.Last)
	if err != nil {
		return nil, errors.New("bad last price: " + t.Last)
	}
	open, _ := decimal.NewFromString(t.Open)
	high, _ := decimal.NewFromString(t.High)
	low, _ := decimal.NewFromString(t.Low)

	return []model.Quote{{
		Symbol:    t.Symbol,
		Timestamp: time.UnixMilli(t.EventTime).UTC(),
		LastDone:  last,
		Open:      open,
		High:      high,
		Low:       low,
	}}, nil
}

func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@ticker"
}

// protocol 记录 watch-list 原始写法，把交易所返回的大写 symbol 映射回去
type protocol struct {
	nextID atomic.Int64
	names  sync.Map // BTCUSDT -> 配置中的写法
}

func (p *protocol) frame(method string, symbols []string) (any, string) {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		p.names.Store(strings.ToUpper(s), s)
		params = append(params, streamName(s))
	}
	id := p.nextID.Add(1)
	return map[string]any{
		"method": method,
		"params": params,
		"id":     id,
	}, strconv.FormatInt(id, 10)
}

func (p *protocol) SubscribeFrame(symbols []string) (any, string) {
	return p.frame("SUBSCRIBE", symbols)
}

func (p *protocol) UnsubscribeFrame(symbols []string) (any, string) {
	return p.frame("UNSUBSCRIBE", symbols)
}

// bnReply 请求应答：{"result":null,"id":1} 或 {"error":{"code":2,"msg":"..."},"id":1}
type bnReply struct {
	ID    *int64 `json:"id"`
	Error *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

func (p *protocol) Reply(msg []byte) (wsconn.Ack, bool) {
	var r bnReply
	if err := json.Unmarshal(msg, &r); err != nil || r.ID == nil {
		return wsconn.Ack{}, false
	}
	ack := wsconn.Ack{ID: strconv.FormatInt(*r.ID, 10)}
	if r.Error != nil {
		ack.Err = fmt.Errorf("binance error %d: %s", r.Error.Code, r.Error.Msg)
	}
	return ack, true
}

func (p *protocol) Decode(msg []byte) ([]model.Quote, error) {
	quotes, err := ParseTickerCombined(msg)
	if err != nil {
		return nil, err
	}
	for i := range quotes {
		if name, ok := p.names.Load(quotes[i].Symbol); ok {
			quotes[i].Symbol = name.(string)
		}
	}
	return quotes, nil
}
