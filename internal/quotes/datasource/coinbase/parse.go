package coinbase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/datasource/wsconn"
)

// cbTickerMsg Coinbase Exchange ticker 频道；其它 type（subscriptions/heartbeat/error）直接过滤
type cbTickerMsg struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Open24h   string `json:"open_24h"`
	High24h   string `json:"high_24h"`
	Low24h    string `json:"low_24h"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

var msgPool = sync.Pool{
	New: func() any {
		return &cbTickerMsg{}
	},
}

// ParseTicker 解析一帧。非 ticker 帧返回 (nil, nil)；error 帧返回错误。
func ParseTicker(b []byte) ([]model.Quote, error) {
	msg := msgPool.Get().(*cbTickerMsg)
	*msg = cbTickerMsg{}
	defer msgPool.Put(msg)
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case "ticker":
	case "error":
		return nil, fmt.Errorf("coinbase error: %s %s", msg.Message, msg.Reason)
	default:
		return nil, nil
	}

	last, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", msg.Price, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, msg.Time)
	if err != nil {
		ts = time.Now().UTC()
	}
	return []model.Quote{{
		Symbol:    msg.ProductID,
		Timestamp: ts,
		LastDone:  last,
		Open:      decimalOrZero(msg.Open24h),
		High:      decimalOrZero(msg.High24h),
		Low:       decimalOrZero(msg.Low24h),
	}}, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// protocol Coinbase 的订阅应答不带 id：每个 subscribe/unsubscribe 之后
// 回一帧 subscriptions（成功）或 error（失败），按顺序配对
type protocol struct{}

func (protocol) SubscribeFrame(symbols []string) (any, string) {
	return map[string]any{
		"type":        "subscribe",
		"product_ids": symbols,
		"channels":    []string{"ticker"},
	}, ""
}

func (protocol) UnsubscribeFrame(symbols []string) (any, string) {
	return map[string]any{
		"type":        "unsubscribe",
		"product_ids": symbols,
		"channels":    []string{"ticker"},
	}, ""
}

// cbReply subscriptions / error 帧
type cbReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (protocol) Reply(msg []byte) (wsconn.Ack, bool) {
	var r cbReply
	if err := json.Unmarshal(msg, &r); err != nil {
		return wsconn.Ack{}, false
	}
	switch r.Type {
	case "subscriptions":
		return wsconn.Ack{}, true
	case "error":
		msg := r.Message
		if r.Reason != "" {
			msg += ": " + r.Reason
		}
		return wsconn.Ack{Err: errors.New(msg)}, true
	default:
		return wsconn.Ack{}, false
	}
}

func (protocol) Decode(msg []byte) ([]model.Quote, error) { return ParseTicker(msg) }
