package model

import (
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

// Wire 是总线类数据源（nats / redis）上的报价 JSON 格式：
//
//	{"type":"quote","symbol":"AAPL.US","timestamp":"2024-05-02T14:30:00Z",
//	 "last_done":"101.23","open":"100","high":"102","low":"99.5"}
//
// type 为空视为 quote；其它 type（status、trade ...）由数据源过滤。
type Wire struct {
	Type      string          `json:"type,omitempty"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	LastDone  decimal.Decimal `json:"last_done"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
}

var errNoSymbol = errors.New("wire quote without symbol")

// DecodeWire 解析一条总线消息。ok=false 表示非报价消息，应静默丢弃。
func DecodeWire(b []byte) (q Quote, ok bool, err error) {
	var w Wire
	if err := json.Unmarshal(b, &w); err != nil {
		return Quote{}, false, err
	}
	if w.Type != "" && w.Type != "quote" {
		return Quote{}, false, nil
	}
	if w.Symbol == "" {
		return Quote{}, false, errNoSymbol
	}
	return Quote{
		Symbol:    w.Symbol,
		Timestamp: w.Timestamp,
		LastDone:  w.LastDone,
		Open:      w.Open,
		High:      w.High,
		Low:       w.Low,
	}, true, nil
}

// EncodeWire 是 DecodeWire 的逆操作，供发布端和测试使用
func EncodeWire(q Quote) ([]byte, error) {
	return json.Marshal(Wire{
		Type:      "quote",
		Symbol:    q.Symbol,
		Timestamp: q.Timestamp,
		LastDone:  q.LastDone,
		Open:      q.Open,
		High:      q.High,
		Low:       q.Low,
	})
}
