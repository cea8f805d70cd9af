package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote 是某个标的在某一时刻的价格快照。
//
// 按值传递、按值存储：更新时整体替换旧快照，不做原地修改。
// 价格统一用 decimal，避免 float64 在百分比展示上的误差累积。
type Quote struct {
	Symbol    string    // 标的代码，watch-list 内唯一
	Timestamp time.Time // 最新成交价对应的时间

	LastDone decimal.Decimal
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal

	// Source 产生该快照的数据源名称，只用于日志和指标，不参与展示
	Source string
}

// ChangePercent 返回相对开盘价的涨跌幅（百分数）。开盘价为 0 时 ok=false。
func (q Quote) ChangePercent() (pct decimal.Decimal, ok bool) {
	if q.Open.IsZero() {
		return decimal.Zero, false
	}
	return q.LastDone.Sub(q.Open).Mul(decimal.NewFromInt(100)).Div(q.Open), true
}
