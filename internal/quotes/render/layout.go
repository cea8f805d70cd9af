package render

import (
	"errors"
	"fmt"

	"github.com/mattn/go-runewidth"
	"quoteboard.com/internal/quotes/datasource/model"
)

// ErrTooNarrow 终端宽度不足以放下最小布局
var ErrTooNarrow = errors.New("terminal too narrow")

const (
	// MinWidth 两列布局的最小宽度
	MinWidth = 24
	// FullWidth 五列布局的最小宽度
	FullWidth = 51
)

// Kind 列的种类，决定表头文字和取值方式
type Kind uint8

const (
	KindName Kind = iota + 1
	KindOpen
	KindLast
	KindLow
	KindHigh
)

// Label 表头文字
func (k Kind) Label() string {
	switch k {
	case KindName:
		return "symbol"
	case KindOpen:
		return "open"
	case KindLast:
		return "current"
	case KindLow:
		return "low"
	case KindHigh:
		return "high"
	default:
		return "?"
	}
}

// Column 布局中的一列
type Column struct {
	Width int
	Kind  Kind
}

// Plan 按终端宽度计算列布局：
//
//	width < 24        ErrTooNarrow
//	24 <= width < 51  symbol | current
//	width >= 51       symbol | open | current | low | high，按 7/8/16/8/8 等比放大
func Plan(width int) ([]Column, error) {
	switch {
	case width < MinWidth:
		return nil, fmt.Errorf("%w: width %d < %d", ErrTooNarrow, width, MinWidth)
	case width < FullWidth:
		name := width / 23 * 7
		return []Column{
			{Width: name, Kind: KindName},
			{Width: width - name, Kind: KindLast},
		}, nil
	default:
		u := width / FullWidth
		return []Column{
			{Width: u * 7, Kind: KindName},
			{Width: u * 8, Kind: KindOpen},
			{Width: u * 16, Kind: KindLast},
			{Width: u * 8, Kind: KindLow},
			{Width: u * 8, Kind: KindHigh},
		}, nil
	}
}

// Cell 渲染一个单元格，右对齐到 width 个显示宽度。
// q 为 nil 时输出表头文字，表头行和数据行共用同一套列定义。
func Cell(k Kind, q *model.Quote, width int) string {
	var s string
	if q == nil {
		s = k.Label()
	} else {
		s = field(k, q)
	}
	return runewidth.FillLeft(runewidth.Truncate(s, width, ""), width)
}

func field(k Kind, q *model.Quote) string {
	switch k {
	case KindName:
		return q.Symbol
	case KindOpen:
		return q.Open.StringFixed(3)
	case KindLast:
		return FormatLast(*q)
	case KindLow:
		return q.Low.StringFixed(3)
	case KindHigh:
		return q.High.StringFixed(3)
	default:
		return ""
	}
}

// FormatLast 最新价保留 3 位小数，括号内为相对开盘价的涨跌幅（2 位小数）。
// 开盘价为 0 时涨跌幅无意义，显示 N/A。
func FormatLast(q model.Quote) string {
	pct, ok := q.ChangePercent()
	if !ok {
		return q.LastDone.StringFixed(3) + "(N/A)"
	}
	return q.LastDone.StringFixed(3) + "(" + pct.StringFixed(2) + "%)"
}

// Row 按布局拼接一整行；q 为 nil 时是表头
func Row(plan []Column, q *model.Quote) string {
	var b []byte
	for _, c := range plan {
		b = append(b, Cell(c.Kind, q, c.Width)...)
	}
	return string(b)
}

// blankRow 空槽位：每列都是等宽空白，保持网格稳定
func blankRow(plan []Column) string {
	n := 0
	for _, c := range plan {
		n += c.Width
	}
	return runewidth.FillLeft("", n)
}
