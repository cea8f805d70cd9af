package render

import (
	"context"

	"go.uber.org/zap"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/quotemetrics"
	"quoteboard.com/internal/quotes/render/screen"
	"quoteboard.com/pkg/logger"
)

// Renderer 显示面的能力约定
type Renderer interface {
	// Render 全量重绘：启动和终端尺寸变化时调用
	Render(width, height int, stocks []model.Quote, command string) error
	// RefreshStock 增量更新一条报价，只重绘受影响的那一行
	RefreshStock(q model.Quote)
	// RefreshCommand 重绘底部命令/状态行
	RefreshCommand(command string)
}

// PagedTable 分页表格渲染器。
//
// 屏幕布局：第 0 行表头，第 1..pageSize 行为当前页的数据，第 pageSize+1 行为命令行。
// 不是并发安全的：只能由一个 goroutine 驱动。
type PagedTable struct {
	scr screen.Screen

	pageNo   int // 从 1 开始
	pageSize int

	stocks []model.Quote
	index  map[string]int // index[stocks[i].Symbol] == i
	plan   []Column

	// layoutOK 最近一次 Render 成功；否则 plan 为空或已过期，增量重绘一律跳过
	layoutOK bool
}

// New 初始化渲染器，不改变终端模式，也不输出任何内容
func New(scr screen.Screen, width, height int) *PagedTable {
	return &PagedTable{
		scr:      scr,
		pageNo:   1,
		pageSize: pageSizeFor(height),
		index:    make(map[string]int),
	}
}

func pageSizeFor(height int) int {
	// 表头一行 + 命令行一行
	return max(height-2, 1)
}

func (t *PagedTable) Render(width, height int, stocks []model.Quote, command string) error {
	plan, err := Plan(width)
	if err != nil {
		t.layoutOK = false
		return err
	}

	t.stocks = append(t.stocks[:0:0], stocks...)
	t.index = make(map[string]int, len(t.stocks))
	for i, q := range t.stocks {
		t.index[q.Symbol] = i
	}
	t.plan = plan
	t.pageSize = pageSizeFor(height)
	t.layoutOK = true

	t.scr.ClearAll()
	t.scr.MoveTo(0, 0)
	t.scr.ClearLine()
	t.scr.Write(Row(t.plan, nil))

	first := (t.pageNo - 1) * t.pageSize
	for slot := 0; slot < t.pageSize; slot++ {
		i := first + slot
		t.scr.MoveTo(slot+1, 0)
		t.scr.ClearLine()
		if i < len(t.stocks) {
			t.scr.Write(Row(t.plan, &t.stocks[i]))
		} else {
			t.scr.Write(blankRow(t.plan))
		}
	}

	t.drawCommand(command)
	return t.flush()
}

func (t *PagedTable) RefreshStock(q model.Quote) {
	i, ok := t.index[q.Symbol]
	if ok {
		t.stocks[i] = q
	} else {
		t.stocks = append(t.stocks, q)
		i = len(t.stocks) - 1
		t.index[q.Symbol] = i
	}

	if !t.layoutOK {
		quotemetrics.RowRedraws.WithLabelValues("nolayout").Inc()
		return
	}
	if !t.drawRow(i) {
		quotemetrics.RowRedraws.WithLabelValues("offpage").Inc()
		return
	}
	quotemetrics.RowRedraws.WithLabelValues("drawn").Inc()
	_ = t.flush()
}

func (t *PagedTable) RefreshCommand(command string) {
	t.drawCommand(command)
	_ = t.flush()
}

// Stocks 当前全部报价的拷贝（按首次出现顺序），用于尺寸变化后的全量重绘
func (t *PagedTable) Stocks() []model.Quote {
	return append([]model.Quote(nil), t.stocks...)
}

// drawRow 只在 index 属于当前页时输出，返回是否真正写了终端
func (t *PagedTable) drawRow(index int) bool {
	page := index / t.pageSize
	if page+1 != t.pageNo {
		return false
	}
	if index >= len(t.stocks) {
		return false
	}
	line := index - page*t.pageSize + 1
	t.scr.MoveTo(line, 0)
	t.scr.ClearLine()
	t.scr.Write(Row(t.plan, &t.stocks[index]))
	return true
}

func (t *PagedTable) drawCommand(command string) {
	t.scr.MoveTo(t.pageSize+1, 0)
	t.scr.ClearLine()
	t.scr.Write(command)
}

func (t *PagedTable) flush() error {
	if err := t.scr.Flush(); err != nil {
		logger.Warn(context.Background(), "screen flush failed", zap.Error(err))
		return err
	}
	return nil
}

// setPage 切换当前页（暂无对外的翻页命令）
func (t *PagedTable) setPage(n int) {
	t.pageNo = max(n, 1)
}

var _ Renderer = (*PagedTable)(nil)
