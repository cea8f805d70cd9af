package screen

import (
	"fmt"
	"strings"
)

type OpKind uint8

const (
	OpMove OpKind = iota + 1
	OpClearLine
	OpClearAll
	OpWrite
	OpFlush
)

type Op struct {
	Kind     OpKind
	Row, Col int
	Text     string
}

func (o Op) String() string {
	switch o.Kind {
	case OpMove:
		return fmt.Sprintf("move(%d,%d)", o.Row, o.Col)
	case OpClearLine:
		return "clearline"
	case OpClearAll:
		return "clearall"
	case OpWrite:
		return fmt.Sprintf("write(%q)", o.Text)
	case OpFlush:
		return "flush"
	default:
		return "?"
	}
}

// Recorder 记录所有输出操作，并维护一个简化的虚拟屏幕（按行保存文本），用于测试
type Recorder struct {
	Ops []Op

	row, col int
	lines    map[int][]rune
}

func NewRecorder() *Recorder {
	return &Recorder{lines: make(map[int][]rune)}
}

func (r *Recorder) MoveTo(row, col int) {
	r.Ops = append(r.Ops, Op{Kind: OpMove, Row: row, Col: col})
	r.row, r.col = row, col
}

func (r *Recorder) ClearLine() {
	r.Ops = append(r.Ops, Op{Kind: OpClearLine, Row: r.row})
	delete(r.lines, r.row)
}

func (r *Recorder) ClearAll() {
	r.Ops = append(r.Ops, Op{Kind: OpClearAll})
	clear(r.lines)
}

func (r *Recorder) Write(s string) {
	r.Ops = append(r.Ops, Op{Kind: OpWrite, Row: r.row, Col: r.col, Text: s})
	line := r.lines[r.row]
	for _, c := range s {
		for len(line) <= r.col {
			line = append(line, ' ')
		}
		line[r.col] = c
		r.col++
	}
	r.lines[r.row] = line
}

func (r *Recorder) Flush() error {
	r.Ops = append(r.Ops, Op{Kind: OpFlush})
	return nil
}

// Line 虚拟屏幕第 row 行的内容
func (r *Recorder) Line(row int) string {
	return string(r.lines[row])
}

// Writes 只保留 Write 操作
func (r *Recorder) Writes() []Op {
	var out []Op
	for _, op := range r.Ops {
		if op.Kind == OpWrite {
			out = append(out, op)
		}
	}
	return out
}

// Reset 清空操作记录，保留虚拟屏幕
func (r *Recorder) Reset() {
	r.Ops = r.Ops[:0]
}

func (r *Recorder) String() string {
	var b strings.Builder
	for i, op := range r.Ops {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(op.String())
	}
	return b.String()
}

var _ Screen = (*Recorder)(nil)
