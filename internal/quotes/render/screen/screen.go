package screen

import (
	"bufio"
	"fmt"
	"io"
)

// Screen 终端输出面：光标定位、清行、写文本。行列从 0 开始。
type Screen interface {
	MoveTo(row, col int)
	ClearLine()
	ClearAll()
	Write(s string)
	Flush() error
}

// ANSI 通过 CSI 控制序列驱动真实终端，写入先进 bufio 缓冲，Flush 才落到终端
type ANSI struct {
	w *bufio.Writer
}

func NewANSI(w io.Writer) *ANSI {
	return &ANSI{w: bufio.NewWriterSize(w, 16<<10)}
}

// CSI 行列从 1 开始
func (a *ANSI) MoveTo(row, col int) { fmt.Fprintf(a.w, "\x1b[%d;%dH", row+1, col+1) }

func (a *ANSI) ClearLine() { _, _ = a.w.WriteString("\x1b[2K") }

func (a *ANSI) ClearAll() { _, _ = a.w.WriteString("\x1b[2J") }

func (a *ANSI) Write(s string) { _, _ = a.w.WriteString(s) }

func (a *ANSI) HideCursor() { _, _ = a.w.WriteString("\x1b[?25l") }

func (a *ANSI) ShowCursor() { _, _ = a.w.WriteString("\x1b[?25h") }

func (a *ANSI) Flush() error { return a.w.Flush() }

var _ Screen = (*ANSI)(nil)
