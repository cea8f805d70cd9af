package main

import (
	"maps"
	"slices"
	"strings"
)

// statusLine 命令行上显示的数据源状态，构造失败的源要让用户看得到
func statusLine(active []string, failures map[string]error) string {
	var b strings.Builder
	if len(active) == 0 {
		b.WriteString("no active feeds")
	} else {
		b.WriteString("feeds: ")
		b.WriteString(strings.Join(active, ","))
	}
	if len(failures) > 0 {
		b.WriteString(" | failed: ")
		b.WriteString(strings.Join(slices.Sorted(maps.Keys(failures)), ","))
		b.WriteString(" (see log)")
	}
	return b.String()
}
