//go:build windows

package main

import "os"

// windows 没有 SIGWINCH，只在启动时渲染一次
func notifyResize() chan os.Signal {
	return make(chan os.Signal)
}
