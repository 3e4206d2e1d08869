// Package screenstate 查询屏幕是否可用（锁屏、屏保）以及当前前台窗口。
//
// 各平台实现提供 IsScreenActive 和 ForegroundWindow；查询不到窗口信息时
// ForegroundWindow 返回 (nil, nil)。
package screenstate

import (
	"errors"
	"strings"
)

// ErrUnsupported 当前平台无法查询前台窗口
var ErrUnsupported = errors.New("foreground window query not supported on this platform")

// appNameFromPath 取可执行文件名并去掉扩展名
func appNameFromPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndexByte(path, '.'); i > 0 {
		path = path[:i]
	}
	return path
}
