// Package singleton 保证同一用户只运行一个守护进程。
package singleton

import "errors"

// ErrAlreadyRunning 已有实例持有锁
var ErrAlreadyRunning = errors.New("应用已在运行")
