//go:build windows

package singleton

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// Mutex 持有互斥锁句柄
type Mutex struct {
	handle windows.Handle
}

// EnsureSingleInstance 创建命名互斥锁，dir 在 Windows 上不使用
// 返回: 互斥锁对象（需要在程序退出时调用 Close）
func EnsureSingleInstance(appName, _ string) (*Mutex, error) {
	name, err := windows.UTF16PtrFromString(fmt.Sprintf("Global\\%s_SingleInstance", appName))
	if err != nil {
		return nil, err
	}

	handle, err := windows.CreateMutex(nil, false, name)
	if handle == 0 {
		return nil, fmt.Errorf("创建互斥锁失败: %w", err)
	}

	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		showMessageBox(
			appName+" - 警告",
			appName+" 已经在运行中！\n\n请在系统托盘查找图标，或使用 status 命令查看状态。",
		)
		windows.CloseHandle(handle)
		return nil, ErrAlreadyRunning
	}

	return &Mutex{handle: handle}, nil
}

// Close 释放互斥锁
func (m *Mutex) Close() error {
	if m == nil || m.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(m.handle)
	m.handle = 0
	return err
}

// showMessageBox 显示 Windows 消息框
func showMessageBox(title, message string) {
	titlePtr, _ := windows.UTF16PtrFromString(title)
	messagePtr, _ := windows.UTF16PtrFromString(message)
	windows.MessageBox(0, messagePtr, titlePtr, windows.MB_OK|windows.MB_ICONWARNING)
}
