//go:build !windows

package singleton

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// Mutex 持有锁文件
type Mutex struct {
	file *os.File
	path string
}

// EnsureSingleInstance 在 dir 下创建 <appName>.lock 并加非阻塞排他锁
// 返回: 锁对象（需要在程序退出时调用 Close）
func EnsureSingleInstance(appName, dir string) (*Mutex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建锁目录失败: %w", err)
	}

	path := filepath.Join(dir, appName+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("打开锁文件失败: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (%s)", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("加锁失败: %w", err)
	}

	// 记录 pid 便于排查
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Mutex{file: f, path: path}, nil
}

// Close 释放锁
func (m *Mutex) Close() error {
	if m == nil || m.file == nil {
		return nil
	}
	_ = unix.Flock(int(m.file.Fd()), unix.LOCK_UN)
	err := m.file.Close()
	m.file = nil
	return err
}
