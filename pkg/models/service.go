package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ServiceStatus 截屏服务运行状态
type ServiceStatus string

const (
	StatusRunning ServiceStatus = "running"
	StatusStopped ServiceStatus = "stopped"
)

// PersistentServiceState 持久化的服务状态，每次变更整体写入状态文件
type PersistentServiceState struct {
	Status            ServiceStatus `json:"status"`
	LastStartTime     *time.Time    `json:"last_start_time,omitempty"`
	LastStopTime      *time.Time    `json:"last_stop_time,omitempty"`
	TotalCaptures     uint64        `json:"total_captures"`
	LastCaptureTime   *time.Time    `json:"last_capture_time,omitempty"`
	ConfigFingerprint string        `json:"config_fingerprint"`
}

// DefaultServiceState 首次运行时的状态
func DefaultServiceState(fingerprint string) PersistentServiceState {
	return PersistentServiceState{
		Status:            StatusStopped,
		ConfigFingerprint: fingerprint,
	}
}

// Clone 返回深拷贝，避免调用方修改内部时间指针
func (s PersistentServiceState) Clone() PersistentServiceState {
	c := s
	c.LastStartTime = cloneTime(s.LastStartTime)
	c.LastStopTime = cloneTime(s.LastStopTime)
	c.LastCaptureTime = cloneTime(s.LastCaptureTime)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CommandKind 控制命令类型
type CommandKind string

const (
	CommandStart  CommandKind = "start"
	CommandStop   CommandKind = "stop"
	CommandStatus CommandKind = "status"
)

// ServiceCommand 控制通道上的命令
//
// 线上格式为 {"command":"start"}；同时兼容旧客户端发送的 "Start" / "Stop" / "Status" 字符串。
type ServiceCommand struct {
	Command CommandKind `json:"command"`
}

// UnmarshalJSON 解析两种命令格式，未知命令返回错误
func (c *ServiceCommand) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		kind, err := ParseCommandKind(bare)
		if err != nil {
			return err
		}
		c.Command = kind
		return nil
	}

	var wire struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	kind, err := ParseCommandKind(wire.Command)
	if err != nil {
		return err
	}
	c.Command = kind
	return nil
}

// ParseCommandKind 解析命令名（大小写不敏感）
func ParseCommandKind(s string) (CommandKind, error) {
	switch CommandKind(strings.ToLower(strings.TrimSpace(s))) {
	case CommandStart:
		return CommandStart, nil
	case CommandStop:
		return CommandStop, nil
	case CommandStatus:
		return CommandStatus, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// ServiceResponse 控制命令的响应
type ServiceResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	State   *PersistentServiceState `json:"state,omitempty"`
}
