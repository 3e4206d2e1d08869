// Package control 实现本地控制通道：每个连接只处理一条命令并回复一次。
package control

import (
	"errors"
	"net"
	"time"

	"ScreenLogAI/pkg/models"
)

const (
	// maxRequestSize 单条命令的最大字节数
	maxRequestSize = 4096
	// readChunkSize 每次读取的块大小
	readChunkSize = 1024
	// readTimeout 等待客户端发送命令的时长
	readTimeout = 30 * time.Second
	// writeTimeout 写回响应的时长
	writeTimeout = 10 * time.Second
	// defaultClientTimeout 客户端整体超时
	defaultClientTimeout = 30 * time.Second
	// accept 失败后的退避区间
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// invalidCommandMessage 命令无法解析时的回复
const invalidCommandMessage = "invalid command"

var (
	// ErrServiceNotRunning 控制通道不存在或拒绝连接
	ErrServiceNotRunning = errors.New("screenlog service is not running")
	// ErrTimeout 等待响应超时
	ErrTimeout = errors.New("control request timeout")
)

// Endpoint 控制通道地址
type Endpoint struct {
	Network string
	Address string
}

func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}

// EndpointFor 按平台选择控制通道地址
func EndpointFor(cfg models.ControlConfig) Endpoint {
	return endpointFor(cfg)
}

// IsListening 检查控制通道上是否已有服务在监听
func IsListening(ep Endpoint) bool {
	conn, err := net.DialTimeout(ep.Network, ep.Address, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
