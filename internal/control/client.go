package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"ScreenLogAI/pkg/models"
)

// Client 控制通道客户端
type Client struct {
	endpoint Endpoint
	timeout  time.Duration
}

// NewClient 创建客户端，TimeoutSeconds <= 0 时使用 30 秒
func NewClient(cfg models.ControlConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{endpoint: EndpointFor(cfg), timeout: timeout}
}

// Send 发送一条命令并等待响应
func (c *Client) Send(ctx context.Context, kind models.CommandKind) (*models.ServiceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.endpoint.Network, c.endpoint.Address)
	if err != nil {
		if cerr := canceled(ctx); cerr != nil {
			return nil, cerr
		}
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceNotRunning, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// 上层 ctx 被取消时立即打断读写
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	payload, err := json.Marshal(models.ServiceCommand{Command: kind})
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		if cerr := canceled(ctx); cerr != nil {
			return nil, cerr
		}
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	// 半关闭写端，服务端读到 EOF
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxRequestSize))
	if err != nil {
		if cerr := canceled(ctx); cerr != nil {
			return nil, cerr
		}
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty response from service")
	}

	var resp models.ServiceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// canceled 调用方主动取消时返回 ctx 的错误，超时不算取消
func canceled(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Start 发送启动命令
func (c *Client) Start(ctx context.Context) (*models.ServiceResponse, error) {
	return c.Send(ctx, models.CommandStart)
}

// Stop 发送停止命令
func (c *Client) Stop(ctx context.Context) (*models.ServiceResponse, error) {
	return c.Send(ctx, models.CommandStop)
}

// Status 查询状态
func (c *Client) Status(ctx context.Context) (*models.ServiceResponse, error) {
	return c.Send(ctx, models.CommandStatus)
}
