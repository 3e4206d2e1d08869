package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"

	"github.com/google/uuid"
)

// Handler 执行一条控制命令
type Handler interface {
	Handle(ctx context.Context, cmd models.ServiceCommand) models.ServiceResponse
}

// HandlerFunc 函数形式的 Handler
type HandlerFunc func(ctx context.Context, cmd models.ServiceCommand) models.ServiceResponse

// Handle 调用 f
func (f HandlerFunc) Handle(ctx context.Context, cmd models.ServiceCommand) models.ServiceResponse {
	return f(ctx, cmd)
}

// Server 控制通道服务端
type Server struct {
	endpoint Endpoint
	handler  Handler

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
}

// NewServer 创建控制通道服务端
func NewServer(cfg models.ControlConfig, handler Handler) *Server {
	return &Server{
		endpoint: EndpointFor(cfg),
		handler:  handler,
	}
}

// Endpoint 服务端监听地址
func (s *Server) Endpoint() Endpoint {
	return s.endpoint
}

// Listen 开始监听，Serve 之前调用可以尽早发现端口/socket 冲突
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := listen(s.endpoint)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve 接受连接直到 ctx 结束，返回前关闭监听并删除 socket 文件
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	defer func() {
		ln.Close()
		removeEndpoint(s.endpoint)
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("🔌 控制通道已启动: %s", s.endpoint)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			// 文件描述符耗尽等错误时退避，避免空转
			backoff = nextAcceptBackoff(backoff)
			logger.Error("控制通道 accept 失败: %v，%v 后重试", err, backoff)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.conns.Wait()
	logger.Info("🔌 控制通道已关闭")
	return nil
}

// handleConnection 读取一条命令，回复一次后关闭连接
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logger.With("conn", uuid.NewString())

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	cmd, received, err := readCommand(conn)
	if err != nil {
		if received == 0 {
			// 客户端连接后什么也没发送
			log.Debugw("control connection closed without data", "error", err)
			return
		}
		log.Debugw("invalid control command", "bytes", received, "error", err)
		s.writeResponse(conn, models.ServiceResponse{Success: false, Message: invalidCommandMessage})
		return
	}

	log.Debugw("control command received", "command", cmd.Command)
	s.writeResponse(conn, s.handler.Handle(ctx, cmd))
}

// nextAcceptBackoff 从 5ms 开始翻倍，最长 1s
func nextAcceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	if next := prev * 2; next < maxAcceptBackoff {
		return next
	}
	return maxAcceptBackoff
}

// readCommand 按块累积读取，直到数据能解析为一条完整 JSON、EOF、超出上限或超时
func readCommand(conn net.Conn) (models.ServiceCommand, int, error) {
	var cmd models.ServiceCommand
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if len(buf)+n > maxRequestSize {
				return cmd, len(buf) + n, errors.New("request too large")
			}
			buf = append(buf, chunk[:n]...)
			if json.Valid(buf) {
				if uerr := json.Unmarshal(buf, &cmd); uerr != nil {
					return cmd, len(buf), uerr
				}
				return cmd, len(buf), nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return cmd, len(buf), errors.New("incomplete command")
			}
			return cmd, len(buf), err
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp models.ServiceResponse) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		logger.Debug("写入控制响应失败: %v", err)
	}
}
