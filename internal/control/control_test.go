package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ScreenLogAI/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) models.ControlConfig {
	t.Helper()
	// unix socket 路径长度有限，避免使用过深的目录
	dir, err := os.MkdirTemp("", "sl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return models.ControlConfig{
		SocketPath:     filepath.Join(dir, "ctl.sock"),
		Port:           39528,
		TimeoutSeconds: 5,
	}
}

type fakeHandler struct {
	calls atomic.Int32
	last  atomic.Value
}

func (f *fakeHandler) Handle(_ context.Context, cmd models.ServiceCommand) models.ServiceResponse {
	f.calls.Add(1)
	f.last.Store(cmd.Command)
	state := models.DefaultServiceState("abc123")
	state.Status = models.StatusRunning
	return models.ServiceResponse{Success: true, Message: "ok " + string(cmd.Command), State: &state}
}

func startServer(t *testing.T, cfg models.ControlConfig, h Handler) {
	t.Helper()
	srv := NewServer(cfg, h)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, srv.Serve(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func rawRequest(t *testing.T, cfg models.ControlConfig, payload []byte) models.ServiceResponse {
	t.Helper()
	ep := EndpointFor(cfg)
	conn, err := net.Dial(ep.Network, ep.Address)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(payload)
	require.NoError(t, err)
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		require.NoError(t, cw.CloseWrite())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)

	var resp models.ServiceResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestClientStatus(t *testing.T) {
	cfg := testConfig(t)
	h := &fakeHandler{}
	startServer(t, cfg, h)

	resp, err := NewClient(cfg).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.State)
	assert.Equal(t, uint64(0), resp.State.TotalCaptures)
	assert.Equal(t, "abc123", resp.State.ConfigFingerprint)
	assert.Equal(t, models.CommandStatus, h.last.Load())
}

func TestServerCommandForms(t *testing.T) {
	cfg := testConfig(t)
	h := &fakeHandler{}
	startServer(t, cfg, h)

	t.Run("bare string", func(t *testing.T) {
		resp := rawRequest(t, cfg, []byte(`"Start"`))
		assert.True(t, resp.Success)
		assert.Equal(t, models.CommandStart, h.last.Load())
	})

	t.Run("object", func(t *testing.T) {
		resp := rawRequest(t, cfg, []byte(`{"command":"stop"}`))
		assert.True(t, resp.Success)
		assert.Equal(t, models.CommandStop, h.last.Load())
	})

	t.Run("unknown command", func(t *testing.T) {
		before := h.calls.Load()
		resp := rawRequest(t, cfg, []byte(`{"command":"reboot"}`))
		assert.False(t, resp.Success)
		assert.Equal(t, invalidCommandMessage, resp.Message)
		assert.Equal(t, before, h.calls.Load())
	})

	t.Run("truncated json", func(t *testing.T) {
		resp := rawRequest(t, cfg, []byte(`{"command":"sta`))
		assert.False(t, resp.Success)
		assert.Equal(t, invalidCommandMessage, resp.Message)
	})

	t.Run("oversized request", func(t *testing.T) {
		payload := []byte(`{"command":"` + strings.Repeat("x", maxRequestSize) + `"}`)
		resp := rawRequest(t, cfg, payload)
		assert.False(t, resp.Success)
	})
}

func TestServerHandlesConcurrentClients(t *testing.T) {
	cfg := testConfig(t)
	h := &fakeHandler{}
	startServer(t, cfg, h)

	client := NewClient(cfg)
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := client.Status(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(10), h.calls.Load())
}

func TestClientServiceNotRunning(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewClient(cfg).Status(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServiceNotRunning))
}

func TestClientTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket only")
	}
	cfg := testConfig(t)

	// 只接受连接但从不回复
	ln, err := net.Listen("unix", cfg.SocketPath)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	client := NewClient(cfg)
	client.timeout = 200 * time.Millisecond
	_, err = client.Status(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestServeRemovesSocketOnShutdown(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket only")
	}
	cfg := testConfig(t)
	srv := NewServer(cfg, &fakeHandler{})
	require.NoError(t, srv.Listen())

	info, err := os.Stat(cfg.SocketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestClientCanceledByCaller(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix socket only")
	}
	cfg := testConfig(t)

	ln, err := net.Listen("unix", cfg.SocketPath)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err = NewClient(cfg).Status(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestNextAcceptBackoff(t *testing.T) {
	var got []time.Duration
	var d time.Duration
	for i := 0; i < 10; i++ {
		d = nextAcceptBackoff(d)
		got = append(got, d)
	}
	assert.Equal(t, 5*time.Millisecond, got[0])
	assert.Equal(t, 10*time.Millisecond, got[1])
	assert.Equal(t, time.Second, got[len(got)-1])
}

// failingListener 模拟文件描述符耗尽时持续失败的 Accept
type failingListener struct {
	accepts atomic.Int32
	closed  chan struct{}
	once    atomic.Bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
	}
	l.accepts.Add(1)
	return nil, errors.New("accept: too many open files")
}

func (l *failingListener) Close() error {
	if l.once.CompareAndSwap(false, true) {
		close(l.closed)
	}
	return nil
}

func (l *failingListener) Addr() net.Addr { return &net.UnixAddr{Name: "fake", Net: "unix"} }

func TestServeBacksOffOnAcceptErrors(t *testing.T) {
	cfg := testConfig(t)
	srv := NewServer(cfg, &fakeHandler{})
	ln := &failingListener{closed: make(chan struct{})}
	srv.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Less(t, ln.accepts.Load(), int32(20))
	assert.Greater(t, ln.accepts.Load(), int32(1))
}
