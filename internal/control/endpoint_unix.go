//go:build !windows

package control

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"ScreenLogAI/pkg/models"
)

// endpointFor Unix 平台使用 unix socket
func endpointFor(cfg models.ControlConfig) Endpoint {
	return Endpoint{Network: "unix", Address: cfg.SocketPath}
}

// listen 清理残留的 socket 文件后监听，并限制为仅当前用户可访问
func listen(ep Endpoint) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(ep.Address), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket dir: %w", err)
	}
	if IsListening(ep) {
		return nil, fmt.Errorf("control socket %s already in use", ep.Address)
	}
	if err := cleanupSocket(ep.Address); err != nil {
		return nil, err
	}

	ln, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", ep.Address, err)
	}
	if err := os.Chmod(ep.Address, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return ln, nil
}

func cleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("path exists but is not a socket: %s", path)
	}
	return os.Remove(path)
}

func removeEndpoint(ep Endpoint) {
	os.Remove(ep.Address)
}
