//go:build windows

package control

import (
	"fmt"
	"net"

	"ScreenLogAI/pkg/models"
)

// endpointFor Windows 平台使用回环 TCP 端口
func endpointFor(cfg models.ControlConfig) Endpoint {
	return Endpoint{Network: "tcp", Address: fmt.Sprintf("127.0.0.1:%d", cfg.Port)}
}

func listen(ep Endpoint) (net.Listener, error) {
	ln, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", ep.Address, err)
	}
	return ln, nil
}

func removeEndpoint(Endpoint) {}
