//go:build !windows && !linux && !darwin

package screenstate

import "ScreenLogAI/pkg/models"

// IsScreenActive 其他平台默认为活跃
func IsScreenActive() bool {
	return true
}

// ForegroundWindow 其他平台不支持
func ForegroundWindow() (*models.WindowFocusSample, error) {
	return nil, ErrUnsupported
}
