package capture

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"

	"github.com/kbinani/screenshot"
	"github.com/nfnt/resize"
)

// Screener 截取屏幕并保存为 PNG
type Screener interface {
	Capture(ctx context.Context, path string, targetWidth int, grayscale bool, hint *models.WindowBounds) error
}

// ScreenCapturer 基于 kbinani/screenshot 的截屏实现
type ScreenCapturer struct{}

// NewScreenCapturer 创建截屏器
func NewScreenCapturer() *ScreenCapturer {
	return &ScreenCapturer{}
}

// Capture 截取前台窗口所在的屏幕（没有窗口信息时截取主屏幕）
func (s *ScreenCapturer) Capture(ctx context.Context, path string, targetWidth int, grayscale bool, hint *models.WindowBounds) error {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return fmt.Errorf("no active display found")
	}

	displays := make([]image.Rectangle, n)
	for i := 0; i < n; i++ {
		displays[i] = screenshot.GetDisplayBounds(i)
	}
	index := pickDisplay(displays, hint)

	// 截取屏幕
	img, err := screenshot.CaptureRect(displays[index])
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}

	// 截图过程本身不可中断，完成后再检查是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	return savePNG(path, processImage(img, targetWidth, grayscale))
}

// pickDisplay 返回包含窗口中心点的屏幕，找不到时返回主屏幕
func pickDisplay(displays []image.Rectangle, hint *models.WindowBounds) int {
	primary := 0
	for i, d := range displays {
		if d.Min.X == 0 && d.Min.Y == 0 {
			primary = i
			break
		}
	}
	if hint == nil || hint.Width <= 0 || hint.Height <= 0 {
		return primary
	}

	center := image.Pt(hint.X+hint.Width/2, hint.Y+hint.Height/2)
	for i, d := range displays {
		if center.In(d) {
			return i
		}
	}
	return primary
}

// processImage 按目标宽度等比缩放，可选灰度
func processImage(img image.Image, targetWidth int, grayscale bool) image.Image {
	out := img
	if targetWidth > 0 && img.Bounds().Dx() > targetWidth {
		out = resize.Resize(uint(targetWidth), 0, img, resize.Lanczos3)
	}
	if grayscale {
		gray := image.NewGray(out.Bounds())
		draw.Draw(gray, gray.Bounds(), out, out.Bounds().Min, draw.Src)
		out = gray
	}
	return out
}

// savePNG 保存截图
func savePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	b := img.Bounds()
	logger.Debug("截图已保存: %s (%dx%d)", path, b.Dx(), b.Dy())
	return nil
}

// GetScreens 获取所有屏幕信息
func GetScreens() []models.ScreenInfo {
	n := screenshot.NumActiveDisplays()
	screens := make([]models.ScreenInfo, n)

	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		screens[i] = models.ScreenInfo{
			Index:     i,
			Name:      fmt.Sprintf("Display %d", i+1),
			X:         bounds.Min.X,
			Y:         bounds.Min.Y,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			IsPrimary: bounds.Min.X == 0 && bounds.Min.Y == 0,
		}
	}

	return screens
}

