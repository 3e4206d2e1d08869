//go:build linux

package screenstate

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"ScreenLogAI/pkg/models"

	"github.com/godbus/dbus/v5"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// screensaverServices 依次尝试的屏保 D-Bus 服务
var screensaverServices = []struct {
	dest string
	path dbus.ObjectPath
}{
	{"org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver"},
	{"org.gnome.ScreenSaver", "/org/gnome/ScreenSaver"},
}

// IsScreenActive 屏保或锁屏激活时返回 false，查询不到时视为活跃
func IsScreenActive() bool {
	conn, err := dbus.SessionBus()
	if err != nil {
		return true
	}

	for _, svc := range screensaverServices {
		var active bool
		obj := conn.Object(svc.dest, svc.path)
		if err := obj.Call(svc.dest+".GetActive", 0).Store(&active); err != nil {
			continue
		}
		return !active
	}
	return true
}

// x11 复用的 X 连接和 atom 缓存
type x11 struct {
	mu    sync.Mutex
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

var display x11

// ForegroundWindow 通过 EWMH 属性查询前台窗口
func ForegroundWindow() (*models.WindowFocusSample, error) {
	display.mu.Lock()
	defer display.mu.Unlock()

	if err := display.connect(); err != nil {
		return nil, err
	}

	sample, err := display.activeWindow()
	if err != nil {
		// 连接可能已断开，下次重新建立
		display.conn.Close()
		display.conn = nil
		return nil, err
	}
	return sample, nil
}

func (x *x11) connect() error {
	if x.conn != nil {
		return nil
	}
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("connect X11 display: %w", err)
	}
	x.conn = conn
	x.root = xproto.Setup(conn).DefaultScreen(conn).Root
	x.atoms = make(map[string]xproto.Atom)
	return nil
}

func (x *x11) atom(name string) (xproto.Atom, error) {
	if a, ok := x.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(x.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern atom %s: %w", name, err)
	}
	x.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (x *x11) property(win xproto.Window, name string) ([]byte, error) {
	a, err := x.atom(name)
	if err != nil {
		return nil, err
	}
	if a == xproto.AtomNone {
		return nil, nil
	}
	reply, err := xproto.GetProperty(x.conn, false, win, a, xproto.GetPropertyTypeAny, 0, 1<<16).Reply()
	if err != nil {
		return nil, fmt.Errorf("get property %s: %w", name, err)
	}
	return reply.Value, nil
}

func (x *x11) activeWindow() (*models.WindowFocusSample, error) {
	value, err := x.property(x.root, "_NET_ACTIVE_WINDOW")
	if err != nil {
		return nil, err
	}
	if len(value) < 4 {
		return nil, nil
	}
	win := xproto.Window(xgb.Get32(value))
	if win == 0 {
		return nil, nil
	}

	sample := &models.WindowFocusSample{Timestamp: time.Now()}

	if title, err := x.property(win, "_NET_WM_NAME"); err == nil && len(title) > 0 {
		sample.WindowTitle = string(title)
	} else if title, err := x.property(win, "WM_NAME"); err == nil {
		sample.WindowTitle = string(title)
	}

	if class, err := x.property(win, "WM_CLASS"); err == nil {
		sample.AppName = parseWMClass(class)
	}

	if pidValue, err := x.property(win, "_NET_WM_PID"); err == nil && len(pidValue) >= 4 {
		pid := xgb.Get32(pidValue)
		sample.ProcessID = &pid
	}

	if geom, err := xproto.GetGeometry(x.conn, xproto.Drawable(win)).Reply(); err == nil {
		bounds := &models.WindowBounds{Width: int(geom.Width), Height: int(geom.Height)}
		if pos, err := xproto.TranslateCoordinates(x.conn, win, x.root, 0, 0).Reply(); err == nil {
			bounds.X = int(pos.DstX)
			bounds.Y = int(pos.DstY)
		}
		sample.Bounds = bounds
	}

	if sample.AppName == "" && sample.WindowTitle == "" {
		return nil, nil
	}
	return sample, nil
}

// parseWMClass WM_CLASS 为 "instance\x00class\x00"，优先使用 class
func parseWMClass(value []byte) string {
	parts := bytes.Split(bytes.TrimRight(value, "\x00"), []byte{0})
	for i := len(parts) - 1; i >= 0; i-- {
		if len(parts[i]) > 0 {
			return string(parts[i])
		}
	}
	return ""
}
