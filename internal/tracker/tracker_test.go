package tracker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ScreenLogAI/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource 返回当前设置的窗口
type scriptedSource struct {
	mu      sync.Mutex
	sample  *models.WindowFocusSample
	err     error
	queries atomic.Int32
}

func (s *scriptedSource) set(app, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = nil
	if app == "" && title == "" {
		s.sample = nil
		return
	}
	s.sample = &models.WindowFocusSample{AppName: app, WindowTitle: title}
}

func (s *scriptedSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedSource) ForegroundWindow() (*models.WindowFocusSample, error) {
	s.queries.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.sample == nil {
		return nil, nil
	}
	c := *s.sample
	return &c, nil
}

func newTestTracker() (*Tracker, *scriptedSource, *clock.Mock) {
	src := &scriptedSource{}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
	return New(src, WithClock(mock)), src, mock
}

// focus 切换到指定窗口并在 d 之后刷新
func focus(tr *Tracker, src *scriptedSource, mock *clock.Mock, app string, d time.Duration) {
	src.set(app, app+" window")
	tr.CurrentWindow()
	mock.Add(d)
}

func TestCacheTTL(t *testing.T) {
	tr, src, mock := newTestTracker()
	src.set("Code", "main.go")

	first := tr.CurrentWindow()
	require.NotNil(t, first)
	assert.Equal(t, "Code", first.AppName)

	src.set("Slack", "general")
	mock.Add(100 * time.Millisecond)
	cached := tr.CurrentWindow()
	assert.Equal(t, "Code", cached.AppName)
	assert.Equal(t, int32(1), src.queries.Load())

	mock.Add(500 * time.Millisecond)
	fresh := tr.CurrentWindow()
	assert.Equal(t, "Slack", fresh.AppName)
	assert.Equal(t, int32(2), src.queries.Load())
}

func TestNoDataIsCachedAndNeverSwitches(t *testing.T) {
	tr, src, mock := newTestTracker()
	src.set("Code", "main.go")
	tr.CurrentWindow()
	require.Len(t, tr.SwitchHistory(0), 1)

	mock.Add(time.Second)
	src.set("", "")
	assert.Nil(t, tr.CurrentWindow())

	mock.Add(100 * time.Millisecond)
	assert.Nil(t, tr.CurrentWindow())
	assert.Equal(t, int32(2), src.queries.Load(), "no-data outcome should be cached")

	mock.Add(time.Second)
	src.fail(errors.New("xdotool not found"))
	assert.Nil(t, tr.CurrentWindow())

	// 同一窗口重新出现，不算切换
	mock.Add(time.Second)
	src.set("Code", "main.go")
	tr.CurrentWindow()
	assert.Len(t, tr.SwitchHistory(0), 1)
}

func TestSwitchEventDurations(t *testing.T) {
	tr, src, mock := newTestTracker()

	src.set("Code", "main.go")
	tr.CurrentWindow()
	mock.Add(3 * time.Second)
	tr.CurrentWindow() // 同一窗口，身份时间戳不变
	mock.Add(2 * time.Second)

	src.set("Slack", "general")
	tr.CurrentWindow()

	history := tr.SwitchHistory(0)
	require.Len(t, history, 2)

	assert.Equal(t, "", history[0].FromApp)
	assert.Equal(t, "Code", history[0].ToApp)
	assert.Equal(t, int64(0), history[0].DurationMs)

	assert.Equal(t, "Code", history[1].FromApp)
	assert.Equal(t, "main.go", history[1].FromTitle)
	assert.Equal(t, "Slack", history[1].ToApp)
	assert.Equal(t, int64(5000), history[1].DurationMs)

	sessions := tr.Sessions()
	require.Len(t, sessions, 2)
	require.NotNil(t, sessions[0].EndTime)
	assert.Equal(t, int64(5000), sessions[0].DurationMs)
	assert.Nil(t, sessions[1].EndTime)
}

func TestTitleChangeIsSwitch(t *testing.T) {
	tr, src, mock := newTestTracker()
	src.set("Code", "main.go")
	tr.CurrentWindow()
	mock.Add(time.Second)

	src.sample = &models.WindowFocusSample{AppName: "Code", WindowTitle: "go.mod"}
	tr.CurrentWindow()

	history := tr.SwitchHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "go.mod", history[1].ToTitle)
}

func TestSwitchHistoryBound(t *testing.T) {
	tr, src, mock := newTestTracker()

	for i := 0; i < 150; i++ {
		focus(tr, src, mock, fmt.Sprintf("app-%03d", i), time.Second)
	}

	all := tr.SwitchHistory(0)
	require.Len(t, all, MaxSwitchHistory)
	assert.Equal(t, "app-050", all[0].ToApp)
	assert.Equal(t, "app-149", all[len(all)-1].ToApp)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i].Timestamp.After(all[i-1].Timestamp), "history must be oldest first")
	}

	recent := tr.SwitchHistory(5)
	require.Len(t, recent, 5)
	assert.Equal(t, "app-145", recent[0].ToApp)
	assert.Equal(t, "app-149", recent[4].ToApp)

	assert.Len(t, tr.Sessions(), MaxSessions)
	assert.Equal(t, MaxSwitchHistory, tr.Stats().TotalSwitches)
}

func TestUsageAggregation(t *testing.T) {
	tr, src, mock := newTestTracker()

	focus(tr, src, mock, "A", 10*time.Second)
	focus(tr, src, mock, "B", 5*time.Second)
	focus(tr, src, mock, "A", 7*time.Second)
	focus(tr, src, mock, "C", 0)

	stats := tr.Stats()
	require.Len(t, stats.MostUsedApps, 2)
	assert.Equal(t, models.AppUsage{AppName: "A", DurationMs: 17000}, stats.MostUsedApps[0])
	assert.Equal(t, models.AppUsage{AppName: "B", DurationMs: 5000}, stats.MostUsedApps[1])
	assert.Equal(t, 4, stats.TotalSwitches)
	require.NotNil(t, stats.LastSwitchTime)
	assert.True(t, mock.Now().Equal(*stats.LastSwitchTime))
}

func TestUsageTiesKeepFirstSeenOrder(t *testing.T) {
	tr, src, mock := newTestTracker()

	focus(tr, src, mock, "Zed", 4*time.Second)
	focus(tr, src, mock, "Alacritty", 4*time.Second)
	focus(tr, src, mock, "Firefox", 4*time.Second)
	focus(tr, src, mock, "End", 0)

	names := make([]string, 0, 3)
	for _, u := range tr.Stats().MostUsedApps {
		names = append(names, u.AppName)
	}
	assert.Equal(t, []string{"Zed", "Alacritty", "Firefox"}, names)
}

func TestTopAppsLimit(t *testing.T) {
	tr, src, mock := newTestTracker()
	for i := 0; i < 8; i++ {
		focus(tr, src, mock, fmt.Sprintf("app-%d", i), time.Duration(i+1)*time.Second)
	}
	focus(tr, src, mock, "last", 0)

	stats := tr.Stats()
	require.Len(t, stats.MostUsedApps, topAppsLimit)
	assert.Equal(t, "app-7", stats.MostUsedApps[0].AppName)
	assert.Len(t, tr.AppUsage(), 8)
}

func TestCurrentSessionDuration(t *testing.T) {
	tr, src, mock := newTestTracker()
	assert.Equal(t, int64(0), tr.Stats().CurrentSessionDurationMs)

	src.set("Code", "main.go")
	tr.CurrentWindow()
	mock.Add(42 * time.Second)

	assert.Equal(t, int64(42000), tr.Stats().CurrentSessionDurationMs)
}

func TestConcurrentRefreshEmitsOneSwitch(t *testing.T) {
	tr, src, mock := newTestTracker()
	src.set("Code", "main.go")
	tr.CurrentWindow()

	mock.Add(time.Second)
	src.set("Slack", "general")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.CurrentWindow()
		}()
	}
	wg.Wait()

	assert.Len(t, tr.SwitchHistory(0), 2)
	assert.Equal(t, int32(2), src.queries.Load())
}
