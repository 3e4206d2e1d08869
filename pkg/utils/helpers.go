package utils

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// DayLayout 日志按天分区使用的日期格式
const DayLayout = "2006-01-02"

// DayKey 返回时间所在的日期分区键
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// TimeInRange 检查 now 是否在 "15:04" 格式的时间范围内，支持跨天
func TimeInRange(now time.Time, startTime, endTime string) (bool, error) {
	start, err := time.Parse("15:04", startTime)
	if err != nil {
		return false, fmt.Errorf("invalid start time format: %w", err)
	}

	end, err := time.Parse("15:04", endTime)
	if err != nil {
		return false, fmt.Errorf("invalid end time format: %w", err)
	}

	// 将时间应用到今天
	startToday := time.Date(now.Year(), now.Month(), now.Day(),
		start.Hour(), start.Minute(), 0, 0, now.Location())
	endToday := time.Date(now.Year(), now.Month(), now.Day(),
		end.Hour(), end.Minute(), 0, 0, now.Location())

	// 处理跨天的情况
	if endToday.Before(startToday) {
		if now.Before(endToday) {
			startToday = startToday.Add(-24 * time.Hour)
		} else {
			endToday = endToday.Add(24 * time.Hour)
		}
	}

	return !now.Before(startToday) && now.Before(endToday), nil
}

// IsDayInList 检查星期几是否在列表中，空列表视为每天
func IsDayInList(day time.Weekday, days []int) bool {
	if len(days) == 0 {
		return true
	}
	dayInt := int(day)
	for _, d := range days {
		if d == dayInt {
			return true
		}
	}
	return false
}

// TruncateString 按字符截断字符串
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
