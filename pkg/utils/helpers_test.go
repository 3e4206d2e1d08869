package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeInRange(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{"inside", at(10, 0), "09:00", "18:00", true},
		{"at start", at(9, 0), "09:00", "18:00", true},
		{"at end", at(18, 0), "09:00", "18:00", false},
		{"before", at(8, 59), "09:00", "18:00", false},
		{"overnight late", at(23, 30), "22:00", "06:00", true},
		{"overnight early", at(5, 0), "22:00", "06:00", true},
		{"overnight gap", at(12, 0), "22:00", "06:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TimeInRange(tt.now, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := TimeInRange(at(1, 0), "9am", "18:00")
	assert.Error(t, err)
}

func TestIsDayInList(t *testing.T) {
	assert.True(t, IsDayInList(time.Monday, []int{1, 2}))
	assert.False(t, IsDayInList(time.Sunday, []int{1, 2}))
	assert.True(t, IsDayInList(time.Sunday, nil))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 5))
	assert.Equal(t, "ab...", TruncateString("abcdefgh", 5))
	assert.Equal(t, "你好...", TruncateString("你好世界你好", 5))
}
