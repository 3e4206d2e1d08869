package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceCommandUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    CommandKind
		wantErr bool
	}{
		{"object start", `{"command":"start"}`, CommandStart, false},
		{"object mixed case", `{"command":"Status"}`, CommandStatus, false},
		{"bare string", `"Stop"`, CommandStop, false},
		{"bare lowercase", `"status"`, CommandStatus, false},
		{"unknown command", `{"command":"restart"}`, "", true},
		{"unknown bare", `"Pause"`, "", true},
		{"empty object", `{}`, "", true},
		{"not json", `hello`, "", true},
		{"number", `42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd ServiceCommand
			err := json.Unmarshal([]byte(tt.input), &cmd)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Command)
		})
	}
}

func TestServiceCommandMarshal(t *testing.T) {
	data, err := json.Marshal(ServiceCommand{Command: CommandStart})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"start"}`, string(data))
}

func TestServiceStateClone(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	s := DefaultServiceState("abc123")
	s.LastStartTime = &now

	c := s.Clone()
	*c.LastStartTime = now.Add(time.Hour)

	assert.Equal(t, now, *s.LastStartTime)
	assert.Equal(t, StatusStopped, c.Status)
	assert.Equal(t, "abc123", c.ConfigFingerprint)
	assert.Nil(t, c.LastStopTime)
}

func TestSameFocus(t *testing.T) {
	a := &WindowFocusSample{AppName: "Code", WindowTitle: "main.go"}
	b := &WindowFocusSample{AppName: "Code", WindowTitle: "main.go", Timestamp: time.Now()}
	c := &WindowFocusSample{AppName: "Code", WindowTitle: "go.mod"}

	assert.True(t, a.SameFocus(b))
	assert.False(t, a.SameFocus(c))
	assert.False(t, a.SameFocus(nil))

	var none *WindowFocusSample
	assert.True(t, none.SameFocus(nil))
}
