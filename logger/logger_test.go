package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
		wantJSON  bool
	}{
		{name: "default json info", level: "", format: "", wantDebug: false, wantJSON: true},
		{name: "debug text", level: "DEBUG", format: "text", wantDebug: true, wantJSON: false},
		{name: "warn json", level: "warn", format: "json", wantDebug: false, wantJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, tt.level, tt.format)

			log.Debug("debug line")
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug line")))

			buf.Reset()
			log.Error("error line", "pipeline", "weather")
			if tt.wantJSON {
				var entry map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
				assert.Equal(t, "error line", entry["msg"])
				assert.Equal(t, "weather", entry["pipeline"])
			} else {
				assert.Contains(t, buf.String(), "pipeline=weather")
			}
		})
	}
}
