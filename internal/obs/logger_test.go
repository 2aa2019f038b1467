package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWritesOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLoggerTo(&buf)
	lg.Warn(map[string]interface{}{"op": "fetch", "attempt": 2})
	lg.Info(nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var got map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if got["level"] != "warn" || got["op"] != "fetch" || got["ts"] == nil {
		t.Fatalf("unexpected fields %v", got)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var lg *Logger
	lg.Error(map[string]interface{}{"op": "noop"})
}
