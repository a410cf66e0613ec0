package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestComponentLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewLoggerTo(&buf, "warn"), "tracking")
	l.Info("dropped")
	l.Warn("tick failed", "request_id", 7)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q", buf.String())
	}
	if rec["msg"] != "tick failed" || rec["component"] != "tracking" || rec["request_id"] != float64(7) {
		t.Fatalf("unexpected record %v", rec)
	}
}
