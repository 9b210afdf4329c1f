package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerRenamesTimeKey(t *testing.T) {
	var buf bytes.Buffer
	restore := ConfigureLogger(&buf, "info")
	defer restore()

	Logger().Info("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("time key should be renamed: %v", entry)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	restore := ConfigureLogger(&buf, "warn")
	defer restore()

	Logger().Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %s", buf.String())
	}
	Logger().Warn("kept")
	if !bytes.Contains(buf.Bytes(), []byte("kept")) {
		t.Fatalf("warn line missing")
	}
}
