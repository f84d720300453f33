package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: JSONFormat, Level: InfoLevel, Output: &buf})

	logger.Info("hello", map[string]interface{}{"key": "value"})

	var entry struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "info" || entry.Message != "hello" || entry.Fields["key"] != "value" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: WarnLevel, Output: &buf})

	logger.Debug("nope", nil)
	logger.Info("nope", nil)
	logger.Warn("yes", nil)
	logger.Error("also", nil)

	out := buf.String()
	if strings.Contains(out, "nope") {
		t.Errorf("filtered levels leaked: %q", out)
	}
	if !strings.Contains(out, "yes") || !strings.Contains(out, "also") {
		t.Errorf("expected levels missing: %q", out)
	}
}

func TestHumanFormatFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: InfoLevel, Output: &buf})

	logger.Info("message", map[string]interface{}{"count": 3})

	out := buf.String()
	if !strings.Contains(out, "[info]") || !strings.Contains(out, "count=3") {
		t.Errorf("output = %q", out)
	}
}

func TestRotateIfLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	content := strings.Repeat("log line\n", 100)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := RotateIfLarge(path, 10); err != nil {
		t.Fatalf("RotateIfLarge() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() != 0 {
		t.Errorf("log not truncated: size=%d err=%v", info.Size(), err)
	}

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("rotation missing: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("bad gzip: %v", err)
	}
	data, _ := io.ReadAll(gz)
	if string(data) != content {
		t.Error("rotated content does not match original")
	}
}

func TestRotateSkipsSmallFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	if err := os.WriteFile(path, []byte("short\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := RotateIfLarge(path, DefaultMaxLogBytes); err != nil {
		t.Fatalf("RotateIfLarge() error = %v", err)
	}
	if _, err := os.Stat(path + ".1.gz"); !os.IsNotExist(err) {
		t.Error("small file should not rotate")
	}
}
