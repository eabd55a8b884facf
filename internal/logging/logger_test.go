package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	l, err := NewLogger(LogLevelInfo, "")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	if l.GetLevel() != LogLevelInfo {
		t.Errorf("level: got %v, want %v", l.GetLevel(), LogLevelInfo)
	}

	l.SetLevel(LogLevelDebug)
	if l.GetLevel() != LogLevelDebug {
		t.Errorf("level after SetLevel: got %v, want %v", l.GetLevel(), LogLevelDebug)
	}
}

func TestLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	l, err := NewLogger(LogLevelDebug, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Info("session %s opened", "abc123")
	l.Error("register failed: %v", os.ErrDeadlineExceeded)
	l.Debug("frame bytes follow")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	for _, want := range []string{"INFO: session abc123 opened", "ERROR: register failed", "DEBUG: frame bytes follow"} {
		if !strings.Contains(content, want) {
			t.Errorf("log file missing %q:\n%s", want, content)
		}
	}
}

func TestLogExchange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchange.log")
	l, err := NewLogger(LogLevelVerbose, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.LogExchange("read", "10.0.0.50:44818", 0x0E, 0x00, 1.25, nil)
	l.LogExchange("write", "10.0.0.50:44818", 0x10, 0x0C, 0.5, nil)
	l.Close()

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "SUCCESS read on 10.0.0.50:44818 (service: 0x0E, status: 0x00") {
		t.Errorf("missing success exchange line:\n%s", content)
	}
	if !strings.Contains(content, "FAILED write on 10.0.0.50:44818 (service: 0x10, status: 0x0C") {
		t.Errorf("missing failed exchange line:\n%s", content)
	}
}

func TestLogHexFormatsPairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hex.log")
	l, err := NewLogger(LogLevelDebug, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.LogHex("frame", []byte{0x6F, 0x00, 0x04})
	l.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "frame: 6f 00 04") {
		t.Errorf("unexpected hex formatting:\n%s", string(data))
	}
}

func TestSilentLevelSuppressesEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silent.log")
	l, err := NewLogger(LogLevelSilent, path)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Error("should not appear")
	l.Info("should not appear either")
	l.Close()

	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Errorf("expected empty log, got:\n%s", string(data))
	}
}
