package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger_Environments(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker"} {
		if _, err := NewLogger(env, "", FileConfig{}); err != nil {
			t.Errorf("env %s: %v", env, err)
		}
	}
	if _, err := NewLogger("staging", "", FileConfig{}); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestNewLogger_Level(t *testing.T) {
	l, err := NewLogger("prod", "warn", FileConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if _, err := NewLogger("prod", "loud", FileConfig{}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewLogger_FileSink(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger("test", "info", FileConfig{Dir: dir, Pattern: "app.log"})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("written to file", zap.String("k", "v"))
	_ = l.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written to file"`) {
		t.Errorf("log line missing: %s", data)
	}
}

func TestNewLogger_BadRotation(t *testing.T) {
	_, err := NewLogger("test", "", FileConfig{Dir: t.TempDir(), RotationTime: "daily"})
	if err == nil {
		t.Error("expected error for unparsable rotation_time")
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected nop logger")
	}
	l := zap.NewExample()
	if got := FromContext(ContextWithLogger(context.Background(), l)); got != l {
		t.Error("logger not carried in context")
	}
}
