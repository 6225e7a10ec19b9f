package logging

import (
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO"} {
		if _, err := ParseLevel(level); err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", level, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewWithDest(t *testing.T) {
	if err := SetLogLevel("info"); err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	logger := NewWithDest(&sb, "node1")
	logger.Debug("hidden")
	logger.Infof("decided %d", 7)

	out := sb.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level: %q", out)
	}
	if !strings.Contains(out, "decided 7") || !strings.Contains(out, "node1") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestPackageLevel(t *testing.T) {
	if err := SetLogLevel("error"); err != nil {
		t.Fatal(err)
	}
	if err := SetPackageLogLevel("logging", "debug"); err != nil {
		t.Fatal(err)
	}
	defer func() {
		mut.Lock()
		delete(packageLevels, "logging")
		mut.Unlock()
		_ = SetLogLevel("info")
	}()

	var sb strings.Builder
	logger := NewWithDest(&sb, "test")
	logger.Debug("visible")
	if !strings.Contains(sb.String(), "visible") {
		t.Errorf("package level was not applied: %q", sb.String())
	}
}

func BenchmarkWrappedLoggerNoPackages(b *testing.B) {
	_ = SetLogLevel("error")
	logger := New("test")

	for i := 0; i < b.N; i++ {
		logger.Info("test")
	}
}

func BenchmarkWrappedLoggerWithPackage(b *testing.B) {
	_ = SetLogLevel("error")
	_ = SetPackageLogLevel("foo", "error")
	logger := New("test")

	for i := 0; i < b.N; i++ {
		logger.Info("test")
	}
}
