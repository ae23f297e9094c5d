package logx

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogx_PrettyLabels(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "debug", "pretty", "zh-CN", "never")
	Infof("hello %s", "world")
	if !strings.Contains(buf.String(), "[信息] hello world") {
		t.Fatalf("expect zh label, got: %q", buf.String())
	}

	buf.Reset()
	InitWriter(&buf, "info", "pretty", "en", "never")
	Infof("ok")
	Debugf("hidden")
	if !strings.Contains(buf.String(), "[INFO] ok") {
		t.Fatalf("expect en label, got: %q", buf.String())
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug should be filtered at info level")
	}
}

func TestLogx_LevelFilteringAndSilence(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn", "pretty", "en", "never")
	Infof("should not print")
	Warnf("warn on")
	out := buf.String()
	if strings.Contains(out, "should not print") {
		t.Fatalf("info should be filtered when level=warn")
	}
	if !strings.Contains(out, "[WARN]") {
		t.Fatalf("expect warn label present: %q", out)
	}

	buf.Reset()
	InitWriter(&buf, "off", "pretty", "en", "never")
	Errorf("boom")
	if buf.Len() != 0 {
		t.Fatalf("silent level should print nothing: %q", buf.String())
	}
}

func TestLogx_ColorAlwaysAndAttrs(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, slog.LevelInfo, "en", "always")
	logger := slog.New(h).With("k", "v").WithGroup("g")
	logger.Error("hello", "n", 1)
	s := buf.String()
	if !strings.Contains(s, "\x1b[31m[ERROR]") {
		t.Fatalf("expect ansi colour, got: %q", s)
	}
	if !strings.Contains(s, "k=v") || !strings.Contains(s, "g.n=1") {
		t.Fatalf("expect flattened attrs, got: %q", s)
	}
}

func TestLogx_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "info", "json", "en", "never")
	Warnf("x=%d", 1)
	if !strings.Contains(buf.String(), `"msg":"x=1"`) {
		t.Fatalf("expect json output, got: %q", buf.String())
	}
}
