// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
)

func newBufferLogger(prefix string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(prefix)
	logger.SetWriter(&buf)
	logger.SetColorize(false)
	logger.SetLevel(DEBUG)
	return logger, &buf
}

func TestLoggerBasic(t *testing.T) {
	logger, buf := newBufferLogger("gcode")

	logger.Info("parsed %d lines", 42)

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "gcode:") {
		t.Errorf("expected prefix 'gcode:', got: %s", output)
	}
	if !strings.Contains(output, "parsed 42 lines") {
		t.Errorf("expected formatted message, got: %s", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newBufferLogger("test")
	logger.SetLevel(WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG and INFO to be filtered, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("expected WARN to pass, got: %s", buf.String())
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected ERROR to pass, got: %s", buf.String())
	}
}

func TestLoggerPercentWithoutArgs(t *testing.T) {
	logger, buf := newBufferLogger("test")

	logger.Info("flow at 100%")
	if !strings.Contains(buf.String(), "flow at 100%") {
		t.Errorf("message without args must not be formatted, got: %s", buf.String())
	}
}

func TestLoggerJSON(t *testing.T) {
	logger, buf := newBufferLogger("deposition")
	logger.SetFormat(FormatJSON)

	logger.WithFields(Fields{"line": 17, "length": 2.5}).Warn("dangling run")

	var entry JSONLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v, output: %s", err, buf.String())
	}
	if entry.Level != "WARN" {
		t.Errorf("expected level WARN, got: %s", entry.Level)
	}
	if entry.Logger != "deposition" {
		t.Errorf("expected logger 'deposition', got: %s", entry.Logger)
	}
	if entry.Message != "dangling run" {
		t.Errorf("expected message 'dangling run', got: %s", entry.Message)
	}
	if entry.Fields["line"] != float64(17) {
		t.Errorf("expected field line=17, got: %v", entry.Fields["line"])
	}
}

func TestLoggerWithFieldsSorted(t *testing.T) {
	logger, buf := newBufferLogger("test")

	logger.WithField("zeta", 1).WithField("alpha", 2).Info("fields")

	output := buf.String()
	if !strings.Contains(output, "{alpha=2, zeta=1}") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	logger, buf := newBufferLogger("test")

	logger.WithError(errors.New("boom")).Error("failed")

	if !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("expected error field, got: %s", buf.String())
	}
}

func TestLoggerWithPrefixSharesOutput(t *testing.T) {
	parent, buf := newBufferLogger("parent")
	child := parent.WithPrefix("child")

	parent.SetLevel(ERROR)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("child should follow parent's level, got: %s", buf.String())
	}

	child.Error("visible")
	if !strings.Contains(buf.String(), "child: visible") {
		t.Errorf("expected child prefix, got: %s", buf.String())
	}
}

func TestLoggerCaller(t *testing.T) {
	logger, buf := newBufferLogger("test")
	logger.SetCaller(true)

	logger.Info("with caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info, got: %s", buf.String())
	}

	buf.Reset()
	logger.WithField("k", "v").Info("entry caller")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller info from entry, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"warning", WARN},
		{" error ", ERROR},
		{"bogus", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("VRPRINTER_LOG_LEVEL", "error")
	t.Setenv("VRPRINTER_LOG_FORMAT", "json")

	logger, buf := newBufferLogger("env")
	ConfigureFromEnv(logger)

	if logger.GetLevel() != ERROR {
		t.Errorf("level = %v, want ERROR", logger.GetLevel())
	}
	logger.Error("json please")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got: %s", buf.String())
	}
}

func TestIsTerminalFalseForFilesAndBuffers(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}

	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("a regular file is not a terminal")
	}
}

func BenchmarkLoggerText(b *testing.B) {
	var buf bytes.Buffer
	logger := New("bench")
	logger.SetWriter(&buf)
	logger.SetColorize(false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message %d", i)
	}
}

func BenchmarkLoggerFiltered(b *testing.B) {
	var buf bytes.Buffer
	logger := New("bench")
	logger.SetWriter(&buf)
	logger.SetLevel(ERROR)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Debug("filtered %d", i)
	}
}
