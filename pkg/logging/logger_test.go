// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	if got := Level(42).toSlogLevel(); got != slog.LevelInfo {
		t.Errorf("unknown level should map to Info, got %v", got)
	}
	if got := LevelWarn.toSlogLevel(); got != slog.LevelWarn {
		t.Errorf("LevelWarn.toSlogLevel() = %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_OutputText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Service: "client"})
	logger.Info("stream started", "request_id", "abc")

	out := buf.String()
	if !strings.Contains(out, "stream started") {
		t.Errorf("missing message in %q", out)
	}
	if !strings.Contains(out, "service=client") {
		t.Errorf("missing service attribute in %q", out)
	}
	if !strings.Contains(out, "request_id=abc") {
		t.Errorf("missing request_id attribute in %q", out)
	}
}

func TestNew_OutputJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, JSON: true})
	logger.Warn("frame dropped", "event", "final")

	if !strings.Contains(buf.String(), `"event":"final"`) {
		t.Errorf("expected JSON attribute, got %q", buf.String())
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn})
	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("lines below Warn leaked: %q", out)
	}
	if !strings.Contains(out, "warn line") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestNew_QuietWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Quiet: true})
	logger.Error("should not appear")

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "chat", Quiet: true})
	logger.Info("to file", "message_id", "m1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "chat_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message_id":"m1"`) {
		t.Errorf("log file missing attribute: %s", data)
	}
}

func TestNew_WithLogDir_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	logger.Info("still logs")

	if !strings.Contains(buf.String(), "still logs") {
		t.Errorf("expected fallback to console output, got %q", buf.String())
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	child := logger.With("session_generation", 3)
	child.Info("token appended")

	if !strings.Contains(buf.String(), "session_generation=3") {
		t.Errorf("child attribute missing: %q", buf.String())
	}
}

func TestLogger_ExporterReceivesEntries(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Level: LevelInfo, Exporter: exp, Service: "svc"})

	logger.Debug("filtered")
	logger.Info("kept", "k", "v")
	logger.With("child", true).Warn("child kept")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries := exp.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := exp.Messages(LevelWarn); len(got) != 1 || got[0] != "child kept" {
		t.Errorf("Messages(LevelWarn) = %v", got)
	}
	for _, e := range entries {
		if e.Service != "svc" {
			t.Errorf("entry service = %q", e.Service)
		}
	}
}

func TestLogger_CloseIdempotent(t *testing.T) {
	logger := New(Config{Quiet: true, LogDir: t.TempDir()})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	// Logging after close must not panic.
	logger.Info("after close")
}

type failingExporter struct{ NopExporter }

func (f *failingExporter) Flush(ctx context.Context) error { return errors.New("flush failed") }

func TestLogger_Close_ExporterError(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
	err := logger.Close()
	if err == nil || !strings.Contains(err.Error(), "flush failed") {
		t.Errorf("Close() error = %v, want flush failure", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.With("worker", n).Info("tick")
		}(i)
	}
	wg.Wait()
	_ = logger.Close()

	if got := len(exp.Entries()); got != 20 {
		t.Errorf("expected 20 entries, got %d", got)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/.smartlib/logs"); got != filepath.Join(home, ".smartlib/logs") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/var/log"); got != "/var/log" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandPath("~other/x"); got != "~other/x" {
		t.Errorf("~user form should be left alone: %q", got)
	}
}

func TestArgsToMap(t *testing.T) {
	got := argsToMap([]any{"a", 1, 2, "skipped", "dangling"})
	if len(got) != 1 || got["a"] != 1 {
		t.Errorf("argsToMap = %v", got)
	}
}
