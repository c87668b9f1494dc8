package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s, want info", log.GetLevel())
	}
}

func TestNewFromOptions_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewFromOptions(Options{Level: "warn", Format: "json", Out: buf})
	if err != nil {
		t.Fatalf("NewFromOptions failed: %v", err)
	}

	log.Info().Msg("dropped")
	log.Warn().Str("record_id", "r-1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["message"] != "kept" || entry["record_id"] != "r-1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewFromOptions_Console(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewFromOptions(Options{Out: buf})
	if err != nil {
		t.Fatalf("NewFromOptions failed: %v", err)
	}
	log.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q", buf.String())
	}
	if json.Valid(buf.Bytes()) {
		t.Error("console output should not be JSON")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "debug", want: zerolog.DebugLevel},
		{in: " ERROR ", want: zerolog.ErrorLevel},
		{in: "verbose", want: zerolog.InfoLevel, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")
	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"document_id": "doc-7",
		"stage":       "evaluated",
	})
	log.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"document_id":"doc-7"`) {
		t.Errorf("Expected output to contain document_id field, got: %s", output)
	}
	if !strings.Contains(output, `"stage":"evaluated"`) {
		t.Errorf("Expected output to contain stage field, got: %s", output)
	}
}
