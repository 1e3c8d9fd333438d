package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered at WarnLevel")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered at WarnLevel")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be logged at WarnLevel")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be logged at WarnLevel")
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("principal_id", int64(42)).Info("authorized")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry["principal_id"] != float64(42) {
		t.Errorf("Expected principal_id=42, got %v", entry["principal_id"])
	}
	if entry["msg"] != "authorized" {
		t.Errorf("Expected msg=authorized, got %v", entry["msg"])
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithPrincipalID(ctx, "7")

	FromContext(ctx).Info("hello")

	output := buf.String()
	if !strings.Contains(output, "req-123") {
		t.Error("Expected request_id in log output")
	}
	if !strings.Contains(output, `"principal_id":"7"`) {
		t.Error("Expected principal_id in log output")
	}
}
