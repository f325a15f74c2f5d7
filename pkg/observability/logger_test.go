package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)

		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("customer_id", "cus_123").Info("message")

	entry := decodeEntry(t, &buf)
	if entry["customer_id"] != "cus_123" {
		t.Errorf("Expected field 'customer_id' to be 'cus_123', got %v", entry["customer_id"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"user_id":  "u1",
		"attempts": 2,
	}).Info("message")

	entry := decodeEntry(t, &buf)
	if entry["user_id"] != "u1" {
		t.Errorf("Expected field 'user_id' to be 'u1', got %v", entry["user_id"])
	}
	if entry["attempts"] != float64(2) {
		t.Errorf("Expected field 'attempts' to be 2, got %v", entry["attempts"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("something went wrong")

	entry := decodeEntry(t, &buf)
	if entry["error"] != "boom" {
		t.Errorf("Expected error field 'boom', got %v", entry["error"])
	}

	// nil error must not add a field
	buf.Reset()
	logger.WithError(nil).Info("fine")
	entry = decodeEntry(t, &buf)
	if _, exists := entry["error"]; exists {
		t.Error("nil error should not add an error field")
	}
}

func TestLogger_Formatters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	t.Run("Debugf", func(t *testing.T) {
		buf.Reset()
		logger.Debugf("test %s %d", "string", 42)
		entry := decodeEntry(t, &buf)
		if entry["msg"] != "test string 42" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})

	t.Run("Infof", func(t *testing.T) {
		buf.Reset()
		logger.Infof("test %d", 123)
		entry := decodeEntry(t, &buf)
		if entry["msg"] != "test 123" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})

	t.Run("Errorf", func(t *testing.T) {
		buf.Reset()
		logger.Errorf("error %v", "test")
		entry := decodeEntry(t, &buf)
		if entry["msg"] != "error test" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})
}

func TestContextHelpers(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		if got := GetRequestID(ctx); got != "req-123" {
			t.Errorf("Expected request ID 'req-123', got %s", got)
		}
	})

	t.Run("UserID", func(t *testing.T) {
		ctx := WithUserID(context.Background(), "user-456")
		if got := GetUserID(ctx); got != "user-456" {
			t.Errorf("Expected user ID 'user-456', got %s", got)
		}
	})

	t.Run("FromContext", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		ctx := WithLogger(context.Background(), logger)
		ctx = WithRequestID(ctx, "req-123")
		ctx = WithUserID(ctx, "user-456")

		FromContext(ctx).Info("test message")

		entry := decodeEntry(t, &buf)
		if entry["request_id"] != "req-123" {
			t.Errorf("Expected request_id 'req-123', got %v", entry["request_id"])
		}
		if entry["user_id"] != "user-456" {
			t.Errorf("Expected user_id 'user-456', got %v", entry["user_id"])
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
