package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	if result := GetEnv("PM_TEST_NONEXISTENT_VAR", "default"); result != "default" {
		t.Errorf("Expected 'default', got %q", result)
	}

	t.Setenv("PM_TEST_GET_ENV", "custom")
	if result := GetEnv("PM_TEST_GET_ENV", "default"); result != "custom" {
		t.Errorf("Expected 'custom', got %q", result)
	}
}

func TestGetIntEnv(t *testing.T) {
	if result := GetIntEnv("PM_TEST_NONEXISTENT_INT", 42); result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}

	t.Setenv("PM_TEST_INT_ENV", "123")
	if result := GetIntEnv("PM_TEST_INT_ENV", 42); result != 123 {
		t.Errorf("Expected 123, got %d", result)
	}

	t.Setenv("PM_TEST_INVALID_INT", "not-a-number")
	if result := GetIntEnv("PM_TEST_INVALID_INT", 42); result != 42 {
		t.Errorf("Expected 42 for invalid int, got %d", result)
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{"unset uses default", "", true, true},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"garbage uses default", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PM_TEST_BOOL", tt.value)
			if got := GetBoolEnv("PM_TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("GetBoolEnv() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetDurationEnv(t *testing.T) {
	defaultDuration := 5 * time.Second

	if result := GetDurationEnv("PM_TEST_NONEXISTENT_DURATION", defaultDuration); result != defaultDuration {
		t.Errorf("Expected %v, got %v", defaultDuration, result)
	}

	t.Setenv("PM_TEST_DURATION_MS", "300ms")
	if result := GetDurationEnv("PM_TEST_DURATION_MS", defaultDuration); result != 300*time.Millisecond {
		t.Errorf("Expected 300ms, got %v", result)
	}

	t.Setenv("PM_TEST_INVALID_DURATION", "not-a-duration")
	if result := GetDurationEnv("PM_TEST_INVALID_DURATION", defaultDuration); result != defaultDuration {
		t.Errorf("Expected %v for invalid duration, got %v", defaultDuration, result)
	}
}

func TestGetListEnv(t *testing.T) {
	if result := GetListEnv("PM_TEST_NONEXISTENT_LIST", []string{"a"}); !slices.Equal(result, []string{"a"}) {
		t.Errorf("Expected default list, got %v", result)
	}

	t.Setenv("PM_TEST_LIST", "kafka-1:9092, kafka-2:9092,,")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if result := GetListEnv("PM_TEST_LIST", nil); !slices.Equal(result, want) {
		t.Errorf("Expected %v, got %v", want, result)
	}
}

func TestGetMapEnv(t *testing.T) {
	t.Setenv("PM_TEST_MAP", "worker=registry/worker:1, broken, =x, ffmpeg=ffmpeg:6")

	result := GetMapEnv("PM_TEST_MAP", nil)
	if len(result) != 2 {
		t.Fatalf("Expected 2 entries, got %d (%v)", len(result), result)
	}
	if result["worker"] != "registry/worker:1" {
		t.Errorf("Expected worker image, got %q", result["worker"])
	}
	if result["ffmpeg"] != "ffmpeg:6" {
		t.Errorf("Expected ffmpeg image, got %q", result["ffmpeg"])
	}
}

func TestGetSecretFile(t *testing.T) {
	if result := GetSecretFile(""); result != "" {
		t.Errorf("Expected empty string for empty path, got %q", result)
	}

	if result := GetSecretFile("/nonexistent/path/to/secret"); result != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", result)
	}

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("my-secret-value\n"), 0o600); err != nil {
		t.Fatalf("Failed to write secret file: %v", err)
	}
	if result := GetSecretFile(path); result != "my-secret-value" {
		t.Errorf("Expected %q, got %q", "my-secret-value", result)
	}
}
