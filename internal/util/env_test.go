package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"true", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"no", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("READPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("READPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("READPIPE_TEST_INT", "")
	if got := ParseIntEnv("READPIPE_TEST_INT", 3); got != 3 {
		t.Errorf("expected default 3, got %d", got)
	}
	t.Setenv("READPIPE_TEST_INT", " 5 ")
	if got := ParseIntEnv("READPIPE_TEST_INT", 3); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	t.Setenv("READPIPE_TEST_INT", "five")
	if got := ParseIntEnv("READPIPE_TEST_INT", 3); got != 3 {
		t.Errorf("expected default on invalid input, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("READPIPE_TEST_DURATION", "72h")
	if got := ParseDurationEnv("READPIPE_TEST_DURATION", time.Hour); got != 72*time.Hour {
		t.Errorf("expected 72h, got %v", got)
	}
	t.Setenv("READPIPE_TEST_DURATION", "-1s")
	if got := ParseDurationEnv("READPIPE_TEST_DURATION", time.Hour); got != time.Hour {
		t.Errorf("expected default for negative duration, got %v", got)
	}
	t.Setenv("READPIPE_TEST_DURATION", "soon")
	if got := ParseDurationEnv("READPIPE_TEST_DURATION", time.Hour); got != time.Hour {
		t.Errorf("expected default for invalid duration, got %v", got)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("READPIPE_TEST_STRING", "")
	if got := GetEnv("READPIPE_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	t.Setenv("READPIPE_TEST_STRING", "value")
	if got := GetEnv("READPIPE_TEST_STRING", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
}
