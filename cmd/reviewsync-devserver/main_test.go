package main

import (
	"os"
	"testing"
	"time"
)

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("REVIEWSYNC_TEST_DURATION", "150ms")
	got := durationEnv("REVIEWSYNC_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("REVIEWSYNC_TEST_DURATION_BAD", "soon")
	got := durationEnv("REVIEWSYNC_TEST_DURATION_BAD", 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestBoolEnvParsesValue(t *testing.T) {
	t.Setenv("REVIEWSYNC_TEST_BOOL", "false")
	if boolEnv("REVIEWSYNC_TEST_BOOL", true) {
		t.Fatalf("expected false")
	}
}

func TestBoolEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("REVIEWSYNC_TEST_BOOL_BAD", "maybe")
	if !boolEnv("REVIEWSYNC_TEST_BOOL_BAD", true) {
		t.Fatalf("expected fallback true")
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("REVIEWSYNC_TEST_ADDR_UNSET")
	_ = os.Unsetenv("REVIEWSYNC_TEST_DURATION_UNSET")

	if got := envOrDefault("REVIEWSYNC_TEST_ADDR_UNSET", ":8000"); got != ":8000" {
		t.Fatalf("expected fallback :8000, got %s", got)
	}
	if got := durationEnv("REVIEWSYNC_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
}
