package runpool

import (
	"bytes"
	"strings"
	"testing"
)

func TestTruncatePassthroughUnderLimit(t *testing.T) {
	in := []byte("short")
	got := truncate(in, 100)
	if !bytes.Equal(got, in) {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestTruncateScenario3(t *testing.T) {
	in := []byte(strings.Repeat("a", 30) + strings.Repeat("b", 100))
	got := truncate(in, 100)
	want := []byte(strings.Repeat("a", 20) + truncationMarker + strings.Repeat("b", 80))
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
