package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndOrder(t *testing.T) {
	first := NewID("msg")
	second := NewID("msg")
	if !strings.HasPrefix(first, "msg_") {
		t.Fatalf("expected msg_ prefix, got %q", first)
	}
	if !(first < second) {
		t.Fatalf("expected %q < %q", first, second)
	}
	if !HasPrefix(first, "msg") {
		t.Fatalf("HasPrefix(%q, msg) = false", first)
	}
	if HasPrefix(first, "conv") {
		t.Fatalf("HasPrefix(%q, conv) = true", first)
	}
}

func TestNewIDWithoutPrefix(t *testing.T) {
	id := NewID("")
	if strings.Contains(id, "_") || len(id) != 26 {
		t.Fatalf("unexpected bare id %q", id)
	}
}
