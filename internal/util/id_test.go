package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("note")
	if !strings.HasPrefix(id, "note_") {
		t.Fatalf("expected note_ prefix, got %q", id)
	}
	if len(id) != len("note_")+32 {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
	if NewID("note") == id {
		t.Fatal("expected unique ids")
	}
}

func TestNewIDWithoutPrefix(t *testing.T) {
	if id := NewID(""); strings.Contains(id, "_") || len(id) != 32 {
		t.Fatalf("unexpected bare id %q", id)
	}
}

func TestNewRequestIDIsULID(t *testing.T) {
	if id := NewRequestID(); len(id) != 26 {
		t.Fatalf("expected 26 char ulid, got %q", id)
	}
}
