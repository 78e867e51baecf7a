package ident_test

import (
	"testing"

	"github.com/randalmurphal/moodpet/pkg/moodpet/ident"
)

func TestResolveDeterministic(t *testing.T) {
	hasher, err := ident.NewKeyedHasher("test-secret")
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	first, err := hasher.Resolve("chat-12345")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := hasher.Resolve("chat-12345")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if first != second {
		t.Errorf("same input produced different pseudo IDs: %s vs %s", first, second)
	}
	if first == "" {
		t.Error("pseudo ID must not be empty")
	}
	if first == "chat-12345" {
		t.Error("pseudo ID must not expose the chat ID")
	}
}

func TestResolveDistinctInputs(t *testing.T) {
	hasher, err := ident.NewKeyedHasher("test-secret")
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	a, _ := hasher.Resolve("chat-1")
	b, _ := hasher.Resolve("chat-2")
	if a == b {
		t.Error("different chat IDs must map to different pseudo IDs")
	}
}

func TestResolveKeyDependent(t *testing.T) {
	h1, _ := ident.NewKeyedHasher("key-one")
	h2, _ := ident.NewKeyedHasher("key-two")

	a, _ := h1.Resolve("chat-1")
	b, _ := h2.Resolve("chat-1")
	if a == b {
		t.Error("pseudo IDs must depend on the secret key")
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	if _, err := ident.NewKeyedHasher(""); err == nil {
		t.Error("expected error for empty key")
	}
}
