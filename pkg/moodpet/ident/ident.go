// Package ident derives stable pseudonymous user identifiers.
//
// The raw chat identifier from the transport never enters the pipeline:
// the ingress boundary resolves it to a pseudoId once, and every downstream
// agent sees only the opaque derived string. The derivation is a one-way
// keyed hash, isolated behind the Resolver interface so the key can be
// rotated administratively without touching the pipeline.
package ident

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Resolver maps an external chat identifier to a stable pseudonymous ID.
type Resolver interface {
	// Resolve returns the pseudoId for an external chat identifier.
	// The same input always yields the same output for a given key.
	Resolve(externalChatID string) (string, error)
}

// KeyedHasher derives pseudoIds with a keyed BLAKE3 hash and caches the
// results. Safe for concurrent use.
type KeyedHasher struct {
	key []byte

	mu    sync.RWMutex
	cache map[string]string
}

// NewKeyedHasher creates a resolver from a secret key. The key must be
// non-empty; rotation means constructing a new KeyedHasher, after which
// previously derived pseudoIds no longer correspond to the same users.
func NewKeyedHasher(key string) (*KeyedHasher, error) {
	if key == "" {
		return nil, fmt.Errorf("ident key must not be empty")
	}

	// blake3 keyed mode requires exactly 32 key bytes; derive them from
	// the configured secret so operators can use arbitrary strings.
	derived := blake3.Sum256([]byte(key))

	return &KeyedHasher{
		key:   derived[:],
		cache: make(map[string]string),
	}, nil
}

// Resolve implements Resolver.
func (h *KeyedHasher) Resolve(externalChatID string) (string, error) {
	if externalChatID == "" {
		return "", fmt.Errorf("external chat id must not be empty")
	}

	h.mu.RLock()
	cached, ok := h.cache[externalChatID]
	h.mu.RUnlock()
	if ok {
		return cached, nil
	}

	hasher, err := blake3.NewKeyed(h.key)
	if err != nil {
		return "", fmt.Errorf("init keyed hasher: %w", err)
	}
	if _, err := hasher.Write([]byte(externalChatID)); err != nil {
		return "", fmt.Errorf("hash chat id: %w", err)
	}
	pseudoID := hex.EncodeToString(hasher.Sum(nil)[:16])

	h.mu.Lock()
	h.cache[externalChatID] = pseudoID
	h.mu.Unlock()

	return pseudoID, nil
}
