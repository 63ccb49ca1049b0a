package gatekeeper

import "strings"

// KeyRegistry is the immutable set of API keys accepted by the gateway.
// An empty registry rejects every authenticated request.
type KeyRegistry struct {
	keys map[string]struct{}
}

// NewKeyRegistry parses a comma-separated key list.
// Entries are trimmed, empty entries dropped and duplicates collapsed.
func NewKeyRegistry(raw string) *KeyRegistry {
	keys := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		key := strings.TrimSpace(part)
		if key == "" {
			continue
		}
		keys[key] = struct{}{}
	}
	return &KeyRegistry{keys: keys}
}

// IsValid reports whether key is registered
func (k *KeyRegistry) IsValid(key string) bool {
	if key == "" {
		return false
	}
	_, ok := k.keys[key]
	return ok
}

// Len returns the number of distinct keys
func (k *KeyRegistry) Len() int {
	return len(k.keys)
}

// MaskKey shortens a key for log output
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
