package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// HashPayload produces a stable hex digest of an arbitrary JSON-able payload.
// Map keys are sorted by the JSON encoder, so two payloads with the same
// fields in different order hash to the same value.
func HashPayload(payload interface{}) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DeriveIdempotencyKey builds a deterministic key for a write intent from its
// caller-significant parts. Parts are normalized (trimmed, lowercased where
// they are mode discriminators) and joined, so "dry" and "real" attempts for
// the same payload never collide.
func DeriveIdempotencyKey(parts ...string) string {
	norm := make([]string, 0, len(parts))
	for _, p := range parts {
		norm = append(norm, strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(norm, "|")))
	return hex.EncodeToString(sum[:])
}

// HashEventContent derives a dedup key for an inbound event that carries no
// provider-assigned id. Header-ish fields that vary per delivery must not be
// included by the caller.
func HashEventContent(eventType string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(eventType)))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// SortedKeys is a small helper for deterministic map iteration in summaries.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
