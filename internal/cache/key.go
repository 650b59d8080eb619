package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeQuery lowercases and collapses whitespace so semantically
// identical queries share one cache entry. Callers normalize before
// deriving keys.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Key derives a fixed-width key from its parts. Parts are serialized
// canonically (JSON with sorted map keys) and hashed, so any value with a
// stable serialization can participate in a key.
func Key(parts ...any) string {
	var sb strings.Builder
	for i, part := range parts {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(canonicalize(part))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%x", sum[:16])
}

func canonicalize(part any) string {
	if s, ok := part.(string); ok {
		return s
	}
	if data, err := json.Marshal(part); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%+v", part)
}
