package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// KeyGenerator derives cache keys from query text and parameters. The
// derivation is deterministic across process restarts: the query text
// is whitespace-normalized and lowercased, and parameters are encoded
// as canonical JSON (encoding/json sorts map keys).
type KeyGenerator struct {
	prefix string
}

// NewKeyGenerator creates a KeyGenerator namespacing all keys under
// prefix.
func NewKeyGenerator(prefix string) *KeyGenerator {
	return &KeyGenerator{prefix: prefix}
}

// Key returns the cache key for (query, params).
func (g *KeyGenerator) Key(query string, params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Deterministic fallback for unmarshalable parameter values.
		data = []byte(fmt.Sprintf("%v", params))
	}

	h := sha256.New()
	h.Write([]byte(NormalizeQuery(query)))
	h.Write([]byte{'|'})
	h.Write(data)

	return g.prefix + hex.EncodeToString(h.Sum(nil)[:16])
}

// TagKey returns the tag index key for tag.
func (g *KeyGenerator) TagKey(tag string) string {
	return g.prefix + "tag:" + tag
}

// Prefix returns the configured key prefix.
func (g *KeyGenerator) Prefix() string {
	return g.prefix
}

// NormalizeQuery collapses whitespace runs and lowercases the query so
// that formatting differences do not produce distinct keys or patterns.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
