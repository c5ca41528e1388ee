package querycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestKeyGenerator_Deterministic(t *testing.T) {
	g := NewKeyGenerator("test:")

	k1 := g.Key("SELECT * FROM users WHERE id = :id", map[string]any{"id": 1, "limit": 10})
	k2 := g.Key("SELECT * FROM users WHERE id = :id", map[string]any{"limit": 10, "id": 1})
	assert.Equal(t, k1, k2, "parameter order must not change the key")
}

func TestKeyGenerator_NormalizationCollapses(t *testing.T) {
	g := NewKeyGenerator("test:")

	k1 := g.Key("SELECT  *\n\tFROM users", nil)
	k2 := g.Key("select * from users", nil)
	assert.Equal(t, k1, k2)
}

func TestKeyGenerator_DistinctInputsDistinctKeys(t *testing.T) {
	g := NewKeyGenerator("test:")

	base := g.Key("SELECT * FROM users", map[string]any{"id": 1})
	assert.NotEqual(t, base, g.Key("SELECT * FROM orders", map[string]any{"id": 1}))
	assert.NotEqual(t, base, g.Key("SELECT * FROM users", map[string]any{"id": 2}))
	assert.NotEqual(t, base, g.Key("SELECT * FROM users", nil))
}

func TestKeyGenerator_PrefixAndTagKey(t *testing.T) {
	g := NewKeyGenerator("app:")

	assert.Equal(t, "app:", g.Prefix())
	assert.Equal(t, "app:tag:users", g.TagKey("users"))

	key := g.Key("SELECT 1", nil)
	assert.Len(t, key, len("app:")+32)
}

func TestKeyGenerator_StableAcrossInstances(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		query := rapid.String().Draw(t, "query")
		params := map[string]any{
			"a": rapid.Int().Draw(t, "a"),
			"b": rapid.String().Draw(t, "b"),
		}

		k1 := NewKeyGenerator("p:").Key(query, params)
		k2 := NewKeyGenerator("p:").Key(query, params)
		assert.Equal(t, k1, k2)
	})
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "select * from t", NormalizeQuery("  SELECT   *\nFROM\tt  "))
	assert.Equal(t, "", NormalizeQuery("   "))
}
