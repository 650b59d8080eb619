package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Camera LENS", "camera lens"},
		{"collapses inner whitespace", "camera \t  lens", "camera lens"},
		{"trims edges", "  camera lens  ", "camera lens"},
		{"empty stays empty", "", ""},
		{"whitespace only", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeQuery(tt.input))
		})
	}
}

func TestKey_IsDeterministicAndFixedWidth(t *testing.T) {
	k1 := Key("camera lens", 10, "rrf")
	k2 := Key("camera lens", 10, "rrf")

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestKey_DistinguishesParts(t *testing.T) {
	base := Key("camera lens", 10, "rrf")

	assert.NotEqual(t, base, Key("camera lens", 20, "rrf"))
	assert.NotEqual(t, base, Key("camera lens", 10, "weighted"))
	assert.NotEqual(t, base, Key("tripod", 10, "rrf"))
}

func TestKey_MapOrderDoesNotMatter(t *testing.T) {
	// Maps built in different insertion orders serialize identically
	m1 := map[string]float64{"lexical": 0.3, "vector": 0.7}
	m2 := map[string]float64{}
	m2["vector"] = 0.7
	m2["lexical"] = 0.3

	assert.Equal(t, Key("q", m1), Key("q", m2))
}

func TestKey_StructParts(t *testing.T) {
	type weights struct {
		Lexical float64
		Vector  float64
	}

	k1 := Key("q", weights{0.3, 0.7})
	k2 := Key("q", weights{0.3, 0.7})
	k3 := Key("q", weights{0.5, 0.5})

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
