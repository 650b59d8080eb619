package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Provider
		wantErr bool
	}{
		{name: "empty defaults to auto", input: "", want: ProviderAuto},
		{name: "auto", input: "auto", want: ProviderAuto},
		{name: "case and whitespace ignored", input: "  OLLAMA ", want: ProviderOllama},
		{name: "static", input: "static", want: ProviderStatic},
		{name: "unknown", input: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProvider(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewEmbedder_Static(t *testing.T) {
	e, err := NewEmbedder(context.Background(), ProviderStatic, OllamaConfig{}, testLogger())
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.IsType(t, &StaticEmbedder{}, e)
	assert.Equal(t, "static", e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestNewEmbedder_OllamaExplicit_FailsWhenDown(t *testing.T) {
	cfg := OllamaConfig{Host: "http://127.0.0.1:1"}

	_, err := NewEmbedder(context.Background(), ProviderOllama, cfg, testLogger())

	// An explicitly requested provider never degrades silently
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selected but unavailable")
}

func TestNewEmbedder_AutoFallsBackWhenOllamaDown(t *testing.T) {
	cfg := OllamaConfig{Host: "http://127.0.0.1:1"}

	e, err := NewEmbedder(context.Background(), ProviderAuto, cfg, testLogger())
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.IsType(t, &StaticEmbedder{}, e)
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewEmbedder_AutoUsesOllamaWhenUp(t *testing.T) {
	srv := newOllamaServer(t, []string{"nomic-embed-text:latest"}, nil)
	cfg := OllamaConfig{Host: srv.URL}

	e, err := NewEmbedder(context.Background(), ProviderAuto, cfg, testLogger())
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.IsType(t, &OllamaEmbedder{}, e)
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(context.Background(), Provider("grpc"), OllamaConfig{}, testLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding provider")
}
