package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanscribe/internal/config"
)

func TestValidateModels(t *testing.T) {
	good := &config.ModelsFile{
		Models: []config.ModelDescriptor{
			{Type: "openai", Name: "gpt", Cost: []float64{1, 2}},
			{Type: "ollama", Name: "local", Cost: []float64{0, 0}},
		},
		Default: []string{"gpt"},
	}
	assert.NoError(t, validateModels(good))

	bad := &config.ModelsFile{
		Models:  []config.ModelDescriptor{{Type: "cohere", Name: "c", Cost: []float64{1, 1}}},
		Default: []string{"missing"},
	}
	err := validateModels(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "c": unsupported type "cohere"`)
	assert.Contains(t, err.Error(), `default model "missing" is not listed in models`)
}
