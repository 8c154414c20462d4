package aiconnectors

import (
	"context"
	"os"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/leanscribe/internal/config"
)

// EnvKeys maps hosted providers to the variable holding their API key. A
// provider is available when its variable is set.
var EnvKeys = map[Provider]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderMicrosoft: "AZURE_OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GOOGLE_API_KEY",
	ProviderFireworks: "FIREWORKS_API_KEY",
}

// Availability decides which configured models can be used right now.
type Availability struct {
	ollamaURL     string
	getenv        func(string) string
	listOllama    func(ctx context.Context, baseURL string) ([]OllamaModel, error)
	contextLength func(ctx context.Context, baseURL, model string) (int, error)
}

// NewAvailability checks credentials in the environment and probes the
// local Ollama server.
func NewAvailability() *Availability {
	return &Availability{
		ollamaURL:     OllamaURL(),
		getenv:        os.Getenv,
		listOllama:    FetchOllamaModels,
		contextLength: OllamaContextLength,
	}
}

// Providers returns the set of usable backend types.
func (a *Availability) Providers(ctx context.Context) map[Provider]bool {
	available := map[Provider]bool{}
	for provider, key := range EnvKeys {
		if a.getenv(key) != "" {
			available[provider] = true
		}
	}
	if _, err := a.listOllama(ctx, a.ollamaURL); err == nil {
		available[ProviderOllama] = true
	} else {
		log.Debug().Err(err).Msg("Ollama not reachable")
	}
	return available
}

// Filter returns the available models in file order and the available
// defaults. Ollama models are priced at zero and get their context window
// from the server.
func (a *Availability) Filter(ctx context.Context, file *config.ModelsFile) ([]config.ModelDescriptor, []string) {
	available := a.Providers(ctx)

	var models []config.ModelDescriptor
	var defaults []string
	for _, m := range file.Models {
		if !available[Provider(m.Type)] {
			continue
		}
		if Provider(m.Type) == ProviderOllama {
			m = a.withOllamaMetadata(ctx, m)
		}
		models = append(models, m)
		if file.IsDefault(m.Name) {
			defaults = append(defaults, m.Name)
		}
	}

	log.Debug().
		Strs("providers", providerNames(available)).
		Int("models", len(models)).
		Strs("defaults", defaults).
		Msg("Resolved model availability")
	return models, defaults
}

func (a *Availability) withOllamaMetadata(ctx context.Context, m config.ModelDescriptor) config.ModelDescriptor {
	m.Cost = []float64{0, 0}
	m.Limit = DefaultOllamaContextLength

	mc, err := DecodeModelConfig(m.Params)
	if err != nil || mc.ModelID() == "" {
		return m
	}
	baseURL := mc.BaseURL
	if baseURL == "" {
		baseURL = a.ollamaURL
	}
	n, err := a.contextLength(ctx, baseURL, mc.ModelID())
	if err != nil {
		log.Warn().Err(err).Str("model", m.Name).Msg("Failed to read Ollama context length")
		return m
	}
	if n > 0 {
		m.Limit = n
	}
	return m
}

func providerNames(set map[Provider]bool) []string {
	names := make([]string, 0, len(set))
	for p := range set {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}
