package aiconnectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/leanscribe/internal/config"
)

// Provider is the backend type of a model in models.json.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderMicrosoft Provider = "microsoft"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderFireworks Provider = "fireworks"
	ProviderOllama    Provider = "ollama"
)

const (
	fireworksBaseURL   = "https://api.fireworks.ai/inference/v1"
	defaultAzureAPIVer = "2024-02-01"
)

// ModelConfig holds the backend params of a model. Field names follow the
// params objects of models.json.
type ModelConfig struct {
	Model       string  `json:"model,omitempty"`
	ModelName   string  `json:"modelName,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	TopP        float64 `json:"topP,omitempty"`
	TopK        float64 `json:"topK,omitempty"`
	BaseURL     string  `json:"baseURL,omitempty"`
	APIVersion  string  `json:"apiVersion,omitempty"`
	APIKey      string  `json:"apiKey,omitempty"`
}

// ModelID returns the provider-side model identifier.
func (c ModelConfig) ModelID() string {
	if c.Model != "" {
		return c.Model
	}
	return c.ModelName
}

// DecodeModelConfig converts an opaque params object into a ModelConfig.
// Unknown keys are ignored.
func DecodeModelConfig(params map[string]interface{}) (ModelConfig, error) {
	var mc ModelConfig
	if len(params) == 0 {
		return mc, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return mc, fmt.Errorf("failed to encode model params: %w", err)
	}
	if err := json.Unmarshal(data, &mc); err != nil {
		return mc, fmt.Errorf("failed to decode model params: %w", err)
	}
	return mc, nil
}

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider    Provider    `json:"provider"`
	APIKey      string      `json:"api_key"`
	BaseURL     string      `json:"base_url,omitempty"`
	ModelConfig ModelConfig `json:"model_config,omitempty"`
}

// Connector streams completions from one configured model.
type Connector struct {
	provider Provider
	llm      llms.Model
	options  ConnectorOptions
}

// OptionsFor builds connector options for a model descriptor, taking the API
// key from params or the provider's environment variable.
func OptionsFor(m config.ModelDescriptor) (ConnectorOptions, error) {
	mc, err := DecodeModelConfig(m.Params)
	if err != nil {
		return ConnectorOptions{}, fmt.Errorf("model %s: %w", m.Name, err)
	}
	provider := Provider(m.Type)
	apiKey := mc.APIKey
	if apiKey == "" {
		if key, ok := EnvKeys[provider]; ok {
			apiKey = os.Getenv(key)
		}
	}
	baseURL := mc.BaseURL
	if provider == ProviderOllama && baseURL == "" {
		baseURL = OllamaURL()
	}
	return ConnectorOptions{
		Provider:    provider,
		APIKey:      apiKey,
		BaseURL:     baseURL,
		ModelConfig: mc,
	}, nil
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.ModelConfig.ModelID()).
		Float64("temperature", options.ModelConfig.Temperature).
		Msg("Creating new connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderMicrosoft:
		model, err = createAzureModel(options)
	case ProviderFireworks:
		if options.BaseURL == "" {
			options.BaseURL = fireworksBaseURL
		}
		model, err = createOpenAIModel(options)
	case ProviderAnthropic:
		model, err = createAnthropicModel(options)
	case ProviderGoogle:
		model, err = createGoogleModel(ctx, options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return NewConnectorWithModel(options, model), nil
}

// NewConnectorWithModel wraps an existing langchaingo model.
func NewConnectorWithModel(options ConnectorOptions, model llms.Model) *Connector {
	return &Connector{
		provider: options.Provider,
		llm:      model,
		options:  options,
	}
}

func createOpenAIModel(options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.ModelConfig.ModelID()),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createAzureModel(options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		return nil, fmt.Errorf("microsoft models need a baseURL param")
	}
	version := options.ModelConfig.APIVersion
	if version == "" {
		version = defaultAzureAPIVer
	}
	return openai.New(
		openai.WithAPIType(openai.APITypeAzure),
		openai.WithBaseURL(options.BaseURL),
		openai.WithAPIVersion(version),
		openai.WithModel(options.ModelConfig.ModelID()),
		openai.WithToken(options.APIKey),
	)
}

func createGoogleModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if id := options.ModelConfig.ModelID(); id != "" {
		opts = append(opts, googleai.WithDefaultModel(id))
	}
	model, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}
	return model, nil
}

func createAnthropicModel(options ConnectorOptions) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.ModelConfig.ModelID()),
	}
	if options.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(options.BaseURL))
	}
	return anthropic.New(opts...)
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = defaultOllamaURL
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.ModelConfig.ModelID()),
	)
}

// callOptions maps the model params onto langchaingo call options.
func (c *Connector) callOptions() []llms.CallOption {
	mc := c.options.ModelConfig
	var opts []llms.CallOption
	if mc.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(mc.Temperature))
	}
	if mc.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(mc.MaxTokens))
	}
	if mc.TopP > 0 {
		opts = append(opts, llms.WithTopP(mc.TopP))
	}
	if mc.TopK > 0 {
		opts = append(opts, llms.WithTopK(int(mc.TopK)))
	}
	return opts
}

// GetProvider returns the provider of this connector
func (c *Connector) GetProvider() Provider {
	return c.provider
}

// GetModel returns the model name from the config
func (c *Connector) GetModel() string {
	return c.options.ModelConfig.ModelID()
}
