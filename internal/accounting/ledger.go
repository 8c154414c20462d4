package accounting

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"github.com/leanscribe/internal/config"
)

// ErrUnknownModel is returned when a cost is requested for a model that is
// not in the loaded catalog.
var ErrUnknownModel = errors.New("unknown model")

// charsPerToken is a fixed heuristic, not a tokenizer.
const charsPerToken = 3.0

// Prompt is the text the ledger estimates.
type Prompt interface {
	UserText() string
	SystemText() string
}

// ModelReport is the estimate for one model.
type ModelReport struct {
	Model        string  `json:"model"`
	Cost         float64 `json:"cost"`
	ExceedsLimit bool    `json:"exceeds_limit"`
}

// PromptReport is the estimate for a rendered prompt across models.
type PromptReport struct {
	Tokens float64       `json:"tokens"`
	Models []ModelReport `json:"models"`
}

// OutputReport is the actual cost of a completed reply.
type OutputReport struct {
	Model        string  `json:"model"`
	CostTotal    float64 `json:"cost_total"`
	InputTokens  int     `json:"in_tokens"`
	OutputTokens int     `json:"out_tokens"`
}

// Catalog is an immutable snapshot of the available models.
type Catalog struct {
	Models   []config.ModelDescriptor
	Defaults []config.ModelDescriptor
	byName   map[string]config.ModelDescriptor
}

// NewCatalog indexes the available models. Defaults keeps the order of models.
func NewCatalog(models []config.ModelDescriptor, defaultNames []string) *Catalog {
	c := &Catalog{
		Models: models,
		byName: make(map[string]config.ModelDescriptor, len(models)),
	}
	isDefault := make(map[string]bool, len(defaultNames))
	for _, name := range defaultNames {
		isDefault[name] = true
	}
	for _, m := range models {
		c.byName[m.Name] = m
		if isDefault[m.Name] {
			c.Defaults = append(c.Defaults, m)
		}
	}
	return c
}

// Model looks up a model by name.
func (c *Catalog) Model(name string) (config.ModelDescriptor, bool) {
	m, ok := c.byName[name]
	return m, ok
}

// Ledger estimates and computes costs against the current catalog. Reload
// swaps the catalog atomically.
type Ledger struct {
	catalog atomic.Pointer[Catalog]
}

// NewLedger creates a ledger over catalog. A nil catalog is treated as empty.
func NewLedger(catalog *Catalog) *Ledger {
	l := &Ledger{}
	l.Reload(catalog)
	return l
}

// Reload replaces the catalog.
func (l *Ledger) Reload(catalog *Catalog) {
	if catalog == nil {
		catalog = NewCatalog(nil, nil)
	}
	l.catalog.Store(catalog)
}

// Catalog returns the current catalog snapshot.
func (l *Ledger) Catalog() *Catalog {
	return l.catalog.Load()
}

// EstimateTokens approximates the token count of text as characters / 3.
func EstimateTokens(text string) float64 {
	return float64(utf8.RuneCountInString(text)) / charsPerToken
}

// EstimatePromptCost estimates the input cost of p for each model.
func EstimatePromptCost(p Prompt, models []config.ModelDescriptor) PromptReport {
	tokens := EstimateTokens(p.UserText() + p.SystemText())
	report := PromptReport{Tokens: tokens, Models: make([]ModelReport, 0, len(models))}
	for _, m := range models {
		report.Models = append(report.Models, ModelReport{
			Model:        m.Name,
			Cost:         tokens / 1e6 * m.InputCost(),
			ExceedsLimit: tokens > float64(m.Limit),
		})
	}
	return report
}

// PromptReport estimates p against the default models, or all available
// models when full is set.
func (l *Ledger) PromptReport(p Prompt, full bool) PromptReport {
	c := l.Catalog()
	if full {
		return EstimatePromptCost(p, c.Models)
	}
	return EstimatePromptCost(p, c.Defaults)
}

// ComputeActualCost prices a reply from the backend's usage metadata.
func (l *Ledger) ComputeActualCost(usage map[string]any, modelName string) (OutputReport, error) {
	m, ok := l.Catalog().Model(modelName)
	if !ok {
		return OutputReport{Model: modelName}, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}

	u, _ := NormalizeUsage(usage)
	costIn := m.InputCost() * float64(u.InputTokens) / 1e6
	costOut := m.OutputCost() * float64(u.OutputTokens) / 1e6
	return OutputReport{
		Model:        modelName,
		CostTotal:    costIn + costOut,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}, nil
}
