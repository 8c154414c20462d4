package accounting

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanscribe/internal/config"
)

type prompt struct{ user, system string }

func (p prompt) UserText() string   { return p.user }
func (p prompt) SystemText() string { return p.system }

func testCatalog() *Catalog {
	return NewCatalog([]config.ModelDescriptor{
		{Type: "openai", Name: "cheap", Cost: []float64{1.0, 2.0}, Limit: 1_000_000},
		{Type: "anthropic", Name: "small", Cost: []float64{3.0, 15.0}, Limit: 10},
		{Type: "ollama", Name: "local", Cost: []float64{0, 0}, Limit: 10000},
	}, []string{"local", "cheap", "missing"})
}

func TestEstimatePromptCost_MillionTokens(t *testing.T) {
	p := prompt{user: strings.Repeat("a", 3_000_000)}
	report := EstimatePromptCost(p, testCatalog().Models[:1])

	assert.Equal(t, 1_000_000.0, report.Tokens)
	require.Len(t, report.Models, 1)
	assert.InDelta(t, 1.0, report.Models[0].Cost, 1e-12)
	// Equal to the limit is not over it.
	assert.False(t, report.Models[0].ExceedsLimit)
}

func TestEstimatePromptCost_ExceedsLimit(t *testing.T) {
	models := []config.ModelDescriptor{{Name: "m", Cost: []float64{1}, Limit: 10}}

	tests := []struct {
		name  string
		chars int
		want  bool
	}{
		{"below", 27, false},
		{"equal", 30, false},
		{"above", 33, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := EstimatePromptCost(prompt{user: strings.Repeat("x", tt.chars)}, models)
			assert.Equal(t, tt.want, r.Models[0].ExceedsLimit)
		})
	}
}

func TestEstimatePromptCost_IncludesSystem(t *testing.T) {
	r := EstimatePromptCost(prompt{user: "abc", system: "def"}, nil)
	assert.Equal(t, 2.0, r.Tokens)
	assert.Empty(t, r.Models)
}

func TestLedger_PromptReportDefaultsAndFull(t *testing.T) {
	l := NewLedger(testCatalog())
	p := prompt{user: "theorem"}

	names := func(r PromptReport) []string {
		out := []string{}
		for _, m := range r.Models {
			out = append(out, m.Model)
		}
		return out
	}
	assert.Equal(t, []string{"cheap", "local"}, names(l.PromptReport(p, false)))
	assert.Equal(t, []string{"cheap", "small", "local"}, names(l.PromptReport(p, true)))
}

func TestLedger_ComputeActualCost(t *testing.T) {
	l := NewLedger(testCatalog())

	tests := []struct {
		name  string
		model string
		usage map[string]any
		want  OutputReport
	}{
		{
			name:  "openai shape",
			model: "cheap",
			usage: map[string]any{"PromptTokens": 1_000_000, "CompletionTokens": 500_000, "TotalTokens": 1_500_000},
			want:  OutputReport{Model: "cheap", CostTotal: 2.0, InputTokens: 1_000_000, OutputTokens: 500_000},
		},
		{
			name:  "anthropic shape",
			model: "small",
			usage: map[string]any{"InputTokens": int64(2_000_000), "OutputTokens": int64(0)},
			want:  OutputReport{Model: "small", CostTotal: 6.0, InputTokens: 2_000_000},
		},
		{
			name:  "google shape",
			model: "cheap",
			usage: map[string]any{"input_tokens": int32(10), "output_tokens": int32(20)},
			want:  OutputReport{Model: "cheap", CostTotal: 0.00005, InputTokens: 10, OutputTokens: 20},
		},
		{
			name:  "default nested shape",
			model: "cheap",
			usage: map[string]any{"tokenUsage": map[string]any{"input_tokens": json.Number("4"), "output_tokens": 2.0}},
			want:  OutputReport{Model: "cheap", CostTotal: 0.000008, InputTokens: 4, OutputTokens: 2},
		},
		{
			name:  "no usage",
			model: "local",
			usage: nil,
			want:  OutputReport{Model: "local"},
		},
		{
			name:  "unrecognised shape",
			model: "cheap",
			usage: map[string]any{"tokens": 12},
			want:  OutputReport{Model: "cheap"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.ComputeActualCost(tt.usage, tt.model)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cmp.Comparer(func(a, b float64) bool {
				d := a - b
				return d < 1e-12 && d > -1e-12
			})); diff != "" {
				t.Errorf("ComputeActualCost mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLedger_UnknownModel(t *testing.T) {
	l := NewLedger(testCatalog())
	_, err := l.ComputeActualCost(map[string]any{"PromptTokens": 1}, "nope")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestLedger_ReloadSwapsCatalog(t *testing.T) {
	l := NewLedger(nil)
	_, err := l.ComputeActualCost(nil, "cheap")
	require.ErrorIs(t, err, ErrUnknownModel)

	l.Reload(testCatalog())
	_, err = l.ComputeActualCost(nil, "cheap")
	assert.NoError(t, err)
}

func TestNormalizeUsage_FirstMatchWins(t *testing.T) {
	u, shape := NormalizeUsage(map[string]any{
		"PromptTokens": 1, "CompletionTokens": 2,
		"InputTokens": 10, "OutputTokens": 20,
	})
	assert.Equal(t, "openai", shape)
	assert.Equal(t, Usage{InputTokens: 1, OutputTokens: 2}, u)

	u, shape = NormalizeUsage(map[string]any{"InputTokens": 7})
	assert.Equal(t, "anthropic", shape)
	assert.Equal(t, Usage{InputTokens: 7}, u)
}
