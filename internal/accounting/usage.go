package accounting

import (
	"encoding/json"
	"strconv"
)

// Usage is the normalized token count reported by a backend.
type Usage struct {
	InputTokens  int `json:"in_tokens"`
	OutputTokens int `json:"out_tokens"`
}

// usageShape extracts a Usage from one provider's metadata layout.
type usageShape struct {
	name   string
	path   []string
	input  string
	output string
}

// usageShapes are tried in order; the first whose input key is present wins.
var usageShapes = []usageShape{
	// openai and ollama generation info
	{name: "openai", input: "PromptTokens", output: "CompletionTokens"},
	// anthropic generation info
	{name: "anthropic", input: "InputTokens", output: "OutputTokens"},
	// googleai generation info
	{name: "google", input: "input_tokens", output: "output_tokens"},
	// raw payloads nesting counts under tokenUsage
	{name: "default", path: []string{"tokenUsage"}, input: "input_tokens", output: "output_tokens"},
}

func (s usageShape) match(metadata map[string]any) (Usage, bool) {
	m := metadata
	for _, key := range s.path {
		next, ok := m[key].(map[string]any)
		if !ok {
			return Usage{}, false
		}
		m = next
	}

	in, ok := toInt(m[s.input])
	if !ok {
		return Usage{}, false
	}
	out, _ := toInt(m[s.output])
	return Usage{InputTokens: in, OutputTokens: out}, true
}

// NormalizeUsage extracts token counts from backend usage metadata. It
// returns the matching shape's name, or "" with a zero Usage when none match.
func NormalizeUsage(metadata map[string]any) (Usage, string) {
	if len(metadata) == 0 {
		return Usage{}, ""
	}
	for _, shape := range usageShapes {
		if u, ok := shape.match(metadata); ok {
			return u, shape.name
		}
	}
	return Usage{}, ""
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
