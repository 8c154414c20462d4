package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/leanscribe/internal/editor"
)

// fakeServer answers requests from a handler keyed by method.
type fakeServer struct {
	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) (any, error)
	calls    map[string]int
	diags    []protocol.Diagnostic
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		handlers: map[string]func(json.RawMessage) (any, error){},
		calls:    map[string]int{},
	}
}

func (f *fakeServer) on(method string, h func(params json.RawMessage) (any, error)) {
	f.handlers[method] = h
}

func (f *fakeServer) Request(ctx context.Context, method string, params, result any) error {
	f.mu.Lock()
	f.calls[method]++
	h, ok := f.handlers[method]
	f.mu.Unlock()
	if !ok {
		return json.Unmarshal([]byte("null"), result)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	res, err := h(raw)
	if err != nil {
		return err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(out, result)
}

func (f *fakeServer) Diagnostics(ctx context.Context, uri string) ([]protocol.Diagnostic, error) {
	return f.diags, nil
}

func positionOf(t *testing.T, params json.RawMessage) editor.Position {
	t.Helper()
	var p struct {
		Position editor.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(params, &p))
	return p.Position
}

func testDoc(text string) *editor.Document {
	return &editor.Document{Path: "/work/Proj/Main.lean", Root: "/work", Text: text, LanguageID: editor.LanguageLean}
}

func TestDocument_GoalAndTermGoal(t *testing.T) {
	srv := newFakeServer()
	srv.on(MethodPlainGoal, func(params json.RawMessage) (any, error) {
		pos := positionOf(t, params)
		if pos.Line == 1 {
			return map[string]any{"rendered": "⊢ True", "goals": []string{"⊢ True"}}, nil
		}
		return nil, nil
	})
	srv.on(MethodPlainTermGoal, func(json.RawMessage) (any, error) {
		return map[string]any{"goal": "Nat"}, nil
	})
	d := NewDocument(srv, testDoc("example : True := by\n  trivial"), 0)
	ctx := context.Background()

	goal, ok, err := d.Goal(ctx, editor.Position{Line: 1, Character: 2})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "⊢ True", goal)

	_, ok, err = d.Goal(ctx, editor.Position{Line: 0, Character: 0})
	require.NoError(t, err)
	assert.False(t, ok)

	term, ok, err := d.TermGoal(ctx, editor.Position{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "```lean\nNat\n```", term)
}

func TestDocument_Hover(t *testing.T) {
	srv := newFakeServer()
	srv.on(MethodHover, func(json.RawMessage) (any, error) {
		return map[string]any{
			"contents": map[string]any{"kind": "markdown", "value": "```lean\nNat.succ : ℕ → ℕ\n```"},
			"range":    map[string]any{"start": map[string]int{"line": 0, "character": 4}, "end": map[string]int{"line": 0, "character": 12}},
		}, nil
	})
	d := NewDocument(srv, testDoc("def Nat.succ"), 0)

	text, ok, err := d.Hover(context.Background(), editor.Position{Line: 0, Character: 5})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "```lean\nNat.succ : ℕ → ℕ\n```\n[l0:c4 - l0:c12]", text)
}

func TestHoverValueShapes(t *testing.T) {
	assert.Equal(t, "plain", hoverValue(json.RawMessage(`"plain"`)))
	assert.Equal(t, "v", hoverValue(json.RawMessage(`{"language":"lean","value":"v"}`)))
	assert.Equal(t, "a\nb", hoverValue(json.RawMessage(`["a", {"value":"b"}]`)))
}

func TestDocument_HoverAllSkipsCommentsAndJumpsTokens(t *testing.T) {
	text := "/- header -/\ndef foo := bar"
	srv := newFakeServer()
	srv.on(MethodFoldingRange, func(json.RawMessage) (any, error) {
		return []map[string]any{{"startLine": 0, "endLine": 0, "kind": "comment"}}, nil
	})
	var hovered []editor.Position
	srv.on(MethodHover, func(params json.RawMessage) (any, error) {
		pos := positionOf(t, params)
		hovered = append(hovered, pos)
		require.Equal(t, 1, pos.Line, "comment line must be skipped")

		word := func(start, end int, value string) map[string]any {
			return map[string]any{
				"contents": map[string]any{"value": value},
				"range":    map[string]any{"start": map[string]int{"line": 1, "character": start}, "end": map[string]int{"line": 1, "character": end}},
			}
		}
		switch {
		case pos.Character >= 4 && pos.Character < 7:
			return word(4, 7, "```lean\nfoo : Nat\n```"), nil
		case pos.Character >= 11:
			return word(11, 14, "bar : Nat"), nil
		}
		return nil, nil
	})
	d := NewDocument(srv, testDoc(text), 0)

	md, err := d.HoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "```lean\nfoo\n/--\nfoo : Nat\n-/\nbar\n/--\nbar : Nat\n-/\n\n```", md)

	// d,e,f then foo (jump to 7), ':' then '=' then bar (jump to end).
	assert.Equal(t, []editor.Position{
		{Line: 1, Character: 0}, {Line: 1, Character: 1}, {Line: 1, Character: 2},
		{Line: 1, Character: 4},
		{Line: 1, Character: 8}, {Line: 1, Character: 9},
		{Line: 1, Character: 11},
	}, hovered)
}

func TestDocument_Symbols(t *testing.T) {
	srv := newFakeServer()
	srv.on(MethodDocumentSymbol, func(json.RawMessage) (any, error) {
		return []map[string]any{
			{"name": "<section>", "children": []map[string]any{
				{"name": "Foo", "children": []map[string]any{{"name": "bar"}, {"name": "baz"}}},
			}},
			{"name": "Foo", "children": []map[string]any{{"name": "bar"}}},
			{"name": "top"},
		}, nil
	})
	d := NewDocument(srv, testDoc(""), 0)

	names, err := d.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo", "Foo.bar", "Foo.baz", "top"}, names)
}

func TestDocument_Imports(t *testing.T) {
	text := "import Mathlib.Data.Nat\nimport Proj.Util\n\nimport Missing\n"
	srv := newFakeServer()
	srv.on(MethodDefinition, func(params json.RawMessage) (any, error) {
		pos := positionOf(t, params)
		require.Equal(t, 7, pos.Character, "lookup starts at the module name")
		switch pos.Line {
		case 0:
			return []map[string]any{{"targetUri": "file:///lib/Mathlib/Data/Nat.lean"}}, nil
		case 1:
			return []map[string]any{{"uri": "file:///work/Proj/Util.lean"}}, nil
		}
		return nil, errors.New("unknown module")
	})
	d := NewDocument(srv, testDoc(text), 0)
	d.readFile = func(path string) ([]byte, error) {
		if strings.HasSuffix(path, "Util.lean") {
			return []byte("def util := 1 -- ```"), nil
		}
		return nil, errors.New("permission denied")
	}
	ctx := context.Background()

	paths, err := d.ImportPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib/Mathlib/Data/Nat.lean", "Proj/Util.lean"}, paths)

	md, err := d.ImportFilesMarkdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Proj/Util.lean\n```lean\ndef util := 1 -- \\`\\`\\`\n```\n", md)
}

func TestDocument_SorryGoals(t *testing.T) {
	text := "theorem a : True := by\n  sorry\n\ntheorem b : False := by admit"
	srv := newFakeServer()
	srv.on(MethodPlainGoal, func(params json.RawMessage) (any, error) {
		if positionOf(t, params).Line == 1 {
			return map[string]any{"rendered": "⊢ True"}, nil
		}
		return nil, nil
	})
	d := NewDocument(srv, testDoc(text), 0)

	md, err := d.SorryGoals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sorry at l1:c2:\n⊢ True\n\nSorry at l3:c24:\n"+NoGoal, md)
}

func TestFormatRange(t *testing.T) {
	r := protocol.Range{
		Start: protocol.Position{Line: 1, Character: 2},
		End:   protocol.Position{Line: 3, Character: 4},
	}
	assert.Equal(t, "[l1:c2 - l3:c4]", FormatRange(r))
}
