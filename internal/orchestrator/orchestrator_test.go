package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leanscribe/internal/accounting"
	"github.com/leanscribe/internal/aiconnectors"
	"github.com/leanscribe/internal/config"
	"github.com/leanscribe/internal/history"
	"github.com/leanscribe/internal/prompts"
)

type fakeBackend struct {
	chunks []aiconnectors.Chunk
	err    error
}

func (b fakeBackend) Stream(ctx context.Context, p aiconnectors.Prompt) (<-chan aiconnectors.Chunk, error) {
	if b.err != nil {
		return nil, b.err
	}
	ch := make(chan aiconnectors.Chunk, len(b.chunks))
	for _, c := range b.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type recorder struct {
	events []Event
}

func (r *recorder) EmitEvent(ctx context.Context, e *Event) error {
	r.events = append(r.events, *e)
	return nil
}

type fakeTemplates map[string]*prompts.Template

func (f fakeTemplates) Get(id string) (*prompts.Template, error) {
	t, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", prompts.ErrTemplateNotFound, id)
	}
	return t, nil
}

type fakeRenderer struct{}

// Render fills %s with the reply, and a second %v with resolved["file_name"]
// when the template has one.
func (fakeRenderer) Render(t *prompts.Template, resolved, extra map[string]any) (prompts.RenderedPrompt, error) {
	if strings.Count(t.Source, "%") == 2 {
		return prompts.RenderedPrompt{User: fmt.Sprintf(t.Source, resolved["file_name"], extra["reply"])}, nil
	}
	return prompts.RenderedPrompt{User: fmt.Sprintf(t.Source, extra["reply"])}, nil
}

type fakeLog struct {
	messages []string
}

func (l *fakeLog) Log(message string) (string, error) {
	l.messages = append(l.messages, message)
	return fmt.Sprintf("file:///logs/today.md#%d", len(l.messages)), nil
}

func newServices(t *testing.T) (Services, *history.Log, *fakeLog) {
	t.Helper()
	h := history.New(10)
	l := &fakeLog{}
	ledger := accounting.NewLedger(accounting.NewCatalog([]config.ModelDescriptor{
		{Type: "ollama", Name: "local", Cost: []float64{0, 0}, Limit: 10000},
		{Type: "openai", Name: "gpt", Cost: []float64{1, 2}, Limit: 128000},
	}, nil))
	return Services{
		Templates: fakeTemplates{
			"/scribe/post.md":      {ID: "/scribe/post.md", ShortPath: "post.md", Source: "Summary of: %s"},
			"/scribe/post_file.md": {ID: "/scribe/post_file.md", ShortPath: "post_file.md", Source: "File %v: %s"},
		},
		Renderer:  fakeRenderer{},
		History:   h,
		Ledger:    ledger,
		Log:       l,
	}, h, l
}

func TestRun_ErrorBeforeFirstChunk(t *testing.T) {
	services, h, l := newServices(t)
	rec := &recorder{}
	backend := fakeBackend{err: errors.New("Ollama is not running")}

	res := New(services).Run(context.Background(), backend, Request{Model: "local", Prompt: prompts.RenderedPrompt{User: "hi"}}, rec)

	assert.Equal(t, StateCompleted, res.State())
	assert.Equal(t, []State{StateIdle, StateAwaitingFirstChunk, StateCompleted}, res.States)
	assert.Equal(t, "Ollama is not running", res.Text)
	assert.Empty(t, res.Errors)
	assert.Equal(t, accounting.OutputReport{Model: "local"}, res.Report)

	item, ok := h.Get(0)
	require.True(t, ok)
	assert.Equal(t, history.Item{Text: "Ollama is not running", Model: "local"}, item)
	assert.Equal(t, []string{"Prompted local:\nOllama is not running\n"}, l.messages)

	require.Len(t, rec.events, 2)
	assert.Equal(t, EventAdd, rec.events[0].Type)
	assert.Equal(t, EventReplace, rec.events[1].Type)
	assert.Equal(t, "Ollama is not running", rec.events[1].Text)
}

func TestRun_StreamsCumulativeUpdates(t *testing.T) {
	services, _, _ := newServices(t)
	rec := &recorder{}
	backend := fakeBackend{chunks: []aiconnectors.Chunk{
		{Content: "```lean4\n"},
		{Content: "theorem t"},
		{Content: " : True\n```"},
		{Done: true, Usage: map[string]any{"PromptTokens": 1000, "CompletionTokens": 500}},
	}}

	res := New(services).Run(context.Background(), backend, Request{Model: "gpt"}, rec)

	type view struct {
		Type EventType
		Text string
	}
	var got []view
	for _, e := range rec.events {
		assert.Equal(t, res.MessageID, e.MessageID)
		got = append(got, view{e.Type, e.Text})
	}
	want := []view{
		{EventAdd, "```lean4\n"},
		{EventUpdate, "```lean4\ntheorem t"},
		{EventUpdate, "```lean4\ntheorem t : True\n```"},
		{EventUpdate, "```lean4\ntheorem t : True\n```"},
		{EventReplace, "```lean\ntheorem t : True\n```"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []State{StateIdle, StateAwaitingFirstChunk, StateStreaming, StatePostProcessing, StateCompleted}, res.States)
	assert.Equal(t, 1000, res.Report.InputTokens)
	assert.InDelta(t, 0.002, res.Report.CostTotal, 1e-12)
	require.NotNil(t, rec.events[4].Report)
	assert.Equal(t, "file:///logs/today.md#1", rec.events[4].LogRef)
}

func TestRun_SingleTerminalChunk(t *testing.T) {
	services, _, _ := newServices(t)
	backend := fakeBackend{chunks: []aiconnectors.Chunk{{Content: "```markdown\n# Title\n```", Done: true}}}

	res := New(services).Run(context.Background(), backend, Request{Model: "gpt"}, nil)

	assert.Equal(t, []State{StateIdle, StateAwaitingFirstChunk, StateStreaming, StateCompleted}, res.States)
	assert.Equal(t, "# Title", res.Text)
}

func TestRun_MidStreamErrorKeepsPartialText(t *testing.T) {
	services, _, _ := newServices(t)
	backend := fakeBackend{chunks: []aiconnectors.Chunk{
		{Content: "partial"},
		{Done: true, Err: errors.New("connection reset")},
	}}

	res := New(services).Run(context.Background(), backend, Request{Model: "gpt"}, nil)

	assert.Equal(t, "partial\n\n**Error:** connection reset", res.Text)
	assert.Equal(t, StateCompleted, res.State())
}

func TestRun_PostProcess(t *testing.T) {
	services, h, _ := newServices(t)
	backend := fakeBackend{chunks: []aiconnectors.Chunk{{Content: "the answer"}, {Done: true}}}
	tmpl := &prompts.Template{ShortPath: "explain.md", PostProcessID: "/scribe/post.md"}

	res := New(services).Run(context.Background(), backend, Request{Model: "gpt", Template: tmpl}, nil)

	assert.Equal(t, "Summary of: the answer", res.Text)
	assert.Empty(t, res.Errors)
	item, _ := h.Get(0)
	assert.Equal(t, "Summary of: the answer", item.Text)
}

func TestRun_PostProcessUsesResolvedContext(t *testing.T) {
	services, _, _ := newServices(t)
	backend := fakeBackend{chunks: []aiconnectors.Chunk{{Content: "hi", Done: true}}}
	tmpl := &prompts.Template{ShortPath: "explain.md", PostProcessID: "/scribe/post_file.md"}

	var resolvedFor string
	resolve := func(ctx context.Context, t *prompts.Template) map[string]any {
		resolvedFor = t.ShortPath
		return map[string]any{"file_name": "Main.lean", "reply": "stale reply"}
	}

	res := New(services).Run(context.Background(), backend, Request{Model: "gpt", Template: tmpl, Resolve: resolve}, nil)

	assert.Equal(t, "post_file.md", resolvedFor)
	assert.Equal(t, "File Main.lean: hi", res.Text)
}

func TestRun_MissingPostProcessFallsBack(t *testing.T) {
	services, _, _ := newServices(t)
	rec := &recorder{}
	backend := fakeBackend{chunks: []aiconnectors.Chunk{{Content: "the answer", Done: true}}}
	tmpl := &prompts.Template{ShortPath: "explain.md", PostProcessID: "/scribe/gone.md"}

	res := New(services).Run(context.Background(), backend, Request{Model: "gpt", Template: tmpl}, rec)

	assert.Equal(t, "the answer", res.Text)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], prompts.ErrTemplateNotFound)
	assert.Contains(t, rec.events[len(rec.events)-1].Error, "explain.md")
	assert.Contains(t, res.States, StatePostProcessing)
}

func TestRun_UnknownModelIsRecoverable(t *testing.T) {
	services, h, _ := newServices(t)
	backend := fakeBackend{chunks: []aiconnectors.Chunk{{Content: "ok", Done: true}}}

	res := New(services).Run(context.Background(), backend, Request{Model: "mystery"}, nil)

	assert.Equal(t, StateCompleted, res.State())
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], accounting.ErrUnknownModel)
	assert.Equal(t, 1, h.Len())
}

func TestCleanUpReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "whole markdown block",
			reply: "```markdown\n# Proof\n\nUse `simp`.\n```",
			want:  "# Proof\n\nUse `simp`.",
		},
		{
			name:  "markdown block with nested fence",
			reply: "```markdown\nTry:\n```lean\nsimp\n```\n```",
			want:  "Try:\n```lean\nsimp\n```",
		},
		{
			name:  "markdown block with unlabelled inner fence",
			reply: "```markdown\nRun:\n```\nlake build\n```\nDone.\n```",
			want:  "Run:\n```\nlake build\n```\nDone.",
		},
		{
			name:  "markdown block followed by text",
			reply: "```markdown\nA\n```\nthen\n```python\nx\n```",
			want:  "```markdown\nA\n```\nthen\n```python\nx\n```",
		},
		{
			name:  "lean4 tag elsewhere",
			reply: "Here:\n```lean4\nexample : 1 = 1 := rfl\n```",
			want:  "Here:\n```lean\nexample : 1 = 1 := rfl\n```",
		},
		{
			name:  "unrelated fences untouched",
			reply: "```python\nprint(1)\n```\n```lean4x\n```",
			want:  "```python\nprint(1)\n```\n```lean4x\n```",
		},
		{
			name:  "plain text",
			reply: "no fences",
			want:  "no fences",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanUpReply(tt.reply))
		})
	}
}
