package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leanscribe/internal/accounting"
	"github.com/leanscribe/internal/aiconnectors"
	"github.com/leanscribe/internal/prompts"
)

// State is a step of a single inference run.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingFirstChunk State = "awaiting_first_chunk"
	StateStreaming          State = "streaming"
	StatePostProcessing     State = "post_processing"
	StateCompleted          State = "completed"
)

// Backend streams a reply for a prompt. *aiconnectors.Connector satisfies it.
type Backend interface {
	Stream(ctx context.Context, p aiconnectors.Prompt) (<-chan aiconnectors.Chunk, error)
}

// TemplateSource looks up post-process templates.
type TemplateSource interface {
	Get(id string) (*prompts.Template, error)
}

// TemplateRenderer renders post-process templates.
type TemplateRenderer interface {
	Render(t *prompts.Template, resolved map[string]any, extra map[string]any) (prompts.RenderedPrompt, error)
}

// HistoryWriter records replies.
type HistoryWriter interface {
	PushReply(text, model string)
}

// CostComputer prices a completed reply.
type CostComputer interface {
	ComputeActualCost(usage map[string]any, modelName string) (accounting.OutputReport, error)
}

// InteractionLogger appends a record and returns a reference to it.
type InteractionLogger interface {
	Log(message string) (string, error)
}

// Services are the collaborators a run reads from and records into. Any of
// Templates, Renderer and Log may be nil.
type Services struct {
	Templates TemplateSource
	Renderer  TemplateRenderer
	History   HistoryWriter
	Ledger    CostComputer
	Log       InteractionLogger
}

// Request is one inference call.
type Request struct {
	Model  string
	Prompt prompts.RenderedPrompt
	// Template is the template the prompt was rendered from. Its
	// PostProcessID, if set, is applied to the reply.
	Template *prompts.Template
	// Resolve supplies the context variables of the post-process template.
	// The reply is bound over them as "reply". Nil renders with the reply
	// only.
	Resolve ContextFunc
}

// ContextFunc resolves the variables t references.
type ContextFunc func(ctx context.Context, t *prompts.Template) map[string]any

// StreamingReply accumulates the chunks of one call.
type StreamingReply struct {
	MessageID string
	Text      strings.Builder
	Chunks    []aiconnectors.Chunk
	Done      bool
}

// Result is the outcome of a run. Errors holds recoverable problems, such
// as a missing post-process template or an unknown model; the run still
// completes.
type Result struct {
	MessageID string
	Text      string
	Report    accounting.OutputReport
	LogRef    string
	States    []State
	Errors    []error
}

// State returns the last state reached.
func (r *Result) State() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

// Orchestrator drives inference runs. It is safe for concurrent use as long
// as its services are.
type Orchestrator struct {
	services Services
}

// New creates an orchestrator over services.
func New(services Services) *Orchestrator {
	return &Orchestrator{services: services}
}

type run struct {
	o      *Orchestrator
	req    Request
	sink   Sink
	reply  StreamingReply
	usage  map[string]any
	result Result
}

// Run sends req to backend and reports progress to sink. Backend failures
// become reply text; the run always completes. Once streaming it cannot be
// cancelled other than through ctx reaching the backend.
func (o *Orchestrator) Run(ctx context.Context, backend Backend, req Request, sink Sink) Result {
	if sink == nil {
		sink = Discard
	}
	r := &run{o: o, req: req, sink: sink}
	r.reply.MessageID = uuid.NewString()
	r.result.MessageID = r.reply.MessageID
	r.enter(StateIdle)

	r.enter(StateAwaitingFirstChunk)
	chunks, err := backend.Stream(ctx, req.Prompt)
	if err != nil {
		log.Warn().Err(err).Str("model", req.Model).Msg("Backend call failed before the first chunk")
		r.result.Text = err.Error()
		r.emit(ctx, &Event{Type: EventAdd, Text: r.result.Text})
		r.complete(ctx)
		return r.result
	}

	r.stream(ctx, chunks)
	cleaned := CleanUpReply(r.reply.Text.String())
	if r.singleChunk() && !r.hasPostProcess() {
		r.result.Text = cleaned
	} else {
		r.enter(StatePostProcessing)
		r.result.Text = r.postProcess(ctx, cleaned)
	}
	r.complete(ctx)
	return r.result
}

func (r *run) stream(ctx context.Context, chunks <-chan aiconnectors.Chunk) {
	r.enter(StateStreaming)
	for chunk := range chunks {
		r.reply.Chunks = append(r.reply.Chunks, chunk)
		r.reply.Text.WriteString(chunk.Content)
		if chunk.Err != nil {
			fmt.Fprintf(&r.reply.Text, "\n\n**Error:** %s", chunk.Err)
		}
		if chunk.Done {
			r.usage = chunk.Usage
		}

		typ := EventUpdate
		if len(r.reply.Chunks) == 1 {
			typ = EventAdd
		}
		r.emit(ctx, &Event{Type: typ, Text: r.reply.Text.String()})
	}
	r.reply.Done = true
}

// singleChunk reports whether the whole reply arrived in one terminal chunk.
func (r *run) singleChunk() bool {
	return len(r.reply.Chunks) == 1 && r.reply.Chunks[0].Done
}

func (r *run) hasPostProcess() bool {
	s := r.o.services
	return r.req.Template != nil && r.req.Template.PostProcessID != "" &&
		s.Templates != nil && s.Renderer != nil
}

func (r *run) postProcess(ctx context.Context, cleaned string) string {
	if !r.hasPostProcess() {
		return cleaned
	}
	t := r.req.Template
	s := r.o.services

	post, err := s.Templates.Get(t.PostProcessID)
	if err != nil {
		r.fail(fmt.Errorf("post-process template of %s: %w", t.ShortPath, err))
		return cleaned
	}
	var resolved map[string]any
	if r.req.Resolve != nil {
		resolved = r.req.Resolve(ctx, post)
	}
	rendered, err := s.Renderer.Render(post, resolved, map[string]any{"reply": cleaned})
	if err != nil {
		r.fail(err)
		return cleaned
	}
	return rendered.User
}

func (r *run) complete(ctx context.Context) {
	s := r.o.services
	text := r.result.Text

	if s.History != nil {
		s.History.PushReply(text, r.req.Model)
	}
	if s.Ledger != nil {
		report, err := s.Ledger.ComputeActualCost(r.usage, r.req.Model)
		if err != nil {
			r.fail(err)
		}
		r.result.Report = report
	}
	if s.Log != nil {
		ref, err := s.Log.Log(fmt.Sprintf("Prompted %s:\n%s\n", r.req.Model, text))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to write interaction log")
		}
		r.result.LogRef = ref
	}

	r.enter(StateCompleted)
	report := r.result.Report
	r.emit(ctx, &Event{
		Type:   EventReplace,
		Text:   text,
		Report: &report,
		LogRef: r.result.LogRef,
		Error:  errorText(r.result.Errors),
	})
}

func (r *run) fail(err error) {
	log.Warn().Err(err).Str("message_id", r.reply.MessageID).Msg("Recoverable error during run")
	r.result.Errors = append(r.result.Errors, err)
}

func (r *run) enter(s State) {
	r.result.States = append(r.result.States, s)
	log.Debug().Str("message_id", r.reply.MessageID).Str("state", string(s)).Msg("Run state changed")
}

func (r *run) emit(ctx context.Context, e *Event) {
	e.MessageID = r.reply.MessageID
	e.Model = r.req.Model
	if err := r.sink.EmitEvent(ctx, e); err != nil {
		log.Debug().Err(err).Str("type", string(e.Type)).Msg("Event sink rejected event")
	}
}

func errorText(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	return errors.Join(errs...).Error()
}
