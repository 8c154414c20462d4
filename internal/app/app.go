// Package app wires the scribe services together: the template index, the
// context resolver, the renderer, the model catalog and the orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/leanscribe/internal/accounting"
	"github.com/leanscribe/internal/aiconnectors"
	"github.com/leanscribe/internal/config"
	"github.com/leanscribe/internal/contextvars"
	"github.com/leanscribe/internal/editor"
	"github.com/leanscribe/internal/history"
	"github.com/leanscribe/internal/logging"
	"github.com/leanscribe/internal/orchestrator"
	"github.com/leanscribe/internal/prompts"
	"github.com/leanscribe/internal/sysinfo"
)

// Options overrides the collaborators New would otherwise create.
type Options struct {
	LanguageServers LanguageServers
	Backends        Backends
	Models          ModelFilter
	System          contextvars.SystemProber
}

// App holds the process-wide services. Renders and runs hold the read side
// of mu; Reload takes the write side, so a reload waits for in-flight runs.
type App struct {
	cfg *config.Config
	mu  sync.RWMutex

	store        *prompts.Store
	extractor    *prompts.Extractor
	renderer     *prompts.Renderer
	resolver     *contextvars.Resolver
	ledger       *accounting.Ledger
	history      *history.Log
	interactions *logging.InteractionLog
	orchestrator *orchestrator.Orchestrator

	servers  LanguageServers
	backends Backends
	models   ModelFilter
	system   contextvars.SystemProber
}

// New builds the services for cfg and performs the initial load.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	folder := cfg.Scribe.Folder
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", config.ErrNoScribeFolder, folder)
	}

	if opts.LanguageServers == nil {
		opts.LanguageServers = NewProcessServers(cfg)
	}
	if opts.Backends == nil {
		opts.Backends = RegistryBackends{aiconnectors.NewRegistry()}
	}
	if opts.Models == nil {
		opts.Models = aiconnectors.NewAvailability()
	}
	if opts.System == nil {
		opts.System = sysinfo.NewProber()
	}

	h := history.New(cfg.History.Capacity)
	a := &App{
		cfg:          cfg,
		store:        prompts.NewStore(folder),
		extractor:    prompts.NewExtractor(folder),
		renderer:     prompts.NewRenderer(folder, h),
		resolver:     contextvars.NewResolver(h, opts.System),
		ledger:       accounting.NewLedger(nil),
		history:      h,
		interactions: logging.NewInteractionLog(folder, cfg.Scribe.Logging),
		servers:      opts.LanguageServers,
		backends:     opts.Backends,
		models:       opts.Models,
		system:       opts.System,
	}
	a.orchestrator = orchestrator.New(orchestrator.Services{
		Templates: a.store,
		Renderer:  a.renderer,
		History:   a.history,
		Ledger:    a.ledger,
		Log:       a.interactions,
	})

	if err := a.Reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Reload re-reads .env and models.json, re-checks availability and
// re-indexes the templates. A missing models.json leaves the catalog empty.
func (a *App) Reload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	folder := a.cfg.Scribe.Folder
	var errs []error

	if err := config.LoadEnv(folder); err != nil {
		errs = append(errs, err)
	}

	file, err := config.LoadModels(folder)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		} else {
			log.Warn().Str("folder", folder).Msg("No models.json in scribe folder")
		}
		file = &config.ModelsFile{}
	}
	models, defaults := a.models.Filter(ctx, file)
	a.ledger.Reload(accounting.NewCatalog(models, defaults))
	a.backends.Reset()

	if err := a.store.Reload(); err != nil {
		errs = append(errs, err)
	}

	log.Info().
		Int("templates", a.store.Len()).
		Int("models", len(models)).
		Int("defaults", len(defaults)).
		Msg("Scribe folder loaded")
	return errors.Join(errs...)
}

// Search finds visible templates by description or path.
func (a *App) Search(query string, limit int) []*prompts.Template {
	return a.store.Search(query, limit)
}

// Template loads a template by id or path relative to the scribe folder.
func (a *App) Template(id string) (*prompts.Template, error) {
	return a.store.Get(id)
}

// Models returns the default models, or every available model when full
// is set.
func (a *App) Models(full bool) []config.ModelDescriptor {
	c := a.ledger.Catalog()
	if full {
		return c.Models
	}
	return c.Defaults
}

// History returns the history log, newest first.
func (a *App) History() []history.Item {
	return a.history.Items()
}

// RenderRequest addresses a template and the document it is rendered for.
type RenderRequest struct {
	// TemplateID is an absolute path or a path relative to the scribe
	// folder, or to From when set.
	TemplateID string
	// From is the template a trigger button was rendered in.
	From     string
	Document *editor.Document
	Extra    map[string]any
	// Full estimates against every available model instead of the defaults.
	Full bool
	// FollowUp renders the addressed template's follow-up in its place.
	// Only the follow-up is recorded.
	FollowUp bool
}

// Rendered is a rendered prompt with its estimate.
type Rendered struct {
	Template  *prompts.Template       `json:"template"`
	Prompt    prompts.RenderedPrompt  `json:"prompt"`
	Variables []string                `json:"variables"`
	Report    accounting.PromptReport `json:"report"`
	LogRef    string                  `json:"log_ref,omitempty"`
}

// Render resolves the variables the template references, renders it and
// records the prompt in the history and the interaction log.
func (a *App) Render(ctx context.Context, req RenderRequest) (*Rendered, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	id := req.TemplateID
	if req.From != "" {
		id = a.store.ResolveRelative(req.From, id)
	}
	t, err := a.store.Get(id)
	if err != nil {
		return nil, err
	}
	if req.FollowUp {
		if t.FollowUpID == "" {
			return nil, fmt.Errorf("%w: %s has no follow-up", prompts.ErrTemplateNotFound, t.ShortPath)
		}
		if t, err = a.store.Get(t.FollowUpID); err != nil {
			return nil, err
		}
	}

	names, resolved := a.resolve(ctx, t, req.Document)

	prompt, err := a.renderer.Render(t, resolved, req.Extra)
	if err != nil {
		return nil, err
	}
	a.history.PushPrompt(prompt)

	ref, err := a.interactions.Log(renderLogMessage(t.ShortPath, prompt))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to write interaction log")
	}

	log.Debug().Str("template", t.ShortPath).Strs("variables", names).Msg("Rendered template")
	return &Rendered{
		Template:  t,
		Prompt:    prompt,
		Variables: names,
		Report:    a.ledger.PromptReport(prompt, req.Full),
		LogRef:    ref,
	}, nil
}

// resolve extracts the names t references and resolves them for doc. The
// language server is only started when one of the names needs it.
func (a *App) resolve(ctx context.Context, t *prompts.Template, doc *editor.Document) ([]string, map[string]any) {
	names := a.extractor.ExtractTemplate(t)
	var ls contextvars.LanguageServer
	if doc != nil && contextvars.NeedsLanguageServer(names) {
		var err error
		ls, err = a.servers.Open(ctx, doc)
		if err != nil {
			log.Warn().Err(err).Str("document", doc.Path).Msg("Language server unavailable")
			ls = nil
		}
	}
	return names, a.resolver.Resolve(ctx, names, doc, ls)
}

// FollowUp renders the follow-up template of r for doc.
func (a *App) FollowUp(ctx context.Context, r *Rendered, doc *editor.Document) (*Rendered, error) {
	if r.Prompt.FollowUpID == "" {
		return nil, fmt.Errorf("%w: %s has no follow-up", prompts.ErrTemplateNotFound, r.Template.ShortPath)
	}
	return a.Render(ctx, RenderRequest{TemplateID: r.Prompt.FollowUpID, Document: doc})
}

func renderLogMessage(shortPath string, p prompts.RenderedPrompt) string {
	if p.System != "" {
		return fmt.Sprintf("Rendered %s\nSystem:\n%s\nPrompt:\n%s\n", shortPath, p.System, p.User)
	}
	return fmt.Sprintf("Rendered %s\n%s\n", shortPath, p.User)
}

// Estimate prices p against the default or all models.
func (a *App) Estimate(p accounting.Prompt, full bool) accounting.PromptReport {
	return a.ledger.PromptReport(p, full)
}

// RunRequest sends a rendered prompt to a model.
type RunRequest struct {
	Model    string
	Prompt   prompts.RenderedPrompt
	Template *prompts.Template
	// Document is the context for the template's post-process step.
	Document *editor.Document
}

// Run streams the reply of model to sink. Only configuration errors are
// returned; backend failures become reply text.
func (a *App) Run(ctx context.Context, req RunRequest, sink orchestrator.Sink) (orchestrator.Result, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.ledger.Catalog().Model(req.Model)
	if !ok {
		return orchestrator.Result{}, fmt.Errorf("%w: %s", accounting.ErrUnknownModel, req.Model)
	}
	backend, err := a.backends.Backend(ctx, m)
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("model %s: %w", m.Name, err)
	}

	res := a.orchestrator.Run(ctx, backend, orchestrator.Request{
		Model:    m.Name,
		Prompt:   req.Prompt,
		Template: req.Template,
		Resolve: func(ctx context.Context, t *prompts.Template) map[string]any {
			_, resolved := a.resolve(ctx, t, req.Document)
			return resolved
		},
	}, sink)
	return res, nil
}

// SystemReport returns the environment facts used by system_diagnostics.
func (a *App) SystemReport(ctx context.Context) (sysinfo.Report, error) {
	return a.system.Probe(ctx)
}

// Close stops the language servers.
func (a *App) Close(ctx context.Context) error {
	return a.servers.Close(ctx)
}
