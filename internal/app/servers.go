package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leanscribe/internal/aiconnectors"
	"github.com/leanscribe/internal/config"
	"github.com/leanscribe/internal/contextvars"
	"github.com/leanscribe/internal/editor"
	"github.com/leanscribe/internal/lsp"
	"github.com/leanscribe/internal/orchestrator"
)

// LanguageServers hands out language server sessions for documents.
type LanguageServers interface {
	Open(ctx context.Context, doc *editor.Document) (contextvars.LanguageServer, error)
	Close(ctx context.Context) error
}

// Backends creates inference backends for models.
type Backends interface {
	Backend(ctx context.Context, m config.ModelDescriptor) (orchestrator.Backend, error)
	Reset()
}

// ModelFilter narrows models.json down to the usable models.
type ModelFilter interface {
	Filter(ctx context.Context, file *config.ModelsFile) ([]config.ModelDescriptor, []string)
}

// ProcessServers starts one language server process per project root and
// reuses it for later documents of the same project.
type ProcessServers struct {
	command   string
	args      []string
	wait      time.Duration
	hoverRate float64

	mu      sync.Mutex
	clients map[string]*lsp.Client
}

// NewProcessServers configures process-backed sessions from cfg.
func NewProcessServers(cfg *config.Config) *ProcessServers {
	return &ProcessServers{
		command:   cfg.LSP.Command,
		args:      cfg.LSP.Args,
		wait:      cfg.LSP.DiagnosticsWait,
		hoverRate: cfg.LSP.HoverRate,
		clients:   make(map[string]*lsp.Client),
	}
}

// Open syncs doc with the server of its project, starting it on first use.
func (s *ProcessServers) Open(ctx context.Context, doc *editor.Document) (contextvars.LanguageServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[doc.Root]
	if !ok {
		var err error
		// The server outlives the request that started it.
		client, err = lsp.Start(context.Background(), lsp.Options{
			Command:         s.command,
			Args:            s.args,
			Dir:             doc.Root,
			DiagnosticsWait: s.wait,
		})
		if err != nil {
			return nil, err
		}
		s.clients[doc.Root] = client
	}
	if err := client.Open(ctx, doc); err != nil {
		return nil, err
	}
	return lsp.NewDocument(client, doc, s.hoverRate), nil
}

// Close shuts every started server down.
func (s *ProcessServers) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for root, client := range s.clients {
		if err := client.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		log.Debug().Str("root", root).Msg("Stopped language server")
	}
	s.clients = make(map[string]*lsp.Client)
	return errors.Join(errs...)
}

// RegistryBackends serves backends from an aiconnectors.Registry.
type RegistryBackends struct {
	*aiconnectors.Registry
}

// Backend returns the cached connector for m.
func (r RegistryBackends) Backend(ctx context.Context, m config.ModelDescriptor) (orchestrator.Backend, error) {
	c, err := r.Connector(ctx, m)
	if err != nil {
		return nil, err
	}
	return c, nil
}
