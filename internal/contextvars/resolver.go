package contextvars

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/sync/errgroup"

	"github.com/leanscribe/internal/editor"
	"github.com/leanscribe/internal/markdown"
	"github.com/leanscribe/internal/sysinfo"
)

// errNoLanguageServer is logged when a language-server name is requested
// without a server.
var errNoLanguageServer = errors.New("no language server attached")

// maxConcurrent bounds in-flight provider calls per Resolve.
const maxConcurrent = 8

// LanguageServer is the query surface of an open document. *lsp.Document
// implements it.
type LanguageServer interface {
	Diagnostics(ctx context.Context) ([]protocol.Diagnostic, error)
	Goal(ctx context.Context, pos editor.Position) (string, bool, error)
	TermGoal(ctx context.Context, pos editor.Position) (string, bool, error)
	Hover(ctx context.Context, pos editor.Position) (string, bool, error)
	HoverAll(ctx context.Context) (string, error)
	Symbols(ctx context.Context) ([]string, error)
	ImportPaths(ctx context.Context) ([]string, error)
	ImportFilesMarkdown(ctx context.Context) (string, error)
	SorryGoals(ctx context.Context) (string, error)
}

// HistoryReader exposes the replies at the head of the history.
type HistoryReader interface {
	LatestReply() string
	Replies() []string
}

// SystemProber reports the environment.
type SystemProber interface {
	Probe(ctx context.Context) (sysinfo.Report, error)
}

// Context is the set of resolved values for one render.
type Context map[string]any

// request carries the per-call state shared by handlers.
type request struct {
	doc         *editor.Document
	ls          LanguageServer
	diagnostics func() (DiagnosticBuckets, error)
}

type handler func(ctx context.Context, r *Resolver, req *request) (any, error)

var handlers = map[Name]handler{
	File: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return markdown.EscapeCodeBlocks(req.doc.Text), nil
	},
	FileMarkdown: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return markdown.LeanBlock(markdown.EscapeCodeBlocks(req.doc.Text)), nil
	},
	FileBeforeCursor: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return markdown.EscapeCodeBlocks(req.doc.TextBeforeCursor()), nil
	},
	FileAfterCursor: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return markdown.EscapeCodeBlocks(req.doc.TextAfterCursor()), nil
	},
	FilePath: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return req.doc.Path, nil
	},
	FileName: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return req.doc.FileName(), nil
	},
	Selection: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return markdown.EscapeCodeBlocks(req.doc.SelectedText()), nil
	},
	Cursor: func(_ context.Context, _ *Resolver, req *request) (any, error) {
		return fmt.Sprintf("l%d:c%d", req.doc.Cursor.Line, req.doc.Cursor.Character), nil
	},

	Diagnostics: diagnosticsHandler(DiagnosticBuckets.Summary),
	Errors:      diagnosticsHandler(func(b DiagnosticBuckets) string { return b.Errors }),
	Warnings:    diagnosticsHandler(func(b DiagnosticBuckets) string { return b.Warnings }),
	Infos:       diagnosticsHandler(func(b DiagnosticBuckets) string { return b.Infos }),

	Goal: withServer(func(ctx context.Context, req *request) (any, error) {
		return optional(req.ls.Goal(ctx, req.doc.Cursor))
	}),
	TermGoal: withServer(func(ctx context.Context, req *request) (any, error) {
		return optional(req.ls.TermGoal(ctx, req.doc.Cursor))
	}),
	Hover: withServer(func(ctx context.Context, req *request) (any, error) {
		text, _, err := req.ls.Hover(ctx, req.doc.Cursor)
		return text, err
	}),
	HoverAll: withServer(func(ctx context.Context, req *request) (any, error) {
		return req.ls.HoverAll(ctx)
	}),
	Symbols: withServer(func(ctx context.Context, req *request) (any, error) {
		return req.ls.Symbols(ctx)
	}),
	ImportPaths: withServer(func(ctx context.Context, req *request) (any, error) {
		paths, err := req.ls.ImportPaths(ctx)
		return strings.Join(paths, "\n"), err
	}),
	ImportFilesMD: withServer(func(ctx context.Context, req *request) (any, error) {
		return req.ls.ImportFilesMarkdown(ctx)
	}),
	SorryGoals: withServer(func(ctx context.Context, req *request) (any, error) {
		return req.ls.SorryGoals(ctx)
	}),

	Reply: func(_ context.Context, r *Resolver, _ *request) (any, error) {
		if r.history == nil {
			return nil, nil
		}
		return r.history.LatestReply(), nil
	},
	Replies: func(_ context.Context, r *Resolver, _ *request) (any, error) {
		if r.history == nil {
			return nil, nil
		}
		return r.history.Replies(), nil
	},
	SystemDiagnostics: func(ctx context.Context, r *Resolver, _ *request) (any, error) {
		if r.system == nil {
			return nil, errors.New("no system prober configured")
		}
		report, err := r.system.Probe(ctx)
		if err != nil {
			return nil, err
		}
		return report.Markdown(), nil
	},
}

func withServer(fn func(ctx context.Context, req *request) (any, error)) handler {
	return func(ctx context.Context, _ *Resolver, req *request) (any, error) {
		if req.ls == nil {
			return nil, errNoLanguageServer
		}
		return fn(ctx, req)
	}
}

func diagnosticsHandler(pick func(DiagnosticBuckets) string) handler {
	return func(_ context.Context, _ *Resolver, req *request) (any, error) {
		if req.ls == nil {
			return nil, errNoLanguageServer
		}
		buckets, err := req.diagnostics()
		if err != nil {
			return nil, err
		}
		return pick(buckets), nil
	}
}

// optional turns a "no data" answer into a nil value so the placeholder is
// used.
func optional(value string, ok bool, err error) (any, error) {
	if err != nil || !ok {
		return nil, err
	}
	return value, nil
}

// Resolver computes context variables on demand.
type Resolver struct {
	history HistoryReader
	system  SystemProber
}

// NewResolver creates a resolver reading history and system facts from the
// given collaborators.
func NewResolver(history HistoryReader, system SystemProber) *Resolver {
	return &Resolver{history: history, system: system}
}

// Resolve computes every known name in names. Unknown names are omitted. A
// failing provider resolves its name to the placeholder and is logged;
// resolution itself never fails. ls may be nil, in which case all
// language-server names resolve to placeholders.
func (r *Resolver) Resolve(ctx context.Context, names []string, doc *editor.Document, ls LanguageServer) Context {
	req := &request{doc: doc, ls: ls}
	if ls != nil {
		req.diagnostics = sync.OnceValues(func() (DiagnosticBuckets, error) {
			diags, err := ls.Diagnostics(ctx)
			if err != nil {
				return DiagnosticBuckets{}, err
			}
			return PartitionDiagnostics(diags), nil
		})
	}

	wanted := make(map[Name]bool, len(names))
	for _, n := range names {
		if IsKnown(n) {
			wanted[Name(n)] = true
		}
	}

	var mu sync.Mutex
	resolved := make(Context, len(wanted))
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for name := range wanted {
		g.Go(func() error {
			value := r.resolveOne(ctx, name, req)
			mu.Lock()
			resolved[string(name)] = value
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return resolved
}

func (r *Resolver) resolveOne(ctx context.Context, name Name, req *request) any {
	h := handlers[name]
	if req.doc == nil && isDocumentBound(name) {
		log.Debug().Str("variable", string(name)).Msg("No active document, using placeholder")
		return Placeholder(name)
	}

	value, err := h(ctx, r, req)
	if err != nil {
		log.Warn().Err(err).Str("variable", string(name)).Msg("Failed to resolve context variable")
		return Placeholder(name)
	}
	if value == nil {
		return Placeholder(name)
	}
	return value
}

func isDocumentBound(name Name) bool {
	switch name {
	case Reply, Replies, SystemDiagnostics:
		return false
	}
	return true
}
