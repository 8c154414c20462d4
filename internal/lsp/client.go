package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/leanscribe/internal/editor"
)

// Method names used by the client.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodHover              = "textDocument/hover"
	MethodDocumentSymbol     = "textDocument/documentSymbol"
	MethodFoldingRange       = "textDocument/foldingRange"
	MethodDefinition         = "textDocument/definition"
	MethodPlainGoal          = "$/lean/plainGoal"
	MethodPlainTermGoal      = "$/lean/plainTermGoal"
	MethodFileProgress       = "$/lean/fileProgress"
)

// Requester is the request/response surface the document queries need.
type Requester interface {
	Request(ctx context.Context, method string, params, result any) error
	Diagnostics(ctx context.Context, uri string) ([]protocol.Diagnostic, error)
}

// Options configures the language server process.
type Options struct {
	Command string
	Args    []string
	Dir     string
	// DiagnosticsWait bounds how long Diagnostics waits for the server to
	// finish processing a freshly opened file.
	DiagnosticsWait time.Duration
}

type fileState struct {
	version     int
	diagnostics []protocol.Diagnostic
	ready       chan struct{}
	readyOnce   sync.Once
}

func (s *fileState) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Client is a JSON-RPC language server client over a child process' stdio.
type Client struct {
	conn *jsonrpc2.Conn
	cmd  *exec.Cmd
	wait time.Duration

	mu    sync.Mutex
	files map[string]*fileState
}

// Start launches the language server and performs the initialize handshake.
func Start(ctx context.Context, opts Options) (*Client, error) {
	if opts.Command == "" {
		return nil, errors.New("lsp: no server command configured")
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Stderr = stderrLogger{}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("lsp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("lsp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("lsp: failed to start %s: %w", opts.Command, err)
	}

	log.Debug().
		Str("command", opts.Command).
		Strs("args", opts.Args).
		Str("dir", opts.Dir).
		Msg("Started language server")

	c := NewClient(ctx, stdio{ReadCloser: stdout, WriteCloser: stdin}, opts.DiagnosticsWait)
	c.cmd = cmd

	if err := c.initialize(ctx, opts.Dir); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return c, nil
}

// NewClient wraps an established stream. Start uses it for process stdio.
func NewClient(ctx context.Context, rwc io.ReadWriteCloser, diagnosticsWait time.Duration) *Client {
	if diagnosticsWait <= 0 {
		diagnosticsWait = 3 * time.Second
	}
	c := &Client{
		wait:  diagnosticsWait,
		files: make(map[string]*fileState),
	}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, c)
	return c
}

func (c *Client) initialize(ctx context.Context, root string) error {
	pid := protocol.Integer(os.Getpid())
	params := protocol.InitializeParams{
		ProcessID:    &pid,
		Capabilities: protocol.ClientCapabilities{},
	}
	if root != "" {
		uri := protocol.DocumentUri(editor.PathToURI(root))
		params.RootURI = &uri
	}

	var result json.RawMessage
	if err := c.conn.Call(ctx, MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("lsp: initialize: %w", err)
	}
	if err := c.conn.Notify(ctx, MethodInitialized, protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("lsp: initialized: %w", err)
	}
	return nil
}

// Open announces a document to the server so it is elaborated. Opening an
// already open document sends its full text as a change instead.
func (c *Client) Open(ctx context.Context, doc *editor.Document) error {
	uri := doc.URI()
	c.mu.Lock()
	version := 1
	if prev, ok := c.files[uri]; ok && prev.version > 0 {
		version = prev.version + 1
	}
	c.files[uri] = &fileState{version: version, ready: make(chan struct{})}
	c.mu.Unlock()

	if version > 1 {
		params := protocol.DidChangeTextDocumentParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentUri(uri)},
				Version:                protocol.Integer(version),
			},
			ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: doc.Text}},
		}
		if err := c.conn.Notify(ctx, MethodDidChange, params); err != nil {
			return fmt.Errorf("lsp: didChange %s: %w", uri, err)
		}
		return nil
	}

	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentUri(uri),
			LanguageID: doc.LanguageID,
			Version:    protocol.Integer(version),
			Text:       doc.Text,
		},
	}
	if err := c.conn.Notify(ctx, MethodDidOpen, params); err != nil {
		return fmt.Errorf("lsp: didOpen %s: %w", uri, err)
	}
	return nil
}

// Request sends a request and decodes its result. A null result leaves
// result untouched.
func (c *Client) Request(ctx context.Context, method string, params, result any) error {
	if err := c.conn.Call(ctx, method, params, result); err != nil {
		return fmt.Errorf("lsp: %s: %w", method, err)
	}
	return nil
}

// Diagnostics returns the latest published diagnostics for uri, waiting a
// bounded time for the server to finish processing the file.
func (c *Client) Diagnostics(ctx context.Context, uri string) ([]protocol.Diagnostic, error) {
	state := c.file(uri)

	timer := time.NewTimer(c.wait)
	defer timer.Stop()
	select {
	case <-state.ready:
	case <-timer.C:
		log.Debug().Str("uri", uri).Dur("wait", c.wait).Msg("Diagnostics wait elapsed before file was processed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Diagnostic, len(state.diagnostics))
	copy(out, state.diagnostics)
	return out, nil
}

func (c *Client) file(uri string) *fileState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.files[uri]
	if !ok {
		state = &fileState{ready: make(chan struct{})}
		c.files[uri] = state
	}
	return state
}

// Handle receives server-to-client messages.
func (c *Client) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	switch req.Method {
	case MethodPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := unmarshalParams(req, &params); err != nil {
			log.Warn().Err(err).Msg("Malformed publishDiagnostics")
			return
		}
		state := c.file(string(params.URI))
		c.mu.Lock()
		if params.Version == nil || int(*params.Version) >= state.version {
			state.diagnostics = params.Diagnostics
		}
		c.mu.Unlock()

	case MethodFileProgress:
		var params struct {
			TextDocument protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
			Processing   []json.RawMessage                        `json:"processing"`
		}
		if err := unmarshalParams(req, &params); err != nil {
			log.Warn().Err(err).Msg("Malformed fileProgress")
			return
		}
		if len(params.Processing) > 0 {
			return
		}
		state := c.file(string(params.TextDocument.URI))
		c.mu.Lock()
		stale := params.TextDocument.Version > 0 && int(params.TextDocument.Version) < state.version
		c.mu.Unlock()
		if stale {
			log.Debug().
				Str("uri", string(params.TextDocument.URI)).
				Int("version", int(params.TextDocument.Version)).
				Msg("Ignoring progress of an earlier version")
			return
		}
		state.markReady()

	default:
		if !req.Notif {
			// Server requests (capability registration, progress tokens) are
			// acknowledged with an empty result.
			if err := conn.Reply(ctx, req.ID, nil); err != nil {
				log.Debug().Err(err).Str("method", req.Method).Msg("Failed to reply to server request")
			}
		}
	}
}

// Close shuts the server down and waits for the process to exit.
func (c *Client) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_ = c.conn.Call(ctx, MethodShutdown, nil, nil)
	_ = c.conn.Notify(ctx, MethodExit, nil)
	err := c.conn.Close()

	if c.cmd != nil {
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case werr := <-done:
			if werr != nil {
				log.Debug().Err(werr).Msg("Language server exited with error")
			}
		case <-ctx.Done():
			_ = c.cmd.Process.Kill()
		}
	}
	if err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return fmt.Errorf("lsp: close: %w", err)
	}
	return nil
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return errors.New("missing params")
	}
	return json.Unmarshal(*req.Params, v)
}

type stdio struct {
	io.ReadCloser
	io.WriteCloser
}

func (s stdio) Close() error {
	werr := s.WriteCloser.Close()
	rerr := s.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

type stderrLogger struct{}

func (stderrLogger) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			log.Debug().Str("component", "lsp").Msg(line)
		}
	}
	return len(p), nil
}
