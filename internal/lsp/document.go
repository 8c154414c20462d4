package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/rs/zerolog/log"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/time/rate"

	"github.com/leanscribe/internal/editor"
	"github.com/leanscribe/internal/markdown"
)

// Placeholders for queries that legitimately return no data.
const (
	NoGoal     = "no goal"
	NoTermGoal = "no term goal"
)

var (
	importPattern = regexp.MustCompile(`(?m)^import\s+([^\s]+)`)
	sorryPattern  = regexp.MustCompile(`sorry|admit`)
)

// Document runs language server queries against one editor document.
type Document struct {
	rpc      Requester
	doc      *editor.Document
	limiter  *rate.Limiter
	readFile func(string) ([]byte, error)
}

// NewDocument binds rpc to doc. hoverRate limits the requests per second of
// the full-document hover sweep; zero means unlimited.
func NewDocument(rpc Requester, doc *editor.Document, hoverRate float64) *Document {
	limit := rate.Inf
	if hoverRate > 0 {
		limit = rate.Limit(hoverRate)
	}
	return &Document{
		rpc:      rpc,
		doc:      doc,
		limiter:  rate.NewLimiter(limit, 1),
		readFile: os.ReadFile,
	}
}

func (d *Document) identifier() protocol.TextDocumentIdentifier {
	return protocol.TextDocumentIdentifier{URI: protocol.DocumentUri(d.doc.URI())}
}

func (d *Document) positionParams(pos editor.Position) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: d.identifier(),
		Position:     toProtocol(pos),
	}
}

func toProtocol(pos editor.Position) protocol.Position {
	return protocol.Position{
		Line:      protocol.UInteger(pos.Line),
		Character: protocol.UInteger(pos.Character),
	}
}

func fromProtocol(pos protocol.Position) editor.Position {
	return editor.Position{Line: int(pos.Line), Character: int(pos.Character)}
}

// FormatRange renders a range as "[lA:cB - lC:cD]".
func FormatRange(r protocol.Range) string {
	return fmt.Sprintf("[l%d:c%d - l%d:c%d]", r.Start.Line, r.Start.Character, r.End.Line, r.End.Character)
}

// Diagnostics returns the diagnostics published for the document.
func (d *Document) Diagnostics(ctx context.Context) ([]protocol.Diagnostic, error) {
	return d.rpc.Diagnostics(ctx, d.doc.URI())
}

// Goal returns the rendered tactic goal at pos. ok is false when the server
// has no goal there.
func (d *Document) Goal(ctx context.Context, pos editor.Position) (goal string, ok bool, err error) {
	var result *struct {
		Rendered string   `json:"rendered"`
		Goals    []string `json:"goals"`
	}
	if err := d.rpc.Request(ctx, MethodPlainGoal, d.positionParams(pos), &result); err != nil {
		return "", false, err
	}
	if result == nil {
		return "", false, nil
	}
	return result.Rendered, true, nil
}

// TermGoal returns the expected type at pos wrapped in a lean fence.
func (d *Document) TermGoal(ctx context.Context, pos editor.Position) (goal string, ok bool, err error) {
	var result *struct {
		Goal  string          `json:"goal"`
		Range *protocol.Range `json:"range"`
	}
	if err := d.rpc.Request(ctx, MethodPlainTermGoal, d.positionParams(pos), &result); err != nil {
		return "", false, err
	}
	if result == nil {
		return "", false, nil
	}
	return "```lean\n" + result.Goal + "\n```", true, nil
}

type hoverResult struct {
	Contents json.RawMessage `json:"contents"`
	Range    *protocol.Range `json:"range"`
}

// hoverValue flattens MarkupContent, MarkedString and MarkedString[].
func hoverValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != "" {
		return obj.Value
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if v := hoverValue(item); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func (d *Document) hover(ctx context.Context, pos editor.Position) (*hoverResult, error) {
	var result *hoverResult
	params := protocol.HoverParams{TextDocumentPositionParams: d.positionParams(pos)}
	if err := d.rpc.Request(ctx, MethodHover, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Hover returns the hover text at pos followed by its range.
func (d *Document) Hover(ctx context.Context, pos editor.Position) (string, bool, error) {
	h, err := d.hover(ctx, pos)
	if err != nil || h == nil {
		return "", false, err
	}
	text := hoverValue(h.Contents)
	if h.Range != nil {
		text += "\n" + FormatRange(*h.Range)
	}
	return text, true, nil
}

type foldingRange struct {
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Kind      string `json:"kind,omitempty"`
}

func (d *Document) foldingRanges(ctx context.Context) ([]foldingRange, error) {
	var ranges []foldingRange
	params := protocol.FoldingRangeParams{TextDocument: d.identifier()}
	if err := d.rpc.Request(ctx, MethodFoldingRange, params, &ranges); err != nil {
		return nil, err
	}
	return ranges, nil
}

// HoverAll sweeps every non-comment, non-import line of the document and
// collects one annotation per hovered term, in first-seen order.
func (d *Document) HoverAll(ctx context.Context) (string, error) {
	ranges, err := d.foldingRanges(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Folding ranges unavailable, sweeping all lines")
	}
	skip := map[int]bool{}
	for _, r := range ranges {
		if r.Kind == "comment" || r.Kind == "imports" {
			for line := r.StartLine; line <= r.EndLine; line++ {
				skip[line] = true
			}
		}
	}

	lines := d.doc.Lines()
	var order []string
	annotations := map[string]string{}

	line, char := 0, 0 // char counts UTF-16 units
	for line < len(lines) {
		units := utf16.Encode([]rune(lines[line]))
		if skip[line] || char >= len(units) {
			line++
			char = 0
			continue
		}
		if c := units[char]; c == ' ' || c == '\t' || c == '\r' {
			char++
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return "", err
		}
		pos := editor.Position{Line: line, Character: char}
		h, err := d.hover(ctx, pos)
		if err != nil {
			return "", err
		}
		if h != nil && h.Range != nil {
			start, end := fromProtocol(h.Range.Start), fromProtocol(h.Range.End)
			term := strings.TrimSpace(d.doc.TextInRange(editor.Range{Start: start, End: end}))
			if _, seen := annotations[term]; !seen {
				order = append(order, term)
			}
			annotations[term] = hoverValue(h.Contents)

			// Jump over single-token ranges that end ahead of us.
			if !strings.ContainsAny(term, " ") && after(end, pos) {
				line, char = end.Line, end.Character
				continue
			}
		}
		char++
	}

	var md strings.Builder
	for _, term := range order {
		fmt.Fprintf(&md, "%s\n/--\n%s\n-/\n", term, cleanHoverAnnotation(annotations[term]))
	}
	return "```lean\n" + md.String() + "\n```", nil
}

func after(a, b editor.Position) bool {
	return a.Line > b.Line || (a.Line == b.Line && a.Character > b.Character)
}

// cleanHoverAnnotation unwraps a lean fence around the signature and escapes
// any remaining fences so the annotation nests inside the sweep's block.
func cleanHoverAnnotation(annotation string) string {
	a := strings.TrimSpace(annotation)
	if strings.HasPrefix(a, "```lean") {
		a = strings.TrimPrefix(a, "```lean")
		if i := strings.Index(a, "```"); i >= 0 {
			a = a[:i] + a[i+3:]
		}
	}
	return markdown.EscapeCodeBlocks(strings.TrimSpace(a))
}

// Symbols returns the dotted names of the document's symbol tree,
// deduplicated in first-seen order. "<section>" nodes contribute no name.
func (d *Document) Symbols(ctx context.Context) ([]string, error) {
	var symbols []protocol.DocumentSymbol
	params := protocol.DocumentSymbolParams{TextDocument: d.identifier()}
	if err := d.rpc.Request(ctx, MethodDocumentSymbol, params, &symbols); err != nil {
		return nil, err
	}

	var names []string
	var walk func(syms []protocol.DocumentSymbol, parent string)
	walk = func(syms []protocol.DocumentSymbol, parent string) {
		for _, s := range syms {
			if s.Name == "" || s.Name == "<section>" {
				walk(s.Children, parent)
				continue
			}
			full := s.Name
			if parent != "" {
				full = parent + "." + s.Name
			}
			names = append(names, full)
			walk(s.Children, full)
		}
	}
	walk(symbols, "")
	return dedupe(names), nil
}

// ImportURIs resolves each "import X" line to the URI of the imported file.
// Imports the server cannot resolve are skipped.
func (d *Document) ImportURIs(ctx context.Context) ([]string, error) {
	text := d.doc.Text
	var uris []string
	for _, m := range importPattern.FindAllStringSubmatchIndex(text, -1) {
		pos := d.doc.PositionAt(m[2])
		uri, err := d.definition(ctx, pos)
		if err != nil {
			log.Debug().Err(err).Str("import", text[m[2]:m[3]]).Msg("Import definition lookup failed")
			continue
		}
		if uri != "" {
			uris = append(uris, uri)
		}
	}
	return dedupe(uris), nil
}

func (d *Document) definition(ctx context.Context, pos editor.Position) (string, error) {
	var raw json.RawMessage
	params := protocol.DefinitionParams{TextDocumentPositionParams: d.positionParams(pos)}
	if err := d.rpc.Request(ctx, MethodDefinition, params, &raw); err != nil {
		return "", err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var links []protocol.LocationLink
	if err := json.Unmarshal(raw, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
		return string(links[0].TargetURI), nil
	}
	var locations []protocol.Location
	if err := json.Unmarshal(raw, &locations); err == nil && len(locations) > 0 {
		return string(locations[0].URI), nil
	}
	var location protocol.Location
	if err := json.Unmarshal(raw, &location); err == nil {
		return string(location.URI), nil
	}
	return "", nil
}

// WorkspacePath strips the workspace root from a file URI.
func (d *Document) WorkspacePath(uri string) string {
	root := d.doc.RootURI()
	if rel, ok := strings.CutPrefix(uri, root+"/"); ok {
		return rel
	}
	if path, err := editor.URIToPath(uri); err == nil {
		return path
	}
	return uri
}

// ImportPaths returns the workspace-relative paths of the imported files.
func (d *Document) ImportPaths(ctx context.Context) ([]string, error) {
	uris, err := d.ImportURIs(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(uris))
	for i, uri := range uris {
		paths[i] = d.WorkspacePath(uri)
	}
	return paths, nil
}

// ImportFilesMarkdown renders each imported file as its path followed by its
// escaped contents in a lean fence.
func (d *Document) ImportFilesMarkdown(ctx context.Context) (string, error) {
	uris, err := d.ImportURIs(ctx)
	if err != nil {
		return "", err
	}

	var md strings.Builder
	for _, uri := range uris {
		path, err := editor.URIToPath(uri)
		if err != nil {
			log.Debug().Err(err).Str("uri", uri).Msg("Skipping import")
			continue
		}
		data, err := d.readFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read imported file")
			continue
		}
		fmt.Fprintf(&md, "%s\n```lean\n%s\n```\n", d.WorkspacePath(uri), markdown.EscapeCodeBlocks(string(data)))
	}
	return md.String(), nil
}

// SorryGoals reports the goal at every sorry or admit in the document.
func (d *Document) SorryGoals(ctx context.Context) (string, error) {
	var blocks []string
	for _, loc := range sorryPattern.FindAllStringIndex(d.doc.Text, -1) {
		pos := d.doc.PositionAt(loc[0])
		goal, ok, err := d.Goal(ctx, pos)
		if err != nil {
			return "", err
		}
		if !ok {
			goal = NoGoal
		}
		blocks = append(blocks, fmt.Sprintf("Sorry at l%d:c%d:\n%s", pos.Line, pos.Character, goal))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
