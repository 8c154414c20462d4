package prompts

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/google/uuid"

	"github.com/leanscribe/internal/history"
	"github.com/leanscribe/internal/markdown"
)

var systemPattern = regexp.MustCompile(`\s*\[\[\s*system\s*\]\]\s*([\s\S]*?)\s*\[\[\s*system\s*\]\]`)

// RenderedPrompt is the output of a render.
type RenderedPrompt struct {
	User       string `json:"user"`
	System     string `json:"system,omitempty"`
	FollowUpID string `json:"follow_up,omitempty"`
}

func (p RenderedPrompt) UserText() string   { return p.User }
func (p RenderedPrompt) SystemText() string { return p.System }

// SplitSystem separates the first [[system]] ... [[system]] section from raw
// output. Both parts are trimmed.
func SplitSystem(raw string) RenderedPrompt {
	loc := systemPattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return RenderedPrompt{User: strings.TrimSpace(raw)}
	}
	return RenderedPrompt{
		System: strings.TrimSpace(raw[loc[2]:loc[3]]),
		User:   strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:]),
	}
}

// HistorySource is the read side of the history log.
type HistorySource interface {
	Get(index int) (history.Item, bool)
}

// Renderer executes templates with pongo2. extends and include paths
// resolve against the scribe folder.
type Renderer struct {
	set     *pongo2.TemplateSet
	history HistorySource
}

// NewRenderer creates a renderer for the templates under scribeFolder.
func NewRenderer(scribeFolder string, h HistorySource) *Renderer {
	return &Renderer{
		set:     pongo2.NewSet("scribe", folderLoader{folder: filepath.Clean(scribeFolder)}),
		history: h,
	}
}

// Render executes t with resolved context, then extra (extra wins on key
// collisions), and splits off the system section.
func (r *Renderer) Render(t *Template, resolved map[string]any, extra map[string]any) (RenderedPrompt, error) {
	raw, err := r.Execute(t.Source, resolved, extra)
	if err != nil {
		return RenderedPrompt{}, fmt.Errorf("prompts: render %s: %w", t.ShortPath, err)
	}
	p := SplitSystem(raw)
	p.FollowUpID = t.FollowUpID
	return p, nil
}

// Execute renders source and returns the raw output.
func (r *Renderer) Execute(source string, layers ...map[string]any) (string, error) {
	tpl, err := r.set.FromString(source)
	if err != nil {
		return "", err
	}
	vars := r.globals()
	for _, layer := range layers {
		for k, v := range layer {
			vars[k] = v
		}
	}
	return tpl.Execute(vars)
}

func (r *Renderer) globals() pongo2.Context {
	return pongo2.Context{
		"history": func(i *pongo2.Value) string {
			if r.history == nil {
				return ""
			}
			item, ok := r.history.Get(i.Integer())
			if !ok {
				return ""
			}
			return item.Text
		},
		"uuid": func() string {
			return uuid.NewString()
		},
		"remove_tag": func(text, start, end *pongo2.Value) string {
			return markdown.RemoveTag(text.String(), start.String(), end.String())
		},
		"select_tag": func(text, start, end *pongo2.Value) string {
			return markdown.SelectTag(text.String(), start.String(), end.String())
		},
	}
}

// folderLoader resolves every relative template name against the scribe
// folder, independent of the including template's location.
type folderLoader struct {
	folder string
}

func (l folderLoader) Abs(base, name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(l.folder, name)
}

func (l folderLoader) Get(path string) (io.Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
