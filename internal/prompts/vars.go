package prompts

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/leanscribe/internal/contextvars"
)

var (
	// Matches {{ name }} and {{ name | filter ... }}; capture 1 = name.
	varPattern = regexp.MustCompile(`{{\s*([^|}\s]+)\s*(?:\|[^}]+)?\s*}}`)
	// Matches the path of {% extends %}, {% include %} and {% import %},
	// with or without whitespace control; capture 1 = path.
	refPattern = regexp.MustCompile(`{%-?\s*(?:extends|include|import)\s+["']([^"']+)["']`)
	// Bodies of {{ ... }} and {% ... %} sites.
	sitePattern    = regexp.MustCompile(`{{([\s\S]*?)}}|{%([\s\S]*?)%}`)
	stringLiteral  = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	identifierMark = regexp.MustCompile(`(^|[^.\w])([A-Za-z_]\w*)`)
)

// Extractor statically collects the variable names a template references,
// following the templates it extends, includes or imports. It never
// executes the template.
type Extractor struct {
	folder   string
	readFile func(string) ([]byte, error)
}

// NewExtractor resolves extends paths relative to the scribe folder.
func NewExtractor(scribeFolder string) *Extractor {
	return &Extractor{folder: scribeFolder, readFile: os.ReadFile}
}

// Extract returns the sorted, deduplicated names referenced by source and
// the templates it references. A reference cycle stops at the first revisit.
func (e *Extractor) Extract(source string) []string {
	names := map[string]bool{}
	e.collect(source, names, map[string]bool{})
	return sortedKeys(names)
}

// ExtractTemplate is Extract for an indexed template, seeding the cycle
// guard with the template's own path.
func (e *Extractor) ExtractTemplate(t *Template) []string {
	names := map[string]bool{}
	e.collect(t.Source, names, map[string]bool{filepath.Clean(t.ID): true})
	return sortedKeys(names)
}

func (e *Extractor) collect(source string, names, visited map[string]bool) {
	for _, m := range varPattern.FindAllStringSubmatch(source, -1) {
		names[m[1]] = true
	}

	// Names consumed outside an interpolation head, e.g. {% if goal %} or
	// {{ remove_tag(file, "a", "b") }}.
	for _, site := range sitePattern.FindAllStringSubmatch(source, -1) {
		body := stringLiteral.ReplaceAllString(site[1]+site[2], `""`)
		for _, id := range identifierMark.FindAllStringSubmatch(body, -1) {
			if contextvars.IsKnown(id[2]) {
				names[id[2]] = true
			}
		}
	}

	for _, m := range refPattern.FindAllStringSubmatch(source, -1) {
		ref := e.resolve(m[1])
		if visited[ref] {
			log.Debug().Str("template", ref).Msg("Template already visited, skipping")
			continue
		}
		visited[ref] = true

		data, err := e.readFile(ref)
		if err != nil {
			log.Warn().Err(err).Str("template", ref).Msg("Failed to read referenced template")
			continue
		}
		e.collect(string(data), names, visited)
	}
}

func (e *Extractor) resolve(ref string) string {
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(e.folder, ref)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
