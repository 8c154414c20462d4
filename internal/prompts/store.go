package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/sahilm/fuzzy"
)

// ErrTemplateNotFound is returned for ids that do not name a template.
var ErrTemplateNotFound = errors.New("prompts: template not found")

// LogsDir is the reserved directory skipped while indexing.
const LogsDir = "logs"

// DefaultSearchLimit caps search results.
const DefaultSearchLimit = 8

// Template is one indexed prompt template. ID is its absolute path.
type Template struct {
	ID            string `json:"id"`
	ShortPath     string `json:"short_path"`
	Source        string `json:"-"`
	Description   string `json:"description"`
	FollowUpID    string `json:"follow_up,omitempty"`
	PostProcessID string `json:"post_process,omitempty"`
	Hidden        bool   `json:"hidden,omitempty"`
}

type index struct {
	templates []*Template
	keys      []string // lowercased description + short path, parallel to templates
}

// Store indexes the templates of a scribe folder. Reload rebuilds the index
// and publishes it atomically.
type Store struct {
	folder  string
	current atomic.Pointer[index]
}

// NewStore creates an empty store for folder. Call Reload to index it.
func NewStore(folder string) *Store {
	s := &Store{folder: filepath.Clean(folder)}
	s.current.Store(&index{})
	return s
}

// Folder returns the scribe folder.
func (s *Store) Folder() string {
	return s.folder
}

// Reload walks the scribe folder and replaces the index. Files without a
// valid scribe block are skipped.
func (s *Store) Reload() error {
	if _, err := os.Stat(s.folder); err != nil {
		return fmt.Errorf("prompts: scribe folder: %w", err)
	}

	next := &index{}
	err := filepath.WalkDir(s.folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == LogsDir && path != s.folder {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}

		t, err := s.Load(path)
		if err != nil {
			if !errors.Is(err, ErrTemplateNotFound) {
				log.Warn().Err(err).Str("path", path).Msg("Failed to load template")
			}
			return nil
		}
		next.templates = append(next.templates, t)
		next.keys = append(next.keys, strings.ToLower(t.Description+t.ShortPath))
		return nil
	})
	if err != nil {
		return fmt.Errorf("prompts: index %s: %w", s.folder, err)
	}

	s.current.Store(next)
	log.Debug().Int("templates", len(next.templates)).Str("folder", s.folder).Msg("Indexed templates")
	return nil
}

// Len returns the number of indexed templates.
func (s *Store) Len() int {
	return len(s.current.Load().templates)
}

// Templates returns the indexed templates in path order.
func (s *Store) Templates() []*Template {
	idx := s.current.Load()
	out := make([]*Template, len(idx.templates))
	copy(out, idx.templates)
	return out
}

// Search returns up to limit visible templates whose description or short
// path contains query, case-insensitively. With no substring hit the
// results are fuzzy-ranked instead.
func (s *Store) Search(query string, limit int) []*Template {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	idx := s.current.Load()
	q := strings.ToLower(strings.TrimSpace(query))

	var out []*Template
	for i, key := range idx.keys {
		if idx.templates[i].Hidden || !strings.Contains(key, q) {
			continue
		}
		out = append(out, idx.templates[i])
		if len(out) >= limit {
			return out
		}
	}
	if len(out) > 0 || q == "" {
		return out
	}

	for _, m := range fuzzy.Find(q, idx.keys) {
		t := idx.templates[m.Index]
		if t.Hidden {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Get loads the template id fresh from disk so edits apply without a
// reload. id may be absolute or relative to the scribe folder.
func (s *Store) Get(id string) (*Template, error) {
	return s.Load(s.Resolve(id))
}

// Resolve turns a reference relative to the scribe folder into an id.
func (s *Store) Resolve(ref string) string {
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(s.folder, ref)
}

// ResolveRelative resolves ref against the directory of the template from,
// as trigger buttons do.
func (s *Store) ResolveRelative(from, ref string) string {
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(filepath.Dir(s.Resolve(from)), ref)
}

// Load parses the template file at path. Files without a valid scribe
// block yield ErrTemplateNotFound.
func (s *Store) Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, s.shortPath(path))
		}
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	source := string(data)
	meta, ok := ParseMeta(source)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no scribe block", ErrTemplateNotFound, s.shortPath(path))
	}

	return &Template{
		ID:            path,
		ShortPath:     s.shortPath(path),
		Source:        source,
		Description:   meta.Description,
		FollowUpID:    existing(path, meta.FollowUp),
		PostProcessID: existing(path, meta.PostProcess),
		Hidden:        meta.Hide,
	}, nil
}

func (s *Store) shortPath(path string) string {
	if rel, ok := strings.CutPrefix(path, s.folder+string(filepath.Separator)); ok {
		return filepath.ToSlash(rel)
	}
	return path
}

// existing resolves ref against the directory of path and returns it only if
// the file exists.
func existing(path, ref string) string {
	if ref == "" {
		return ""
	}
	target := ref
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), ref)
	}
	if _, err := os.Stat(target); err != nil {
		log.Debug().Str("template", path).Str("target", ref).Msg("Referenced template does not exist")
		return ""
	}
	return target
}

