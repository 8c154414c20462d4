package editor

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// LanguageLean is the language id used for Lean 4 documents.
const LanguageLean = "lean4"

// Position is a zero-based line/character pair. Character counts UTF-16 code
// units, matching the language server protocol.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Empty reports whether the range covers no text.
func (r Range) Empty() bool {
	return r.Start == r.End
}

// Document is a snapshot of the active editor: its text, cursor and selection.
type Document struct {
	Path       string   `json:"path"`
	Root       string   `json:"root,omitempty"`
	Text       string   `json:"text"`
	LanguageID string   `json:"language_id,omitempty"`
	Cursor     Position `json:"cursor"`
	Selection  Range    `json:"selection"`
}

// Open reads the file at path into a Document with the cursor at pos.
// An empty selection is placed at the cursor.
func Open(path string, cursor Position, selection *Range) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc := &Document{
		Path:       abs,
		Root:       FindRoot(abs),
		Text:       string(data),
		LanguageID: LanguageLean,
		Cursor:     cursor,
		Selection:  Range{Start: cursor, End: cursor},
	}
	if selection != nil {
		doc.Selection = *selection
	}
	return doc, nil
}

// FindRoot walks up from path looking for a Lake project marker and falls
// back to the file's directory.
func FindRoot(path string) string {
	dir := filepath.Dir(path)
	for cur := dir; ; {
		for _, marker := range []string{"lakefile.lean", "lakefile.toml", "lean-toolchain"} {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir
		}
		cur = parent
	}
}

// URI returns the file:// URI of the document.
func (d *Document) URI() string {
	return PathToURI(d.Path)
}

// RootURI returns the file:// URI of the workspace root.
func (d *Document) RootURI() string {
	root := d.Root
	if root == "" {
		root = filepath.Dir(d.Path)
	}
	return PathToURI(root)
}

// FileName returns the base name of the document path.
func (d *Document) FileName() string {
	return filepath.Base(d.Path)
}

// Lines splits the document text on newlines.
func (d *Document) Lines() []string {
	return strings.Split(d.Text, "\n")
}

// Offset converts a position into a byte offset into Text, clamping to the
// end of the line and the end of the document.
func (d *Document) Offset(pos Position) int {
	offset := 0
	line := 0
	for line < pos.Line {
		idx := strings.IndexByte(d.Text[offset:], '\n')
		if idx < 0 {
			return len(d.Text)
		}
		offset += idx + 1
		line++
	}

	units := 0
	for offset < len(d.Text) && units < pos.Character {
		r, size := utf8.DecodeRuneInString(d.Text[offset:])
		if r == '\n' {
			break
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
		offset += size
	}
	return offset
}

// PositionAt converts a byte offset into a position.
func (d *Document) PositionAt(offset int) Position {
	if offset > len(d.Text) {
		offset = len(d.Text)
	}
	var pos Position
	for _, r := range d.Text[:offset] {
		if r == '\n' {
			pos.Line++
			pos.Character = 0
			continue
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		pos.Character += n
	}
	return pos
}

// TextBeforeCursor returns the document text preceding the cursor.
func (d *Document) TextBeforeCursor() string {
	return d.Text[:d.Offset(d.Cursor)]
}

// TextAfterCursor returns the document text following the cursor.
func (d *Document) TextAfterCursor() string {
	return d.Text[d.Offset(d.Cursor):]
}

// TextInRange returns the text covered by r.
func (d *Document) TextInRange(r Range) string {
	start, end := d.Offset(r.Start), d.Offset(r.End)
	if end < start {
		start, end = end, start
	}
	return d.Text[start:end]
}

// SelectedText returns the text of the active selection.
func (d *Document) SelectedText() string {
	return d.TextInRange(d.Selection)
}

// PathToURI converts an absolute file path into a file:// URI.
func PathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// URIToPath converts a file:// URI back into a file path.
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid document uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// ParsePosition parses "line:character" into a Position.
func ParsePosition(s string) (Position, error) {
	var pos Position
	if s == "" {
		return pos, nil
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &pos.Line, &pos.Character); err != nil {
		return pos, fmt.Errorf("invalid position %q, expected line:character: %w", s, err)
	}
	if pos.Line < 0 || pos.Character < 0 {
		return pos, fmt.Errorf("invalid position %q: negative coordinates", s)
	}
	return pos, nil
}
