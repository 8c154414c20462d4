package editor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetAndPositionAt(t *testing.T) {
	doc := &Document{Text: "theorem foo : True := by\n  trivial\n"}

	off := doc.Offset(Position{Line: 1, Character: 2})
	assert.Equal(t, "trivial\n", doc.Text[off:])
	assert.Equal(t, Position{Line: 1, Character: 2}, doc.PositionAt(off))

	// Clamps past the end of a line and past the end of the document.
	assert.Equal(t, len("theorem foo : True := by"), doc.Offset(Position{Line: 0, Character: 500}))
	assert.Equal(t, len(doc.Text), doc.Offset(Position{Line: 10, Character: 0}))
}

func TestOffsetCountsUTF16Units(t *testing.T) {
	// ℕ is one UTF-16 unit, 𝔽 is two.
	doc := &Document{Text: "ℕ𝔽x"}
	assert.Equal(t, "x", doc.Text[doc.Offset(Position{Line: 0, Character: 3}):])
	assert.Equal(t, Position{Line: 0, Character: 3}, doc.PositionAt(len(doc.Text)-1))
}

func TestCursorAndSelectionText(t *testing.T) {
	doc := &Document{
		Text:      "abc\ndef",
		Cursor:    Position{Line: 1, Character: 1},
		Selection: Range{Start: Position{Line: 0, Character: 1}, End: Position{Line: 1, Character: 2}},
	}
	assert.Equal(t, "abc\nd", doc.TextBeforeCursor())
	assert.Equal(t, "ef", doc.TextAfterCursor())
	assert.Equal(t, "bc\nde", doc.SelectedText())
}

func TestOpenFindsLakeRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "lakefile.lean"), []byte(""), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Foo"), 0755))
	path := filepath.Join(root, "Foo", "Bar.lean")
	require.NoError(t, os.WriteFile(path, []byte("import Mathlib\n"), 0644))

	doc, err := Open(path, Position{Line: 0, Character: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, root, doc.Root)
	assert.Equal(t, "Bar.lean", doc.FileName())
	assert.True(t, doc.Selection.Empty())
	assert.Equal(t, LanguageLean, doc.LanguageID)
}

func TestURIRoundTrip(t *testing.T) {
	uri := PathToURI("/tmp/My Project/A.lean")
	assert.Equal(t, "file:///tmp/My%20Project/A.lean", uri)

	path, err := URIToPath(uri)
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/tmp/My Project/A.lean"), path)

	_, err = URIToPath("https://example.com/x")
	assert.Error(t, err)
}

func TestParsePosition(t *testing.T) {
	pos, err := ParsePosition("12:4")
	require.NoError(t, err)
	assert.Equal(t, Position{Line: 12, Character: 4}, pos)

	_, err = ParsePosition("twelve")
	assert.Error(t, err)
}
