// Package contextvars resolves the context variables a prompt template
// references, computing only the names that were requested.
package contextvars

import "sort"

// Name is one element of the closed context vocabulary.
type Name string

// Document-derived names.
const (
	File             Name = "file"
	FileMarkdown     Name = "file_md"
	FileBeforeCursor Name = "file_before_cursor"
	FileAfterCursor  Name = "file_after_cursor"
	FilePath         Name = "file_path"
	FileName         Name = "file_name"
	Selection        Name = "selection"
	Cursor           Name = "cursor"
)

// Diagnostics-derived names. They share a single diagnostics fetch.
const (
	Diagnostics Name = "diagnostics"
	Errors      Name = "errors"
	Warnings    Name = "warnings"
	Infos       Name = "infos"
)

// Language-server-derived names.
const (
	Goal          Name = "goal"
	TermGoal      Name = "term_goal"
	Hover         Name = "hover"
	HoverAll      Name = "hover_all"
	Symbols       Name = "symbols"
	ImportPaths   Name = "import_paths"
	ImportFilesMD Name = "import_files_md"
	SorryGoals    Name = "sorry_goals"
)

// History- and system-derived names.
const (
	Reply             Name = "reply"
	Replies           Name = "replies"
	SystemDiagnostics Name = "system_diagnostics"
)

// All lists the vocabulary.
var All = []Name{
	File, FileMarkdown, FileBeforeCursor, FileAfterCursor, FilePath, FileName, Selection, Cursor,
	Diagnostics, Errors, Warnings, Infos,
	Goal, TermGoal, Hover, HoverAll, Symbols, ImportPaths, ImportFilesMD, SorryGoals,
	Reply, Replies, SystemDiagnostics,
}

var known = func() map[Name]bool {
	m := make(map[Name]bool, len(All))
	for _, n := range All {
		m[n] = true
	}
	return m
}()

// IsKnown reports whether s names a context variable.
func IsKnown(s string) bool {
	return known[Name(s)]
}

// Names returns the vocabulary as sorted strings.
func Names() []string {
	out := make([]string, len(All))
	for i, n := range All {
		out[i] = string(n)
	}
	sort.Strings(out)
	return out
}

// Goal placeholders. Every other name falls back to "".
const (
	NoGoal     = "no goal"
	NoTermGoal = "no term goal"
)

// Placeholder is the value a name resolves to when its provider has no data
// or fails.
func Placeholder(n Name) any {
	switch n {
	case Goal:
		return NoGoal
	case TermGoal:
		return NoTermGoal
	case Replies:
		return []string{}
	case Symbols:
		return []string{}
	}
	return ""
}

// NeedsLanguageServer reports whether any of names is answered by the
// language server.
func NeedsLanguageServer(names []string) bool {
	for _, s := range names {
		switch Name(s) {
		case Diagnostics, Errors, Warnings, Infos,
			Goal, TermGoal, Hover, HoverAll, Symbols, ImportPaths, ImportFilesMD, SorryGoals:
			return true
		}
	}
	return false
}
