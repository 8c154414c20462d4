package contextvars

import (
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/leanscribe/internal/lsp"
)

// NoDiagnostics is the summary when the server reports nothing.
const NoDiagnostics = "No diagnostics found, great!"

// DiagnosticBuckets holds formatted diagnostics partitioned by severity.
// Hints are dropped.
type DiagnosticBuckets struct {
	Errors   string
	Warnings string
	Infos    string
}

// PartitionDiagnostics formats each diagnostic as "message\n[range]\n\n" and
// joins each severity bucket with newlines. A missing severity counts as an
// error.
func PartitionDiagnostics(diags []protocol.Diagnostic) DiagnosticBuckets {
	var errs, warns, infos []string
	for _, d := range diags {
		entry := d.Message + "\n" + lsp.FormatRange(d.Range) + "\n\n"
		severity := protocol.DiagnosticSeverityError
		if d.Severity != nil {
			severity = *d.Severity
		}
		switch severity {
		case protocol.DiagnosticSeverityError:
			errs = append(errs, entry)
		case protocol.DiagnosticSeverityWarning:
			warns = append(warns, entry)
		case protocol.DiagnosticSeverityInformation:
			infos = append(infos, entry)
		}
	}
	return DiagnosticBuckets{
		Errors:   strings.Join(errs, "\n"),
		Warnings: strings.Join(warns, "\n"),
		Infos:    strings.Join(infos, "\n"),
	}
}

// Summary renders the non-empty buckets under bold headings.
func (b DiagnosticBuckets) Summary() string {
	if b.Errors == "" && b.Warnings == "" && b.Infos == "" {
		return NoDiagnostics
	}
	var sections []string
	for _, s := range []struct{ title, body string }{
		{"Errors", b.Errors},
		{"Warnings", b.Warnings},
		{"Infos", b.Infos},
	} {
		if s.body != "" {
			sections = append(sections, "**"+s.title+"**\n\n"+s.body+"\n")
		}
	}
	return strings.Join(sections, "\n")
}
