package orchestrator

import (
	"regexp"
	"strings"
)

var (
	markdownWrapper = regexp.MustCompile("^\\s*```markdown[ \\t]*\\n([\\s\\S]*?)\\n?```\\s*$")
	lean4Fence      = regexp.MustCompile("```lean4\\b")
)

// CleanUpReply strips a ```markdown fence that wraps the whole reply and
// rewrites ```lean4 fences to ```lean. Other fences are left alone.
func CleanUpReply(reply string) string {
	if m := markdownWrapper.FindStringSubmatch(reply); m != nil && wrapsWhole(m[1]) {
		reply = m[1]
	}
	return lean4Fence.ReplaceAllString(reply, "```lean")
}

// wrapsWhole reports whether the fences in the body between an opening
// ```markdown line and the final ``` pair up, so the final ``` closes the
// wrapper. Any fence opens an inner block; only a bare ``` closes one.
func wrapsWhole(body string) bool {
	open := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			continue
		}
		switch {
		case !open:
			open = true
		case trimmed == "```":
			open = false
		}
	}
	return !open
}
