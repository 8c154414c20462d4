package prompts

import (
	"regexp"
	"strings"
)

var metaBlockPattern = regexp.MustCompile(`{%\s*scribe\s*%}([\s\S]*?){%\s*endscribe\s*%}`)

// Meta is the metadata block of a template:
//
//	{% scribe %}
//	description: Explain the goal at the cursor
//	follow_up: explain_more.md
//	post_process: tidy.md
//	hide: false
//	{% endscribe %}
type Meta struct {
	Description string
	FollowUp    string
	PostProcess string
	Hide        bool
}

// ParseMeta extracts the first scribe block of source. ok is false when the
// block is missing or has no description.
func ParseMeta(source string) (meta Meta, ok bool) {
	m := metaBlockPattern.FindStringSubmatch(source)
	if m == nil {
		return Meta{}, false
	}
	for _, line := range strings.Split(m[1], "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "description":
			meta.Description = value
		case "follow_up":
			meta.FollowUp = value
		case "post_process":
			meta.PostProcess = value
		case "hide":
			meta.Hide = parseBool(value)
		}
	}
	if meta.Description == "" {
		return Meta{}, false
	}
	return meta, true
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1", "on":
		return true
	}
	return false
}
