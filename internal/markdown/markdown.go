// Package markdown holds the small text transforms shared by context
// resolution, template filters and reply cleanup.
package markdown

import (
	"regexp"
	"strconv"
	"strings"
)

const fence = "```"

// EscapeCodeBlocks escapes triple backticks so the text can be embedded in a
// fenced block without closing it.
func EscapeCodeBlocks(text string) string {
	return strings.ReplaceAll(text, fence, "\\`\\`\\`")
}

// LeanBlock wraps code in a ```lean fence unless it already starts with one.
func LeanBlock(code string) string {
	if strings.HasPrefix(code, fence+"lean") {
		return code
	}
	return fence + "lean\n" + code + "\n" + fence + "\n"
}

var initialComment = regexp.MustCompile(`/-\n([\s\S]*?)\n-/\n`)

// RemoveInitialComment drops the first /- ... -/ block comment, typically a
// copyright or author header.
func RemoveInitialComment(code string) string {
	loc := initialComment.FindStringIndex(code)
	if loc == nil {
		return code
	}
	return code[:loc[0]] + code[loc[1]:]
}

// LineNumbers prefixes every line with its index starting at start, padding
// the numbers so the separators align.
func LineNumbers(code string, start int) string {
	lines := strings.Split(code, "\n")
	width := len(strconv.Itoa(start + len(lines) - 1))
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		n := strconv.Itoa(start + i)
		if pad := width - len(n); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(line)
	}
	return b.String()
}

// RemoveTag deletes every span from start to the nearest end marker. The
// markers are literal text.
func RemoveTag(code, start, end string) string {
	re, err := tagPattern(start, end)
	if err != nil {
		return code
	}
	return re.ReplaceAllLiteralString(code, "")
}

// SelectTag returns the text between the first start marker and the
// following end marker, or "" when absent.
func SelectTag(code, start, end string) string {
	re, err := tagPattern(start, end)
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(code)
	if m == nil {
		return ""
	}
	return m[1]
}

func tagPattern(start, end string) (*regexp.Regexp, error) {
	return regexp.Compile(regexp.QuoteMeta(start) + `([\s\S]*?)` + regexp.QuoteMeta(end))
}
