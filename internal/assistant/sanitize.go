package assistant

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var sanitizers = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("```[\\s\\S]*?```"), ""},
	{regexp.MustCompile("`[^`]+`"), ""},
	{regexp.MustCompile(`(?im)^(assistant|system|user|ai|lumen)\s*:\s*`), ""},
	{regexp.MustCompile(`"\w+":\s*"[^"]*"`), ""},
	{regexp.MustCompile(`"\w+":\s*\{[^}]*\}`), ""},
	{regexp.MustCompile(`"\w+":\s*(true|false|null|\d+)`), ""},
	{regexp.MustCompile(`[{}\[\]]`), ""},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "$1"},
	{regexp.MustCompile(`__(.+?)__`), "$1"},
	{regexp.MustCompile(`\*(.+?)\*`), "$1"},
	{regexp.MustCompile(`(?m)^#{1,6}\s*`), ""},
	{regexp.MustCompile(`(?m)^\s*[-*•]\s+`), ""},
	{regexp.MustCompile(`https?://\S+`), ""},
	{regexp.MustCompile(`"{2,}`), ""},
	{regexp.MustCompile(`\s+`), " "},
}

// Sanitize turns model or service output into plain speakable text. It
// returns "" when nothing speakable remains.
func Sanitize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	// A bare JSON object with a "text" field is unwrapped.
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") && gjson.Valid(text) {
		if v := gjson.Get(text, "text"); v.Exists() {
			text = v.String()
		}
	}

	text = strings.ReplaceAll(text, `\"`, `"`)
	for _, s := range sanitizers {
		text = s.re.ReplaceAllString(text, s.repl)
	}

	return strings.Trim(strings.TrimSpace(text), ",:;")
}
