package intent

import (
	"fmt"
	"regexp"
	"strings"

	"lumen/internal/core"
)

// MatchKind tags which strategy a Matcher uses.
type MatchKind int

const (
	// MatchAlias: a trigger word followed by a known alias, e.g. "open notepad".
	MatchAlias MatchKind = iota
	// MatchPrefix: a leading phrase, the remainder becomes a parameter.
	MatchPrefix
	// MatchPattern: a regular expression with named groups.
	MatchPattern
)

func (k MatchKind) String() string {
	switch k {
	case MatchAlias:
		return "alias"
	case MatchPrefix:
		return "prefix"
	case MatchPattern:
		return "pattern"
	default:
		return fmt.Sprintf("MatchKind(%d)", int(k))
	}
}

// Matcher is a data-declared matching rule. Only the fields relevant to Kind
// are read. Matchers are pure: the same text always yields the same result.
type Matcher struct {
	Kind  MatchKind
	Score float64

	// Param names the parameter filled by Alias and Prefix matchers.
	Param string

	// Alias
	Triggers []string
	Aliases  map[string]string // spoken alias -> canonical value

	// Prefix
	Prefixes []string

	// Pattern
	Pattern  *regexp.Regexp
	Defaults map[string]string
}

// Alias builds an alias matcher. Aliases keys are matched case-insensitively.
func Alias(param string, score float64, triggers []string, aliases map[string]string) Matcher {
	norm := make(map[string]string, len(aliases))
	for k, v := range aliases {
		norm[Normalize(strings.ToLower(k))] = v
	}
	return Matcher{
		Kind:     MatchAlias,
		Score:    score,
		Param:    param,
		Triggers: lowerAll(triggers),
		Aliases:  norm,
	}
}

func Prefix(param string, score float64, prefixes ...string) Matcher {
	return Matcher{
		Kind:     MatchPrefix,
		Score:    score,
		Param:    param,
		Prefixes: lowerAll(prefixes),
	}
}

// Pattern compiles expr case-insensitively and panics on a bad expression;
// patterns are declared at startup.
func Pattern(expr string, score float64, defaults map[string]string) Matcher {
	return Matcher{
		Kind:     MatchPattern,
		Score:    score,
		Pattern:  regexp.MustCompile(`(?i)^(?:` + expr + `)$`),
		Defaults: defaults,
	}
}

// Match reports whether text matches and which params it extracted.
func (m Matcher) Match(text string) (core.Params, bool) {
	text = Normalize(text)
	if text == "" {
		return nil, false
	}

	switch m.Kind {
	case MatchAlias:
		return m.matchAlias(text)
	case MatchPrefix:
		return m.matchPrefix(text)
	case MatchPattern:
		return m.matchPattern(text)
	}
	return nil, false
}

func (m Matcher) matchAlias(text string) (core.Params, bool) {
	lower := strings.ToLower(text)
	for _, trig := range m.Triggers {
		rest, ok := cutWord(lower, trig)
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, "the ")
		rest = strings.TrimSpace(strings.TrimSuffix(rest, " app"))
		if canonical, ok := m.Aliases[rest]; ok {
			return core.Params{m.Param: canonical}, true
		}
	}
	return nil, false
}

func (m Matcher) matchPrefix(text string) (core.Params, bool) {
	lower := strings.ToLower(text)
	for _, p := range m.Prefixes {
		if _, ok := cutWord(lower, p); !ok {
			continue
		}
		// Slice the original to keep the speaker's casing; lowering can change
		// byte length for some scripts, in which case fall back to lower.
		src := text
		if len(src) != len(lower) {
			src = lower
		}
		rest := strings.TrimSpace(src[len(p):])
		if rest == "" {
			continue
		}
		return core.Params{m.Param: rest}, true
	}
	return nil, false
}

func (m Matcher) matchPattern(text string) (core.Params, bool) {
	if m.Pattern == nil {
		return nil, false
	}
	sub := m.Pattern.FindStringSubmatchIndex(text)
	if sub == nil {
		return nil, false
	}

	params := core.Params{}
	for i, name := range m.Pattern.SubexpNames() {
		if name == "" {
			continue
		}
		if sub[2*i] >= 0 {
			if v := strings.TrimSpace(text[sub[2*i]:sub[2*i+1]]); v != "" {
				params[name] = v
				continue
			}
		}
	}
	// Defaults fill anything the pattern did not capture, including tags
	// that are not group names at all.
	for k, v := range m.Defaults {
		if _, ok := params[k]; !ok && v != "" {
			params[k] = v
		}
	}
	return params, true
}

// cutWord strips prefix from s when it is followed by a word boundary.
func cutWord(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	rest := s[len(prefix):]
	if rest != "" && rest[0] != ' ' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

var (
	spaceRe   = regexp.MustCompile(`\s+`)
	apostroph = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)
)

// Normalize trims, collapses whitespace, folds typographic quotes and strips
// trailing punctuation. Case is preserved.
func Normalize(text string) string {
	text = apostroph.Replace(text)
	text = spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.TrimRight(text, ".?!, ")
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, Normalize(strings.ToLower(s)))
	}
	return out
}
