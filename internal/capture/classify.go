package capture

import (
	"regexp"
	"strings"
)

// Observation types.
const (
	TypeBugfix    = "bugfix"
	TypeFeature   = "feature"
	TypeRefactor  = "refactor"
	TypeDiscovery = "discovery"
	TypeDecision  = "decision"
	TypeChange    = "change"
)

var (
	bugfixRe    = regexp.MustCompile(`(?i)\b(fix(e[sd])?|bug(s|fix)?|hotfix|regression|crash(es|ed)?|broken|patch(ed)?|resolve[sd]? (the |an? )?(issue|error|failure))\b`)
	featureRe   = regexp.MustCompile(`(?i)\b(add(s|ed)? (a |an |the )?(new )?(support|feature|endpoint|command|option|flag|handler|test)s?|implement(s|ed|ing)?|introduc(e|es|ed|ing)|new feature|support for)\b`)
	refactorRe  = regexp.MustCompile(`(?i)\b(refactor(s|ed|ing)?|renam(e|es|ed|ing)|restructur(e|ed|ing)|clean(ed)? ?up|simplif(y|ied|ies)|extract(ed)? (a |the )?(method|function|helper|package))\b`)
	discoveryRe = regexp.MustCompile(`(?i)\b(found|discover(ed|y)|learn(ed|t)|turns out|realiz(e|ed)|noticed|it appears|root cause)\b`)

	gotchaRe  = regexp.MustCompile(`(?i)\b(gotcha|caveat|pitfall|watch out|be careful|beware|footgun|surprising(ly)?|note that)\b`)
	patternRe = regexp.MustCompile(`(?i)\b(pattern|convention|idiom(atic)?|best practice)\b`)
	causalRe  = regexp.MustCompile(`(?i)\b(because|the reason|due to|so that|which means|that's why)\b`)

	errorRe = regexp.MustCompile(`(?i)(\b(error|exception|traceback|panic|fatal):|\bfail(ed|ure)?\b)`)
)

var readTools = map[string]bool{
	"Read": true, "Grep": true, "Glob": true, "LS": true, "WebFetch": true, "WebSearch": true,
}

var writeTools = map[string]bool{
	"Edit": true, "MultiEdit": true, "Write": true, "NotebookEdit": true,
}

// rule classifies an observation or passes.
type rule struct {
	name  string
	apply func(tool, signal string) (string, bool)
}

func matching(re *regexp.Regexp, typ string) func(string, string) (string, bool) {
	return func(_, signal string) (string, bool) {
		return typ, re.MatchString(signal)
	}
}

func toolDefault(tool, _ string) (string, bool) {
	switch {
	case readTools[tool]:
		return TypeDiscovery, true
	case writeTools[tool]:
		return TypeChange, true
	}
	return "", false
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{"bugfix", matching(bugfixRe, TypeBugfix)},
	{"feature", matching(featureRe, TypeFeature)},
	{"refactor", matching(refactorRe, TypeRefactor)},
	{"tool-default", toolDefault},
	{"discovery", matching(discoveryRe, TypeDiscovery)},
}

// Classify returns the observation type for a tool call.
func Classify(tool, signal string) string {
	for _, r := range rules {
		if typ, ok := r.apply(tool, signal); ok {
			return typ
		}
	}
	return TypeChange
}

// Concepts returns up to three concept tags found in content.
func Concepts(content string) []string {
	var out []string
	if gotchaRe.MatchString(content) {
		out = append(out, "gotcha")
	}
	if patternRe.MatchString(content) {
		out = append(out, "pattern")
	}
	if causalRe.MatchString(content) {
		out = append(out, "how-it-works")
	}
	return out
}

// LooksLikeError reports whether output text reads as a failure.
func LooksLikeError(content string) bool {
	return errorRe.MatchString(content)
}

func firstLine(s string, max int) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return clip(line, max)
		}
	}
	return ""
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
