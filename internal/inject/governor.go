package inject

import (
	"regexp"
	"strings"
)

// Redacted replaces any line that reads like an instruction to the model.
const Redacted = "[redacted: instruction-like content]"

var rolePrefixRe = regexp.MustCompile(`(?i)^\s*(system|assistant|user|human|developer|tool|ai)\s*:\s*`)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override|bypass)\b.{0,40}\b(previous|prior|above|earlier|all|any|your|the)\b.{0,40}\b(instructions?|prompts?|rules|directions|guidelines|context)\b`),
	regexp.MustCompile(`(?i)\b(run|execute|exec)\b.{0,30}\b(this|the following|these|that)\b.{0,20}\b(commands?|scripts?|code)\b`),
	regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*f|\brm\s+-[a-z]*f[a-z]*r|\bcurl\b[^|\n]*\|\s*(ba|z)?sh\b|\bwget\b[^|\n]*\|\s*(ba|z)?sh\b`),
	regexp.MustCompile(`(?i)^\s*(you (must|should) )?(always|never)\s+\w+`),
	regexp.MustCompile(`(?i)\b(you are now|from now on|new instructions|system prompt|act as)\b`),
	regexp.MustCompile(`(?i)</?\s*(system|instructions?|prompt)\s*>`),
}

// Sanitize strips role prefixes and redacts instruction-like lines. It works
// on lines, so run it before any truncation. Text that only reads as an
// instruction once consecutive lines are joined is redacted on every line it
// spans.
func Sanitize(text string) string {
	lines := strings.Split(text, "\n")
	start := 0
	for j, line := range lines {
		for rolePrefixRe.MatchString(line) {
			line = rolePrefixRe.ReplaceAllString(line, "")
		}
		lines[j] = line
		if instructionLike(line) {
			lines[j] = Redacted
			start = j + 1
			continue
		}
		if !instructionLike(joinLines(lines[start : j+1])) {
			continue
		}
		k := j
		for k > start && !instructionLike(joinLines(lines[k:j+1])) {
			k--
		}
		for ; k <= j; k++ {
			lines[k] = Redacted
		}
		start = j + 1
	}
	return strings.Join(lines, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}

func instructionLike(line string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// preview sanitizes content, flattens it to one line and clips it to max
// runes. Runs of redacted lines collapse to a single marker.
func preview(content string, max int) string {
	var parts []string
	for _, line := range strings.Split(Sanitize(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == Redacted && len(parts) > 0 && parts[len(parts)-1] == Redacted {
			continue
		}
		parts = append(parts, line)
	}
	flat := joinLines(parts)
	r := []rune(flat)
	if max <= 0 || len(r) <= max {
		return flat
	}
	return string(r[:max-1]) + "…"
}
