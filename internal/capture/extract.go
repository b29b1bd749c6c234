package capture

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// textFields are result keys that carry tool output, in preference order.
var textFields = []string{"stdout", "output", "content", "text", "result", "message", "stderr"}

// ResultText pulls readable text out of a tool result, which may be a JSON
// string, an object with output fields, or an array of text blocks.
func ResultText(raw json.RawMessage, max int) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return clipBytes(string(raw), max)
	}
	var parts []string
	collectText(v, &parts, 0)
	return clipBytes(strings.Join(parts, "\n"), max)
}

func collectText(v any, parts *[]string, depth int) {
	if depth > 3 {
		return
	}
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) != "" {
			*parts = append(*parts, t)
		}
	case []any:
		for _, item := range t {
			collectText(item, parts, depth+1)
		}
	case map[string]any:
		for _, key := range textFields {
			if val, ok := t[key]; ok {
				collectText(val, parts, depth+1)
			}
		}
		if file, ok := t["file"].(map[string]any); ok {
			collectText(file["content"], parts, depth+1)
		}
	}
}

// ResultFailed reports whether a structured result flags an error.
func ResultFailed(raw json.RawMessage) bool {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	for _, key := range []string{"is_error", "isError", "interrupted"} {
		if b, ok := obj[key].(bool); ok && b {
			return true
		}
	}
	for _, key := range []string{"exit_code", "exitCode", "returnCode"} {
		if n, ok := obj[key].(float64); ok && n != 0 {
			return true
		}
	}
	return false
}

// inputFields decodes a tool input object; non-objects yield nil.
func inputFields(raw json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func str(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// InputText flattens the descriptive parts of a tool input for classification.
func InputText(raw json.RawMessage) string {
	obj := inputFields(raw)
	var parts []string
	for _, key := range []string{"description", "command", "file_path", "pattern", "query", "url", "prompt", "old_string", "new_string"} {
		if s := str(obj, key); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Title names an observation after the most descriptive input field.
func Title(tool string, raw json.RawMessage) string {
	obj := inputFields(raw)
	if d := str(obj, "description"); d != "" {
		return clip(d, 100)
	}
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if p := str(obj, key); p != "" {
			return clip(tool+" "+p, 100)
		}
	}
	if c := str(obj, "command"); c != "" {
		return clip("$ "+firstLine(c, 80), 100)
	}
	for _, key := range []string{"pattern", "url", "query"} {
		if s := str(obj, key); s != "" {
			return clip(tool+" "+s, 100)
		}
	}
	return tool
}

// FileOps returns the paths a tool call read and modified.
func FileOps(tool string, raw json.RawMessage) (read, modified []string) {
	obj := inputFields(raw)
	if obj == nil {
		return nil, nil
	}
	if cmd := str(obj, "command"); cmd != "" {
		return ShellFileOps(cmd)
	}

	var paths []string
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if p := str(obj, key); p != "" {
			paths = append(paths, p)
		}
	}
	if list, ok := obj["paths"].([]any); ok {
		for _, item := range list {
			if p, ok := item.(string); ok && p != "" {
				paths = append(paths, p)
			}
		}
	}
	if writeTools[tool] {
		return nil, paths
	}
	return paths, nil
}

var shellReaders = map[string]bool{
	"cat": true, "head": true, "tail": true, "less": true, "more": true, "wc": true,
	"diff": true, "sort": true, "uniq": true, "jq": true, "stat": true, "file": true,
}

var shellSearchers = map[string]bool{"grep": true, "rg": true, "egrep": true, "ag": true}

var shellWriters = map[string]bool{"touch": true, "rm": true, "tee": true, "truncate": true}

// ShellFileOps is a best-effort parse of file reads and writes in a shell
// command line.
func ShellFileOps(cmd string) (read, modified []string) {
	replacer := strings.NewReplacer("&&", "\n", "||", "\n", ";", "\n", "|", "\n")
	for _, segment := range strings.Split(replacer.Replace(cmd), "\n") {
		fields := strings.Fields(segment)
		var args []string
		for i := 0; i < len(fields); i++ {
			f := strings.Trim(fields[i], `"'`)
			switch {
			case f == ">" || f == ">>":
				if i+1 < len(fields) {
					modified = appendPath(modified, strings.Trim(fields[i+1], `"'`))
					i++
				}
			case strings.HasPrefix(f, ">>"):
				modified = appendPath(modified, f[2:])
			case strings.HasPrefix(f, ">"):
				modified = appendPath(modified, f[1:])
			case strings.Contains(f, ">&"), strings.HasPrefix(f, "2>"):
			default:
				args = append(args, f)
			}
		}

		// Skip env assignments and sudo.
		for len(args) > 0 && (args[0] == "sudo" || (strings.Contains(args[0], "=") && !strings.HasPrefix(args[0], "-"))) {
			args = args[1:]
		}
		if len(args) == 0 {
			continue
		}
		name := filepath.Base(args[0])
		operands, inPlace := splitFlags(args[1:])

		switch {
		case shellReaders[name]:
			for _, o := range operands {
				read = appendPath(read, o)
			}
		case shellSearchers[name]:
			if len(operands) > 1 {
				for _, o := range operands[1:] {
					read = appendPath(read, o)
				}
			}
		case shellWriters[name]:
			for _, o := range operands {
				modified = appendPath(modified, o)
			}
		case name == "cp" && len(operands) >= 2:
			for _, o := range operands[:len(operands)-1] {
				read = appendPath(read, o)
			}
			modified = appendPath(modified, operands[len(operands)-1])
		case name == "mv" && len(operands) >= 2:
			for _, o := range operands {
				modified = appendPath(modified, o)
			}
		case name == "sed" && inPlace && len(operands) >= 2:
			for _, o := range operands[1:] {
				modified = appendPath(modified, o)
			}
		}
	}
	return read, modified
}

func splitFlags(args []string) (operands []string, inPlace bool) {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			if strings.HasPrefix(a, "-i") || a == "--in-place" {
				inPlace = true
			}
			continue
		}
		operands = append(operands, a)
	}
	return operands, inPlace
}

func appendPath(paths []string, p string) []string {
	p = strings.Trim(p, `"'`)
	if p == "" || p == "/dev/null" || strings.HasPrefix(p, "&") || strings.ContainsAny(p, "$`*") {
		return paths
	}
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}

var commentPrefixes = []string{"//", "#", "--", "/*", "*", ";", "<!--"}

// FactLines picks up to max short, unindented, non-comment lines that read
// like statements.
func FactLines(content string, max int) []string {
	var out []string
	seen := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		if len(out) >= max {
			break
		}
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		t := strings.TrimSpace(line)
		if len(t) < 20 || len(t) > 200 || seen[t] || isComment(t) {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func isComment(line string) bool {
	for _, p := range commentPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func clipBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// Back up to a rune boundary.
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
