package engine

import (
	"strings"

	"cogstream/internal/domain"
)

// parseActions scans text for `[REMEMBER ...]`, `[REFLECT ...]`, and
// `[ESCALATE ...]` tags, same bracket-scan/key="value" grammar as the
// tool marker parser (internal/tools/parser.go) but over a distinct tag
// set, since action tags are a separate concern from C6's tool markers
// and live in the engine rather than the executor.
func parseActions(text string) []domain.ActionInvocation {
	var out []domain.ActionInvocation
	i := 0
	for {
		start := strings.IndexByte(text[i:], '[')
		if start < 0 {
			break
		}
		start += i
		end := strings.IndexByte(text[start:], ']')
		if end < 0 {
			break
		}
		end += start
		body := strings.TrimSpace(text[start+1 : end])
		if inv, ok := parseActionBody(body); ok {
			out = append(out, inv)
		}
		i = end + 1
	}
	return out
}

func parseActionBody(body string) (domain.ActionInvocation, bool) {
	idx := strings.IndexAny(body, " \t")
	tag := body
	rest := ""
	if idx >= 0 {
		tag = body[:idx]
		rest = body[idx+1:]
	}
	var kind domain.ActionKind
	switch strings.ToUpper(tag) {
	case "REMEMBER":
		kind = domain.ActionRemember
	case "REFLECT":
		kind = domain.ActionReflect
	case "ESCALATE":
		kind = domain.ActionEscalate
	default:
		return domain.ActionInvocation{}, false
	}
	return domain.ActionInvocation{Kind: kind, Args: parseActionArgs(rest)}, true
}

// parseActionArgs parses key="value"/key=value pairs, tolerating quoted
// values with embedded spaces. A bare value with no key (e.g. a single
// free-text REFLECT body) is stored under the key "text".
func parseActionArgs(s string) map[string]string {
	args := map[string]string{}
	if !strings.Contains(s, "=") {
		if s != "" {
			args["text"] = s
		}
		return args
	}
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		eq += i
		key := strings.TrimSpace(s[i:eq])
		i = eq + 1
		if i < len(s) && s[i] == '"' {
			j := i + 1
			for j < len(s) && s[j] != '"' {
				j++
			}
			if j <= len(s) {
				args[key] = s[i+1 : j]
			}
			i = j + 1
		} else {
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' {
				j++
			}
			args[key] = s[i:j]
			i = j
		}
	}
	return args
}
