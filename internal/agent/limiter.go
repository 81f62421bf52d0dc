package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	agentctx "github.com/haasonsaas/lore/internal/agent/context"
)

const (
	// SubmitResultLimit is the fixed ceiling for terminal-action results.
	SubmitResultLimit = 500

	// maxContextLines caps multi-line fields inside a single search match.
	maxContextLines = 7
)

// matchListKeys are the fields searched for the match list of a search result.
var matchListKeys = []string{"matches", "results", "items", "files"}

func isSearchTool(name string) bool {
	return strings.Contains(name, "search") || strings.Contains(name, "grep") || strings.HasPrefix(name, "find")
}

func isReadTool(name string) bool {
	return strings.Contains(name, "read")
}

// LimitToolResult renders a raw tool result as text that fits quota.
//
// Submit results, as flagged by the caller, are cut only at SubmitResultLimit. Search results keep at
// most quota.MaxMatches entries with long context fields shortened. Read
// results are cut on line boundaries. Everything else is cut at
// quota.MaxChars. Every cut leaves a marker naming the original size.
func LimitToolResult(toolName string, raw any, quota agentctx.Quota, submit bool) string {
	if quota.MaxChars <= 0 {
		quota.MaxChars = agentctx.QuotaForRatio(0).MaxChars
	}
	if quota.MaxMatches <= 0 {
		quota.MaxMatches = agentctx.QuotaForRatio(0).MaxMatches
	}
	if _, failed := errorPayload(raw); failed {
		return truncateChars(stringify(raw), quota.MaxChars)
	}

	switch {
	case submit:
		return truncateChars(stringify(raw), SubmitResultLimit)
	case isSearchTool(toolName):
		return limitSearch(raw, quota)
	case isReadTool(toolName):
		return limitRead(raw, quota.MaxChars)
	default:
		return truncateChars(stringify(raw), quota.MaxChars)
	}
}

func limitSearch(raw any, quota agentctx.Quota) string {
	generic := toGeneric(raw)

	var matches []any
	var container map[string]any
	var listKey string
	switch v := generic.(type) {
	case []any:
		matches = v
	case map[string]any:
		for _, key := range matchListKeys {
			if list, ok := v[key].([]any); ok {
				container, listKey, matches = v, key, list
				break
			}
		}
	}
	if matches == nil {
		return truncateChars(stringify(raw), quota.MaxChars)
	}

	total := len(matches)
	kept := matches
	if total > quota.MaxMatches {
		kept = matches[:quota.MaxMatches]
	}
	trimmed := make([]any, len(kept))
	for i, m := range kept {
		trimmed[i] = trimMatch(m)
	}

	var out any = trimmed
	if container != nil {
		copied := make(map[string]any, len(container)+1)
		for k, v := range container {
			copied[k] = v
		}
		copied[listKey] = trimmed
		if total > len(kept) {
			copied["truncated"] = fmt.Sprintf("showing %d of %d matches", len(kept), total)
		}
		out = copied
	} else if total > len(kept) {
		out = map[string]any{
			"matches":   trimmed,
			"truncated": fmt.Sprintf("showing %d of %d matches", len(kept), total),
		}
	}
	return truncateChars(stringify(out), quota.MaxChars)
}

// trimMatch shortens every multi-line string field of a match.
func trimMatch(m any) any {
	switch v := m.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, field := range v {
			if s, ok := field.(string); ok {
				out[k] = trimLines(s, maxContextLines)
				continue
			}
			out[k] = field
		}
		return out
	case string:
		return trimLines(v, maxContextLines)
	default:
		return m
	}
}

func trimLines(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[:maxLines], "\n") + fmt.Sprintf("\n... [%d more lines truncated]", len(lines)-maxLines)
}

func limitRead(raw any, maxChars int) string {
	text := stringify(raw)
	header := ""
	if m, ok := toGeneric(raw).(map[string]any); ok {
		if content, ok := m["content"].(string); ok {
			text = content
			if path, ok := m["path"].(string); ok && path != "" {
				header = "File: " + path + "\n"
			}
		}
	}

	size := utf8.RuneCountInString(text)
	budget := maxChars - utf8.RuneCountInString(header)
	if size <= budget {
		return header + text
	}

	lines := strings.Split(text, "\n")
	var b strings.Builder
	used, kept := 0, 0
	for _, line := range lines {
		n := utf8.RuneCountInString(line) + 1
		if used+n > budget {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		used += n
		kept++
	}
	return fmt.Sprintf("%s%s...[truncated at line %d of %d; original %d chars]",
		header, b.String(), kept+1, len(lines), size)
}

func truncateChars(s string, maxChars int) string {
	size := utf8.RuneCountInString(s)
	if size <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars]) + fmt.Sprintf("\n...[truncated: original %d chars]", size)
}

func errorPayload(raw any) (string, bool) {
	m, ok := raw.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	msg, ok := m["error"].(string)
	return msg, ok
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(payload)
}

// toGeneric converts typed results into maps and slices.
func toGeneric(raw any) any {
	switch v := raw.(type) {
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
		return v
	case map[string]any, []any:
		return v
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return raw
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return raw
	}
	return decoded
}
