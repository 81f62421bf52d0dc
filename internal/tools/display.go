package tools

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/lore/pkg/models"
)

// MaxDetailLength caps the detail text of a call summary.
const MaxDetailLength = 80

type displaySpec struct {
	emoji      string
	label      string
	detailKeys []string
}

var displaySpecs = map[string]displaySpec{
	"read_file":        {"📖", "Reading", []string{"filePath"}},
	"search_code":      {"🔍", "Searching", []string{"pattern", "dirPath"}},
	"list_files":       {"📂", "Listing", []string{"dirPath", "glob"}},
	"submit_knowledge": {"📝", "Submitting", []string{"title"}},
}

// DescribeCall renders a one-line progress summary of a tool call, such as
// "📖 Reading: internal/config/loader.go".
func DescribeCall(call models.ToolCall) string {
	spec, ok := displaySpecs[call.Name]
	if !ok {
		spec = displaySpec{emoji: "🧩", label: call.Name}
	}
	summary := spec.emoji + " " + spec.label

	var details []string
	for _, key := range spec.detailKeys {
		if v := call.StringArg(key); v != "" {
			details = append(details, v)
		}
	}
	if start, ok := intArg(call.Args, "startLine"); ok && call.Name == "read_file" {
		if end, ok := intArg(call.Args, "endLine"); ok {
			details = append(details, fmt.Sprintf("lines %d-%d", start, end))
		} else {
			details = append(details, fmt.Sprintf("from line %d", start))
		}
	}
	if len(details) == 0 {
		return summary
	}
	return summary + ": " + trimToMaxLength(strings.Join(details, " "), MaxDetailLength)
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func trimToMaxLength(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
