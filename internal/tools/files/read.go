// Package files provides the read-only project exploration tools.
package files

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/tools"
)

// DefaultMaxFileBytes bounds how much of a single file a tool will load.
const DefaultMaxFileBytes int64 = 1 << 20

// Config controls the file tools.
type Config struct {
	Root         string
	MaxFileBytes int64
}

func (c Config) maxBytes() int64 {
	if c.MaxFileBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return c.MaxFileBytes
}

// Register adds read_file, search_code and list_files to registry.
func Register(registry *agent.ToolRegistry, cfg Config) error {
	for _, def := range []agent.ToolDefinition{
		NewReadTool(cfg).Definition(),
		NewSearchTool(cfg).Definition(),
		NewListTool(cfg).Definition(),
	} {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// ReadParams are the arguments of read_file. Lines are 1-based and inclusive.
type ReadParams struct {
	FilePath  string `json:"filePath" jsonschema:"required,description=File path relative to the project root"`
	StartLine int    `json:"startLine,omitempty" jsonschema:"minimum=1,description=First line to return (default 1)"`
	EndLine   int    `json:"endLine,omitempty" jsonschema:"minimum=1,description=Last line to return (default end of file)"`
}

// ReadTool returns a line range of one file.
type ReadTool struct {
	resolver Resolver
	maxBytes int64
}

// NewReadTool creates a read tool scoped to the project root.
func NewReadTool(cfg Config) *ReadTool {
	return &ReadTool{resolver: Resolver{Root: cfg.Root}, maxBytes: cfg.maxBytes()}
}

// Definition returns the registry entry for the tool.
func (t *ReadTool) Definition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        "read_file",
		Description: "Read a text file from the project, optionally limited to a line range.",
		Parameters:  tools.ReflectSchema[ReadParams](),
		Handler:     t.Execute,
	}
}

// Execute reads the requested lines.
func (t *ReadTool) Execute(_ context.Context, raw map[string]any, _ any) (any, error) {
	params, err := tools.DecodeParams[ReadParams](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.FilePath) == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	resolved, err := t.resolver.Resolve(params.FilePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory; use list_files", params.FilePath)
	}
	if info.Size() > t.maxBytes {
		return nil, fmt.Errorf("%s is %d bytes, over the %d byte limit", params.FilePath, info.Size(), t.maxBytes)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if isBinary(data) {
		return nil, fmt.Errorf("%s looks like a binary file", params.FilePath)
	}

	lines := splitLines(string(data))
	total := len(lines)
	start := params.StartLine
	if start < 1 {
		start = 1
	}
	end := params.EndLine
	if end < 1 || end > total {
		end = total
	}
	if total > 0 && start > total {
		return nil, fmt.Errorf("startLine %d is past the end of the file (%d lines)", start, total)
	}
	if end < start {
		return nil, fmt.Errorf("endLine %d is before startLine %d", end, start)
	}

	var content string
	if total > 0 {
		content = strings.Join(lines[start-1:end], "\n")
	}
	return map[string]any{
		"path":       t.resolver.Rel(resolved),
		"content":    content,
		"startLine":  start,
		"endLine":    end,
		"totalLines": total,
		"truncated":  start > 1 || end < total,
	}, nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// isBinary reports whether the first block of data contains a NUL byte.
func isBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}
