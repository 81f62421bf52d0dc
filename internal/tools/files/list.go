package files

import (
	"context"
	"errors"
	"io/fs"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/tools"
)

const defaultMaxListed = 200

// ListParams are the arguments of list_files.
type ListParams struct {
	DirPath    string `json:"dirPath,omitempty" jsonschema:"description=Directory to list (default project root)"`
	Glob       string `json:"glob,omitempty" jsonschema:"description=File name glob such as *.md"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"minimum=1,description=Maximum paths to return (default 200)"`
}

// ListTool lists project files recursively.
type ListTool struct {
	resolver Resolver
}

// NewListTool creates a list tool scoped to the project root.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{resolver: Resolver{Root: cfg.Root}}
}

// Definition returns the registry entry for the tool.
func (t *ListTool) Definition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        "list_files",
		Description: "List files under a project directory, optionally filtered by a file name glob.",
		Parameters:  tools.ReflectSchema[ListParams](),
		Handler:     t.Execute,
	}
}

// Execute returns project-relative paths in lexical order.
func (t *ListTool) Execute(ctx context.Context, raw map[string]any, _ any) (any, error) {
	params, err := tools.DecodeParams[ListParams](raw)
	if err != nil {
		return nil, err
	}
	if err := validateGlob(params.Glob); err != nil {
		return nil, err
	}
	dir, err := t.resolver.Resolve(params.DirPath)
	if err != nil {
		return nil, err
	}
	limit := params.MaxResults
	if limit <= 0 {
		limit = defaultMaxListed
	}

	files := make([]string, 0)
	truncated := false
	err = walkFiles(ctx, dir, params.Glob, func(path string, _ fs.FileInfo) error {
		if len(files) >= limit {
			truncated = true
			return errResultLimit
		}
		files = append(files, t.resolver.Rel(path))
		return nil
	})
	if err != nil && !errors.Is(err, errResultLimit) {
		return nil, err
	}
	return map[string]any{
		"files":     files,
		"total":     len(files),
		"truncated": truncated,
	}, nil
}
