package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haasonsaas/lore/internal/agent"
	"github.com/haasonsaas/lore/internal/tools"
)

const (
	defaultMaxResults = 50
	maxMatchText      = 200
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

var errResultLimit = errors.New("result limit reached")

// SearchParams are the arguments of search_code.
type SearchParams struct {
	Pattern    string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	DirPath    string `json:"dirPath,omitempty" jsonschema:"description=Directory to search (default project root)"`
	Glob       string `json:"glob,omitempty" jsonschema:"description=File name glob such as *.go"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"minimum=1,description=Maximum matches to return (default 50)"`
}

// SearchTool greps the project with a regular expression.
type SearchTool struct {
	resolver Resolver
	maxBytes int64
}

// NewSearchTool creates a search tool scoped to the project root.
func NewSearchTool(cfg Config) *SearchTool {
	return &SearchTool{resolver: Resolver{Root: cfg.Root}, maxBytes: cfg.maxBytes()}
}

// Definition returns the registry entry for the tool.
func (t *SearchTool) Definition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        "search_code",
		Description: "Search project files for a regular expression and return matching lines.",
		Parameters:  tools.ReflectSchema[SearchParams](),
		Handler:     t.Execute,
	}
}

// Execute walks the tree in lexical order and collects matches.
func (t *SearchTool) Execute(ctx context.Context, raw map[string]any, _ any) (any, error) {
	params, err := tools.DecodeParams[SearchParams](raw)
	if err != nil {
		return nil, err
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
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
		limit = defaultMaxResults
	}

	matches := make([]map[string]any, 0)
	truncated := false
	err = walkFiles(ctx, dir, params.Glob, func(path string, info fs.FileInfo) error {
		if info.Size() > t.maxBytes {
			return nil
		}
		found, err := t.searchFile(path, re, limit-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= limit {
			truncated = true
			return errResultLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errResultLimit) {
		return nil, err
	}
	return map[string]any{
		"matches":   matches,
		"total":     len(matches),
		"truncated": truncated,
	}, nil
}

func (t *SearchTool) searchFile(path string, re *regexp.Regexp, remaining int) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		return nil, nil
	}
	var out []map[string]any
	for i, text := range splitLines(string(data)) {
		if len(out) >= remaining {
			break
		}
		if !re.MatchString(text) {
			continue
		}
		out = append(out, map[string]any{
			"file": t.resolver.Rel(path),
			"line": i + 1,
			"text": clip(strings.TrimSpace(text), maxMatchText),
		})
	}
	return out, nil
}

// walkFiles visits regular files under dir that match glob, skipping
// dependency and VCS directories.
func walkFiles(ctx context.Context, dir, glob string, visit func(path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("walk %s: %w", filepath.Base(dir), err)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !matchGlob(glob, d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return visit(path, info)
	})
}

func validateGlob(glob string) error {
	if glob == "" {
		return nil
	}
	if _, err := filepath.Match(glob, ""); err != nil {
		return fmt.Errorf("invalid glob %q: %w", glob, err)
	}
	return nil
}

func matchGlob(glob, name string) bool {
	if glob == "" {
		return true
	}
	ok, _ := filepath.Match(glob, name)
	return ok
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
