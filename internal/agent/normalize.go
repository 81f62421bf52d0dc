package agent

import (
	"sort"
	"strings"
	"unicode"
)

// paramAliases maps synonyms backends emit onto canonical parameter names.
// Candidates are tried in order; the first one the tool declares wins.
var paramAliases = map[string][]string{
	"path":      {"filePath", "dirPath"},
	"file":      {"filePath"},
	"filename":  {"filePath"},
	"fileName":  {"filePath"},
	"file_name": {"filePath"},
	"dir":       {"dirPath"},
	"directory": {"dirPath"},
	"folder":    {"dirPath"},
	"query":     {"pattern"},
	"q":         {"pattern"},
	"search":    {"pattern"},
	"regex":     {"pattern"},
	"limit":     {"maxResults"},
	"max":       {"maxResults"},
	"start":     {"startLine"},
	"end":       {"endLine"},
	"name":      {"title"},
	"body":      {"summary"},
	"content":   {"summary"},
}

// Resolution tiers, lowest first. When two keys land on the same declared
// name the lower tier wins; ties go to the lexically smaller key.
const (
	tierExact = iota
	tierSnake
	tierFold
	tierAlias
	tierUnresolved
)

// NormalizeParams rewrites argument names onto the names a tool declares.
// Each key is resolved by exact match, then snake_case to camelCase
// conversion, then case folding, then the alias table; unresolved keys pass
// through. The result does not depend on map iteration order.
func NormalizeParams(raw map[string]any, declared []string) map[string]any {
	out := make(map[string]any, len(raw))
	if len(declared) == 0 {
		for k, v := range raw {
			out[k] = v
		}
		return out
	}

	exact := make(map[string]bool, len(declared))
	folded := make(map[string]string, len(declared))
	for _, name := range declared {
		exact[name] = true
		folded[foldKey(name)] = name
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type pick struct {
		key  string
		tier int
	}
	chosen := make(map[string]pick, len(raw))
	for _, k := range keys {
		target, tier := resolveParam(k, exact, folded)
		if prev, ok := chosen[target]; ok && prev.tier <= tier {
			continue
		}
		chosen[target] = pick{key: k, tier: tier}
	}
	for target, p := range chosen {
		out[target] = raw[p.key]
	}
	return out
}

func resolveParam(key string, exact map[string]bool, folded map[string]string) (string, int) {
	if exact[key] {
		return key, tierExact
	}
	if camel := snakeToCamel(key); exact[camel] {
		return camel, tierSnake
	}
	if name, ok := folded[foldKey(key)]; ok {
		return name, tierFold
	}
	for _, candidate := range paramAliases[key] {
		if exact[candidate] {
			return candidate, tierAlias
		}
	}
	for _, candidate := range paramAliases[strings.ToLower(key)] {
		if exact[candidate] {
			return candidate, tierAlias
		}
	}
	return key, tierUnresolved
}

func snakeToCamel(s string) string {
	if !strings.ContainsAny(s, "_-") {
		return s
	}
	var b strings.Builder
	upper := false
	for i, r := range s {
		if r == '_' || r == '-' {
			upper = i > 0
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func foldKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
