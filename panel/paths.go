package panel

import (
	"sort"
	"strings"
)

// PathTable maps logical paths to concrete panel paths. Lookups try an
// exact match, then the longest prefix match at a segment boundary (the
// unmatched remainder is appended), then fall back to Root + logical.
type PathTable struct {
	Root     string
	Mappings map[string]string

	prefixes []string
}

// NewPathTable builds a table. The mappings map is copied.
func NewPathTable(root string, mappings map[string]string) *PathTable {
	t := &PathTable{
		Root:     strings.TrimRight(root, "/"),
		Mappings: make(map[string]string, len(mappings)),
	}
	for k, v := range mappings {
		k = cleanLogical(k)
		t.Mappings[k] = v
		t.prefixes = append(t.prefixes, k)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i]) > len(t.prefixes[j])
	})
	return t
}

// Merge returns a new table with overrides layered on top of t. An empty
// root in the override keeps t's root.
func (t *PathTable) Merge(root string, overrides map[string]string) *PathTable {
	merged := make(map[string]string, len(t.Mappings)+len(overrides))
	for k, v := range t.Mappings {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	if root == "" {
		root = t.Root
	}
	return NewPathTable(root, merged)
}

// Resolve returns the concrete path for logical.
func (t *PathTable) Resolve(logical string) string {
	logical = cleanLogical(logical)
	if concrete, ok := t.Mappings[logical]; ok {
		return concrete
	}
	for _, prefix := range t.prefixes {
		if prefix == "/" {
			continue
		}
		if strings.HasPrefix(logical, prefix+"/") {
			return strings.TrimRight(t.Mappings[prefix], "/") + logical[len(prefix):]
		}
	}
	if t.Root != "" && (logical == t.Root || strings.HasPrefix(logical, t.Root+"/")) {
		return logical
	}
	return t.Root + logical
}

func cleanLogical(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
