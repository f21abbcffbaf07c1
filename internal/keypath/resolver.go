// Package keypath maps resource keys onto files below a content root through a
// configurable template. The template sees the raw key and the usual sprig
// helpers, minus anything that touches the filesystem or the environment, and
// rendered paths are pinned below the root so a hostile key cannot traverse
// out of it.
package keypath

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// DefaultPattern stores each key verbatim as a relative path.
const DefaultPattern = "{{ .Key }}"

// Resolver renders key-to-path templates. Safe for concurrent use.
type Resolver struct {
	root string
	tmpl *template.Template
}

// NewResolver compiles the pattern against a cleaned content root.
func NewResolver(root, pattern string) (*Resolver, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("keypath: content root required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("keypath: resolve root: %w", err)
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}

	funcs := sprig.TxtFuncMap()
	// Paths must stay a pure function of the key: drop helpers that reach
	// into the process environment or the filesystem.
	restricted := []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	}
	for _, name := range restricted {
		delete(funcs, name)
	}

	tmpl, err := template.New("keypath").Funcs(funcs).Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("keypath: parse pattern %q: %w", pattern, err)
	}
	return &Resolver{root: absRoot, tmpl: tmpl}, nil
}

// Root returns the cleaned content root.
func (r *Resolver) Root() string { return r.root }

// Resolve renders the absolute path for key, rejecting results that escape the
// content root.
func (r *Resolver) Resolve(key string) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, struct{ Key string }{Key: key}); err != nil {
		return "", fmt.Errorf("keypath: render %q: %w", key, err)
	}
	rendered := strings.TrimSpace(buf.String())
	if rendered == "" {
		return "", fmt.Errorf("keypath: key %q rendered to an empty path", key)
	}

	joined := filepath.Clean(filepath.Join(r.root, filepath.FromSlash(rendered)))
	if joined != r.root && !strings.HasPrefix(joined, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("keypath: key %q escapes content root", key)
	}
	return joined, nil
}
