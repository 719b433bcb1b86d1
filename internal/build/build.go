// Package build models the bundler side of the pipeline: the result of a
// build and the lifecycle hooks fired when it is done.
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ca-x/asset-syncer/internal/files"
)

// Result is the output of one build. Hooks report failures through AddError.
type Result struct {
	OutputPath string   `json:"outputPath"`
	Assets     []string `json:"assets"`

	mu     sync.Mutex
	errors []error
}

func (r *Result) AddError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *Result) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors) > 0
}

func (r *Result) hasError(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.errors {
		if e == err || errors.Is(err, e) {
			return true
		}
	}
	return false
}

// LoadManifest reads a build manifest written by the bundler. A relative
// output path is resolved against the manifest's directory.
func LoadManifest(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if r.OutputPath == "" {
		return nil, fmt.Errorf("manifest %s has no outputPath", path)
	}
	if !filepath.IsAbs(r.OutputPath) {
		r.OutputPath = filepath.Join(filepath.Dir(path), r.OutputPath)
	}
	return &r, nil
}

// FromDirectory builds a result whose assets are the files below dir.
func FromDirectory(ctx context.Context, dir string) (*Result, error) {
	list, err := files.List(ctx, dir, nil)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Result{OutputPath: abs, Assets: files.Names(list)}, nil
}

// DoneFunc runs after a build finished.
type DoneFunc func(ctx context.Context, result *Result) error

type hook struct {
	name string
	fn   DoneFunc
}

// Hooks holds the callbacks registered by plugins.
type Hooks struct {
	mu   sync.Mutex
	done []hook
}

// NewHooks creates a hook set and lets every plugin register on it.
func NewHooks(plugins ...Plugin) *Hooks {
	h := &Hooks{}
	for _, p := range plugins {
		p.Apply(h)
	}
	return h
}

func (h *Hooks) OnDone(name string, fn DoneFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = append(h.done, hook{name: name, fn: fn})
}

// Done runs every done hook in registration order. A hook error that the
// hook did not record itself is added to the result; the joined errors are
// returned.
func (h *Hooks) Done(ctx context.Context, result *Result) error {
	h.mu.Lock()
	hooks := append([]hook(nil), h.done...)
	h.mu.Unlock()

	var errs []error
	for _, hk := range hooks {
		if err := hk.fn(ctx, result); err != nil {
			if !result.hasError(err) {
				result.AddError(fmt.Errorf("%s: %w", hk.name, err))
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Plugin hooks into a build.
type Plugin interface {
	Apply(hooks *Hooks)
}
