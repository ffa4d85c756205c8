// Package cleaner provides per-format data-cleaning routines and the registry
// that resolves them by the name a catalog recipe declares. Cleaners are pure:
// same input table, same output, no I/O.
package cleaner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mytaifex/taifex-pipeline/internal/domain"
)

// Func transforms a parsed table into its cleaned form.
type Func func(domain.Table) (domain.Table, error)

// Registry maps recipe-declared cleaner names to functions. Recipes are
// validated against it at catalog load time, so an unregistered name fails
// fast instead of at first invocation.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds a named cleaner. Registering the same name twice is an error.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("cleaner name is required")
	}
	if fn == nil {
		return fmt.Errorf("cleaner %s: function is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("cleaner %s already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Resolve returns the cleaner registered under name.
func (r *Registry) Resolve(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Has reports whether a cleaner is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Names lists registered cleaner names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry preloaded with the built-in cleaners.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := map[string]Func{
		"generic_trim":         GenericTrim,
		"taifex_daily_quotes":  TaifexDailyQuotes,
		"taifex_institutional": TaifexInstitutional,
	}
	for name, fn := range builtins {
		if err := r.Register(name, fn); err != nil {
			// Built-in names are compile-time constants; a clash is a bug.
			panic(err)
		}
	}
	return r
}
