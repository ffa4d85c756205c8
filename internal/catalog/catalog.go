// Package catalog maps format fingerprints to processing recipes. The catalog
// is loaded once from a JSON document at startup and read-only during a
// pipeline run; Register exists for the out-of-band format-registration
// workflow driven by an operator.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/mytaifex/taifex-pipeline/internal/cleaner"
	"github.com/mytaifex/taifex-pipeline/internal/domain"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Catalog is an in-memory view of the persisted fingerprint -> recipe map.
type Catalog struct {
	path     string
	registry *cleaner.Registry

	mu      sync.RWMutex
	recipes map[string]domain.Recipe
}

// Load reads and validates the catalog document. A missing or malformed
// document is fatal: the pipeline refuses to run without a usable catalog.
// Every recipe's cleaner name is checked against the registry here, so a
// recipe naming an unregistered cleaner fails at load, not at first use.
func Load(path string, registry *cleaner.Registry) (*Catalog, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read format catalog %s: %w", path, err)
	}

	recipes := make(map[string]domain.Recipe)
	if err := json.Unmarshal(payload, &recipes); err != nil {
		return nil, fmt.Errorf("failed to parse format catalog %s: %w", path, err)
	}

	for fingerprint, recipe := range recipes {
		if err := validateRecipe(recipe, registry); err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", fingerprint, err)
		}
	}

	return &Catalog{path: path, registry: registry, recipes: recipes}, nil
}

// New returns an empty catalog persisted at path, for bootstrapping a fresh
// deployment before any format has been registered.
func New(path string, registry *cleaner.Registry) *Catalog {
	return &Catalog{path: path, registry: registry, recipes: make(map[string]domain.Recipe)}
}

// Lookup returns the recipe for a fingerprint. A miss is not an error; it
// signals quarantine to the caller.
func (c *Catalog) Lookup(fingerprint string) (domain.Recipe, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recipe, ok := c.recipes[fingerprint]
	return recipe, ok
}

// Len reports the number of registered formats.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recipes)
}

// Fingerprints lists registered fingerprints, sorted.
func (c *Catalog) Fingerprints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.recipes))
	for fingerprint := range c.recipes {
		out = append(out, fingerprint)
	}
	sort.Strings(out)
	return out
}

// Register validates the recipe, adds it under the fingerprint, and persists
// the whole catalog document atomically (write to a temp file, then rename).
func (c *Catalog) Register(fingerprint string, recipe domain.Recipe) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if err := validateRecipe(recipe, c.registry); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous, existed := c.recipes[fingerprint]
	c.recipes[fingerprint] = recipe
	if err := c.persistLocked(); err != nil {
		if existed {
			c.recipes[fingerprint] = previous
		} else {
			delete(c.recipes, fingerprint)
		}
		return err
	}
	return nil
}

func (c *Catalog) persistLocked() error {
	payload, err := json.MarshalIndent(c.recipes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp catalog file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close catalog temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}

func validateRecipe(recipe domain.Recipe, registry *cleaner.Registry) error {
	if recipe.TargetTable == "" {
		return fmt.Errorf("target_table is required")
	}
	if !identifierPattern.MatchString(recipe.TargetTable) {
		return fmt.Errorf("target_table %q is not a valid identifier", recipe.TargetTable)
	}
	if len(recipe.UniqueKey) == 0 {
		return fmt.Errorf("unique_key is required")
	}
	for _, column := range recipe.UniqueKey {
		if !identifierPattern.MatchString(domain.NormalizeColumn(column)) {
			return fmt.Errorf("unique_key column %q is not a valid identifier", column)
		}
	}
	if recipe.CleanerFunction == "" {
		return fmt.Errorf("cleaner_function is required")
	}
	if registry != nil && !registry.Has(recipe.CleanerFunction) {
		return fmt.Errorf("cleaner_function %q is not registered", recipe.CleanerFunction)
	}
	switch recipe.ParserConfig.Format {
	case "", "csv", "xlsx":
	default:
		return fmt.Errorf("parser format %q is not supported", recipe.ParserConfig.Format)
	}
	switch recipe.ParserConfig.Encoding {
	case "", "utf-8", "utf8", "big5", "ms950":
	default:
		return fmt.Errorf("encoding %q is not supported", recipe.ParserConfig.Encoding)
	}
	return nil
}
