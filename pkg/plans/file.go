package plans

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/duetrack/duetrack/pkg/billing"
)

// planFile is the on-disk shape of a YAML plan catalog.
type planFile struct {
	Plans []*billing.Plan `yaml:"plans"`
}

// FileCatalog serves plans from a YAML file. Reload replaces the whole
// catalog atomically; a file that fails to parse leaves the previous
// catalog in place.
type FileCatalog struct {
	path string

	mu    sync.RWMutex
	plans map[string]*billing.Plan
}

// NewFileCatalog loads the catalog from path.
func NewFileCatalog(path string) (*FileCatalog, error) {
	c := &FileCatalog{
		path:  path,
		plans: make(map[string]*billing.Plan),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the catalog's file path.
func (c *FileCatalog) Path() string {
	return c.path
}

// Reload re-reads the file and swaps in the new plan set.
func (c *FileCatalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	var file planFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse plan file: %w", err)
	}

	plans := make(map[string]*billing.Plan, len(file.Plans))
	for _, p := range file.Plans {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid plan %q in %s: %w", p.ID, c.path, err)
		}
		if _, dup := plans[p.ID]; dup {
			return fmt.Errorf("duplicate plan %q in %s", p.ID, c.path)
		}
		plans[p.ID] = p
	}

	c.mu.Lock()
	c.plans = plans
	c.mu.Unlock()
	return nil
}

// Lookup returns the plan with the given ID, or billing.ErrPlanNotFound.
func (c *FileCatalog) Lookup(ctx context.Context, planID string) (*billing.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[planID]
	if !ok {
		return nil, billing.ErrPlanNotFound
	}
	copied := *p
	return &copied, nil
}

// List returns all plans ordered by ID.
func (c *FileCatalog) List(ctx context.Context) ([]*billing.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plans := make([]*billing.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		copied := *p
		plans = append(plans, &copied)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

// SaveFile writes a plan set to path in the catalog's YAML format.
func SaveFile(path string, plans []*billing.Plan) error {
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid plan %q: %w", p.ID, err)
		}
	}
	data, err := yaml.Marshal(&planFile{Plans: plans})
	if err != nil {
		return fmt.Errorf("failed to marshal plans: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}
