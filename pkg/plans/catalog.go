// Package plans maps subscription plan names to payment-provider price ids.
// The catalog lives in a YAML file and hot-reloads on change, so price
// rotations don't need a deploy.
package plans

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/garagebook/billing-api/pkg/observability"
)

// Plan describes a purchasable subscription plan
type Plan struct {
	Name        string `yaml:"name" json:"name"`
	PriceID     string `yaml:"price_id" json:"priceId"`
	DisplayName string `yaml:"display_name" json:"displayName"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// ErrUnknownPlan indicates the requested plan name is not in the catalog
var ErrUnknownPlan = errors.New("unknown plan")

// Catalog is a hot-reloadable plan catalog
type Catalog struct {
	path   string
	logger *observability.Logger

	mu    sync.RWMutex
	plans map[string]Plan

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCatalog loads the catalog from the YAML file at path. An empty path
// yields an empty catalog; checkout then requires raw price ids.
func NewCatalog(path string, logger *observability.Logger) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		logger: logger,
		plans:  make(map[string]Plan),
		done:   make(chan struct{}),
	}

	if path == "" {
		return c, nil
	}

	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read plan catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	plans := make(map[string]Plan, len(file.Plans))
	for _, p := range file.Plans {
		if p.Name == "" || p.PriceID == "" {
			return fmt.Errorf("plan catalog entry missing name or price_id")
		}
		plans[p.Name] = p
	}

	c.mu.Lock()
	c.plans = plans
	c.mu.Unlock()
	return nil
}

// ResolvePriceID returns the price id for a plan name
func (c *Catalog) ResolvePriceID(planName string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[planName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlan, planName)
	}
	return p.PriceID, nil
}

// PlanNameForPrice reverse-maps a price id to its plan name. Returns ""
// when no catalog entry carries the price.
func (c *Catalog) PlanNameForPrice(priceID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.plans {
		if p.PriceID == priceID {
			return p.Name
		}
	}
	return ""
}

// Plans returns all catalog entries
func (c *Catalog) Plans() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out
}

// Watch reloads the catalog when the file changes. Blocks until Close;
// run it in a goroutine.
func (c *Catalog) Watch() error {
	if c.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	c.watcher = watcher

	// Watch the directory; editors replace files on save, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				// Keep serving the last good catalog.
				c.logger.WithError(err).Warn("Plan catalog reload failed")
				continue
			}
			c.logger.WithField("path", c.path).Info("Plan catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.WithError(err).Warn("Plan catalog watcher error")
		case <-c.done:
			return nil
		}
	}
}

// Close stops the watcher
func (c *Catalog) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
