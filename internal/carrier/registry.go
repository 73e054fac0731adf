// Package carrier maps carrier names to their portal configuration and
// category priority tables.
package carrier

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

// Priorities assigned to categories.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Category is the classification of one portal or notification category.
type Category struct {
	Priority       string `yaml:"priority" json:"priority"`
	ActionRequired bool   `yaml:"action_required" json:"action_required"`
}

// Carrier is a registry entry.
type Carrier struct {
	Name       string              `yaml:"name" json:"name"`
	Config     model.ScraperConfig `yaml:"config" json:"config"`
	Categories map[string]Category `yaml:"categories" json:"categories,omitempty"`
}

// Registry looks carriers up by case-insensitive name. It is read-only after
// construction.
type Registry struct {
	carriers map[string]Carrier
}

// NewRegistry builds a registry from carriers. Later entries replace earlier
// ones with the same name.
func NewRegistry(carriers ...Carrier) *Registry {
	r := &Registry{carriers: make(map[string]Carrier, len(carriers))}
	for _, c := range carriers {
		r.put(c)
	}
	return r
}

func (r *Registry) put(c Carrier) {
	c.Name = strings.ToUpper(strings.TrimSpace(c.Name))
	if c.Config.Carrier == "" {
		c.Config.Carrier = c.Name
	}
	r.carriers[c.Name] = c
}

type fileEntry struct {
	Name       string              `yaml:"name"`
	Config     yaml.Node           `yaml:"config"`
	Categories map[string]Category `yaml:"categories"`
}

type file struct {
	Carriers []fileEntry `yaml:"carriers"`
}

// Load returns the built-in carriers overlaid with the YAML file at path, if
// any. Config keys present in the file replace built-in values; ${VAR}
// references are expanded from the environment.
func Load(path string) (*Registry, error) {
	base := make(map[string]Carrier)
	for _, c := range Builtins() {
		base[c.Name] = c
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "carrier: read %s", path)
		}
		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrapf(err, "carrier: parse %s", path)
		}
		for _, e := range f.Carriers {
			name := strings.ToUpper(strings.TrimSpace(e.Name))
			if name == "" {
				return nil, eris.Errorf("carrier: %s: entry without name", path)
			}
			c, ok := base[name]
			if !ok {
				c = Carrier{Name: name}
			}
			if !e.Config.IsZero() {
				if err := e.Config.Decode(&c.Config); err != nil {
					return nil, eris.Wrapf(err, "carrier: decode config for %s", name)
				}
			}
			if len(e.Categories) > 0 {
				if c.Categories == nil {
					c.Categories = make(map[string]Category, len(e.Categories))
				}
				for k, v := range e.Categories {
					c.Categories[strings.ToLower(strings.TrimSpace(k))] = v
				}
			}
			base[name] = c
		}
		zap.L().Info("carrier: loaded carriers file", zap.String("path", path), zap.Int("entries", len(f.Carriers)))
	}

	r := NewRegistry()
	for _, c := range base {
		c.Config = expand(c.Config)
		r.put(c)
	}
	return r, nil
}

func expand(cfg model.ScraperConfig) model.ScraperConfig {
	cfg.Username = os.ExpandEnv(cfg.Username)
	cfg.Password = os.ExpandEnv(cfg.Password)
	cfg.ProfileID = os.ExpandEnv(cfg.ProfileID)
	cfg.LoginURL = os.ExpandEnv(cfg.LoginURL)
	cfg.PortalURL = os.ExpandEnv(cfg.PortalURL)
	for k, v := range cfg.Headers {
		cfg.Headers[k] = os.ExpandEnv(v)
	}
	return cfg
}

// Get returns the carrier registered under name.
func (r *Registry) Get(name string) (Carrier, error) {
	c, ok := r.carriers[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Carrier{}, apperr.New(apperr.NotFound, "unknown carrier: "+name)
	}
	return c, nil
}

// List returns all carriers sorted by name with passwords redacted.
func (r *Registry) List() []Carrier {
	out := make([]Carrier, 0, len(r.carriers))
	for _, c := range r.carriers {
		c.Config = c.Config.Redacted()
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Priority returns the priority of category for carrier, or PriorityLow when
// either is unknown.
func (r *Registry) Priority(carrier, category string) string {
	if cat, ok := r.category(carrier, category); ok && cat.Priority != "" {
		return cat.Priority
	}
	return PriorityLow
}

// ActionRequired reports whether category needs agent follow-up.
func (r *Registry) ActionRequired(carrier, category string) bool {
	cat, _ := r.category(carrier, category)
	return cat.ActionRequired
}

func (r *Registry) category(carrier, category string) (Category, bool) {
	c, ok := r.carriers[strings.ToUpper(strings.TrimSpace(carrier))]
	if !ok {
		return Category{}, false
	}
	cat, ok := c.Categories[strings.ToLower(strings.TrimSpace(category))]
	return cat, ok
}
