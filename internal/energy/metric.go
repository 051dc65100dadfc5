// Package energy turns a session's query count into per-turn "energy used"
// analogies that replay identically from the recorded metric ids.
package energy

import (
	"errors"
	"fmt"
	"strings"
)

// UnitSeconds marks metrics whose values are durations.
const UnitSeconds = "seconds"

// ErrUnknownMetric is returned when a record names a metric missing from the catalog.
var ErrUnknownMetric = errors.New("unknown comparison metric")

// Metric is one comparison the sidecar can show.
// Template renders a single turn's caption and Scaled renders the
// population-scale projection; both contain exactly one {value}.
type Metric struct {
	ID       string
	Emoji    string
	Template string
	Scaled   string
	Factor   float64
	Unit     string
}

// DefaultCatalog returns the built-in metrics. The microwave comparison
// (0.1 s of microwave time per query) comes first and is the fixed choice.
func DefaultCatalog() []Metric {
	return []Metric{
		{
			ID:       "microwave",
			Emoji:    "🍿",
			Template: "microwaving food for {value} seconds.",
			Scaled:   "running a microwave for {value}",
			Factor:   0.1,
			Unit:     UnitSeconds,
		},
		{
			ID:       "led_bulb",
			Emoji:    "💡",
			Template: "keeping a 10 W LED bulb lit for {value} seconds.",
			Scaled:   "keeping an LED bulb lit for {value}",
			Factor:   10,
			Unit:     UnitSeconds,
		},
		{
			ID:       "laptop",
			Emoji:    "💻",
			Template: "powering a laptop for {value} seconds.",
			Scaled:   "powering a laptop for {value}",
			Factor:   2,
			Unit:     UnitSeconds,
		},
		{
			ID:       "stairs",
			Emoji:    "🪜",
			Template: "climbing {value} stairs.",
			Scaled:   "climbing {value}",
			Factor:   0.85,
			Unit:     "stairs",
		},
	}
}

// Catalog is an immutable, ordered set of metrics.
type Catalog struct {
	metrics []Metric
	byID    map[string]Metric
}

// NewCatalog validates metrics and indexes them by id.
func NewCatalog(metrics []Metric) (*Catalog, error) {
	if len(metrics) == 0 {
		return nil, errors.New("energy catalog is empty")
	}
	c := &Catalog{
		metrics: append([]Metric(nil), metrics...),
		byID:    make(map[string]Metric, len(metrics)),
	}
	for _, m := range metrics {
		if m.ID == "" {
			return nil, errors.New("metric id is required")
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate metric id %q", m.ID)
		}
		if strings.Count(m.Template, placeholder) != 1 {
			return nil, fmt.Errorf("metric %q: template must contain exactly one %s", m.ID, placeholder)
		}
		if m.Scaled != "" && strings.Count(m.Scaled, placeholder) != 1 {
			return nil, fmt.Errorf("metric %q: scaled template must contain exactly one %s", m.ID, placeholder)
		}
		if m.Factor <= 0 {
			return nil, fmt.Errorf("metric %q: factor must be positive", m.ID)
		}
		c.byID[m.ID] = m
	}
	return c, nil
}

// Lookup returns the metric with the given id.
func (c *Catalog) Lookup(id string) (Metric, error) {
	m, ok := c.byID[id]
	if !ok {
		return Metric{}, fmt.Errorf("%w: %q", ErrUnknownMetric, id)
	}
	return m, nil
}

// Len returns the number of metrics.
func (c *Catalog) Len() int { return len(c.metrics) }

// At returns the i-th metric in catalog order.
func (c *Catalog) At(i int) Metric { return c.metrics[i] }
