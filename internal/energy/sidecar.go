package energy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/benkoppe/sustainabotily/internal/metrics"
)

const placeholder = "{value}"

// Record is the persisted metric choice for one assistant turn.
type Record struct {
	TurnIndex int    `json:"turn_index"`
	MetricID  string `json:"metric_id"`
}

// Sidecar samples a metric once per assistant turn and renders captions
// from recorded ids only.
type Sidecar struct {
	catalog    *Catalog
	selector   Selector
	projection ProjectionConfig
}

// NewSidecar creates a sidecar.
func NewSidecar(catalog *Catalog, selector Selector, projection ProjectionConfig) *Sidecar {
	if projection.Multiplier <= 0 {
		projection.Multiplier = DefaultMultiplier
	}
	if projection.Format == "" {
		projection.Format = FormatDuration
	}
	return &Sidecar{catalog: catalog, selector: selector, projection: projection}
}

// DefaultSidecar uses the built-in catalog with the fixed selector.
func DefaultSidecar() *Sidecar {
	catalog, err := NewCatalog(DefaultCatalog())
	if err != nil {
		panic(fmt.Sprintf("energy: built-in catalog: %v", err))
	}
	return NewSidecar(catalog, FixedSelector{catalog: catalog}, ProjectionConfig{})
}

// Record samples the metric for assistant turn turnIndex (0-based).
func (s *Sidecar) Record(turnIndex int) Record {
	m := s.selector.Select(turnIndex)
	metrics.AssistantTurnsTotal.WithLabelValues(m.ID).Inc()
	metrics.EnergyUnitsTotal.WithLabelValues(m.ID, m.Unit).Add(m.Factor)
	return Record{TurnIndex: turnIndex, MetricID: m.ID}
}

// Caption renders the caption of assistant turn i from records[i].
// Rendering is a pure function of the stored record, so repeated calls
// return byte-identical text.
func (s *Sidecar) Caption(records []Record, i int) (string, error) {
	if i < 0 || i >= len(records) {
		return "", fmt.Errorf("energy record %d out of range [0, %d)", i, len(records))
	}
	m, err := s.catalog.Lookup(records[i].MetricID)
	if err != nil {
		return "", err
	}
	return RenderCaption(m, i+1), nil
}

// ProjectedCaption renders the population-scale projection for the latest turn.
// It returns "" when there are no records yet.
func (s *Sidecar) ProjectedCaption(records []Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	m, err := s.catalog.Lookup(records[len(records)-1].MetricID)
	if err != nil {
		return "", err
	}
	qty := Projection(len(records), m.Factor, m.Unit, s.projection)
	scaled := m.Scaled
	if scaled == "" {
		scaled = placeholder
	}
	return fmt.Sprintf("If %s people each asked as many questions, it would be equivalent to %s.",
		groupThousands(s.projection.Multiplier), strings.Replace(scaled, placeholder, qty, 1)), nil
}

// RenderCaption renders the caption for the count-th query using metric m.
func RenderCaption(m Metric, count int) string {
	noun := "queries"
	if count == 1 {
		noun = "query"
	}
	value := formatValue(round2(float64(count) * m.Factor))
	text := fmt.Sprintf("You have made %d %s, equivalent to %s", count, noun, strings.Replace(m.Template, placeholder, value, 1))
	if m.Emoji == "" {
		return text
	}
	return m.Emoji + " " + text
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// formatValue prints v the way a Python float prints: shortest
// representation, always with a fractional part.
func formatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func groupThousands(v float64) string {
	digits := strconv.FormatFloat(math.Round(v), 'f', 0, 64)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
