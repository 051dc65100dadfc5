package energy

import "fmt"

// DefaultMultiplier approximates the daily users of a popular chatbot.
const DefaultMultiplier = 120_000_000

// Projection formats.
const (
	FormatDuration   = "duration"
	FormatScientific = "scientific"
)

// ProjectionConfig controls the population-scale projection.
type ProjectionConfig struct {
	Multiplier float64
	Format     string
}

// Projection scales round(count*factor, 2) by the multiplier. Durations are
// rendered in seconds, minutes, hours or days; any other unit, or the
// scientific format, renders as "%.2e <unit>".
func Projection(count int, factor float64, unit string, cfg ProjectionConfig) string {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	total := round2(float64(count)*factor) * mult
	if cfg.Format == FormatScientific || unit != UnitSeconds {
		return fmt.Sprintf("%.2e %s", total, unit)
	}
	return formatDuration(total)
}

func formatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.1f seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.1f minutes", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%.1f hours", seconds/3600)
	default:
		return fmt.Sprintf("%.1f days", seconds/86400)
	}
}
