package domain

import "strings"

// Prompt is everything the generator needs for one assistant turn.
type Prompt struct {
	System  string
	Memory  []Turn
	Context []string
	User    string
}

// SystemMessage renders the system instruction followed by the retrieved
// context block. Retrieved text travels in the system message, not as a turn.
func (p Prompt) SystemMessage() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.System))
	if len(p.Context) == 0 {
		return b.String()
	}
	b.WriteString("\n\nContext information is below.\n--------------------\n")
	for i, c := range p.Context {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(c))
	}
	b.WriteString("\n--------------------")
	return b.String()
}
