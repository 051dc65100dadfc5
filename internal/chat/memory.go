package chat

import (
	"unicode/utf8"

	"github.com/benkoppe/sustainabotily/internal/domain"
)

// DefaultTokenLimit bounds the conversational memory sent with each prompt.
const DefaultTokenLimit = 1500

// EstimateTokens approximates a token count as one token per four characters.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// SelectMemory keeps the most recent turns whose estimated tokens fit in
// limit, dropping the oldest first. The result is in chronological order.
func SelectMemory(turns []domain.Turn, limit int) []domain.Turn {
	if limit <= 0 {
		limit = DefaultTokenLimit
	}
	used := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		n := EstimateTokens(turns[i].Text)
		if used+n > limit {
			break
		}
		used += n
		start = i
	}
	out := make([]domain.Turn, 0, len(turns)-start)
	for _, t := range turns[start:] {
		if t.Text == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}
