package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/benkoppe/sustainabotily/internal/domain"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("能源"))
}

func TestSelectMemory_EvictsOldestFirst(t *testing.T) {
	turns := []domain.Turn{
		{Role: domain.RoleUser, Text: strings.Repeat("a", 40)},      // 10 tokens
		{Role: domain.RoleAssistant, Text: strings.Repeat("b", 40)}, // 10
		{Role: domain.RoleUser, Text: strings.Repeat("c", 40)},      // 10
		{Role: domain.RoleAssistant, Text: strings.Repeat("d", 40)}, // 10
	}

	assert.Equal(t, turns, SelectMemory(turns, 40))
	assert.Equal(t, turns[1:], SelectMemory(turns, 39))
	assert.Equal(t, turns[2:], SelectMemory(turns, 20))
	assert.Empty(t, SelectMemory(turns, 9))
}

func TestSelectMemory_StopsAtFirstOverflow(t *testing.T) {
	turns := []domain.Turn{
		{Role: domain.RoleUser, Text: "tiny"},
		{Role: domain.RoleAssistant, Text: strings.Repeat("x", 400)},
		{Role: domain.RoleUser, Text: "last"},
	}
	// the long turn does not fit, so nothing older than it is kept either
	assert.Equal(t, turns[2:], SelectMemory(turns, 50))
}

func TestSelectMemory_SkipsEmptyTurnsAndDefaults(t *testing.T) {
	turns := []domain.Turn{
		{Role: domain.RoleUser, Text: "q"},
		{Role: domain.RoleAssistant, Text: "", Error: "abandoned"},
	}
	assert.Equal(t, turns[:1], SelectMemory(turns, 0))
	assert.Empty(t, SelectMemory(nil, 10))
}

func TestSystemInstruction(t *testing.T) {
	s := SystemInstruction("")
	assert.Contains(t, s, DefaultSubject)
	assert.NotContains(t, s, "{subject}")
	assert.Contains(t, SystemInstruction("Ithaca recycling"), "expert on Ithaca recycling.")
}
