package hellodalle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDefaultRules(t *testing.T) {
	t.Parallel()

	s, err := NewPromptSanitizer(nil)
	require.NoError(t, err)

	assert.Equal(
		t,
		"playfully tease the new member",
		s.Sanitize("roast the new member"),
	)
	assert.Equal(
		t,
		"gently poke fun at their haircut",
		s.Sanitize("Mock their haircut"),
	)

	// Word boundaries keep substrings intact
	assert.Equal(t, "a pot roastery", s.Sanitize("a pot roastery"))

	// Untouched prompts pass through unchanged
	clean := "a watercolor painting of a lighthouse"
	assert.Equal(t, clean, s.Sanitize(clean))
}

func TestSanitizeRulesApplyInOrder(t *testing.T) {
	t.Parallel()

	s, err := NewPromptSanitizer(
		[]SanitizerRuleConfig{
			{Pattern: `cat`, Replacement: "dog"},
			{Pattern: `dog`, Replacement: "ferret"},
		},
	)
	require.NoError(t, err)

	// The second rule sees the first rule's output
	assert.Equal(t, "a ferret and a ferret", s.Sanitize("a cat and a dog"))
}

func TestSanitizeInvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewPromptSanitizer(
		[]SanitizerRuleConfig{
			{Pattern: `(unclosed`, Replacement: "x"},
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sanitizer pattern")
}
