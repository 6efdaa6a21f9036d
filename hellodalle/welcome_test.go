package hellodalle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newPromptTestBot(t testing.TB) *HelloDalle {
	t.Helper()

	return &HelloDalle{
		config:       DefaultConfig(),
		wildcardRoll: func() int { return 99 },
	}
}

func TestBuildWelcomePromptSubstitutesPlaceholders(t *testing.T) {
	t.Parallel()

	hd := newPromptTestBot(t)
	hd.config.Generation.WelcomePrompt = "Welcome {username}, who has {avatar}."

	prompt := hd.buildWelcomePrompt("NewMember", "a blue robot avatar")
	assert.Equal(t, "Welcome NewMember, who has a blue robot avatar.", prompt)

	// Missing description falls back to a generic placeholder
	prompt = hd.buildWelcomePrompt("NewMember", "")
	assert.Equal(t, "Welcome NewMember, who has an avatar.", prompt)
}

func TestBuildWelcomePromptWildcard(t *testing.T) {
	t.Parallel()

	hd := newPromptTestBot(t)
	hd.config.Generation.Wildcard = 50

	// Roll below the threshold selects the roast prompt
	hd.wildcardRoll = func() int { return 49 }
	prompt := hd.buildWelcomePrompt("NewMember", "a blue robot avatar")
	assert.Contains(t, prompt, "humorous welcome image")
	assert.Contains(t, prompt, `"NewMember"`)
	assert.Contains(t, prompt, "a blue robot avatar")
	assert.Contains(t, prompt, `Welcome NewMember`)

	// Roll at or above the threshold uses the standard template
	hd.wildcardRoll = func() int { return 50 }
	prompt = hd.buildWelcomePrompt("NewMember", "a blue robot avatar")
	assert.NotContains(t, prompt, "humorous welcome image")

	// Zero wildcard never roasts
	hd.config.Generation.Wildcard = 0
	hd.wildcardRoll = func() int { return 0 }
	prompt = hd.buildWelcomePrompt("NewMember", "a blue robot avatar")
	assert.NotContains(t, prompt, "humorous welcome image")
}

func TestBuildWelcomePromptWildcardStyleFallback(t *testing.T) {
	t.Parallel()

	hd := newPromptTestBot(t)
	hd.config.Generation.Wildcard = 99
	hd.wildcardRoll = func() int { return 0 }

	prompt := hd.buildWelcomePrompt("NewMember", "")
	assert.Contains(t, prompt, "unique style")
}
