package hellodalle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discord.Token = "test-discord-token"
	cfg.Discord.ApplicationID = "test-app-id"
	cfg.OpenAI.Token = "test-openai-token"
	return cfg
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	hd := &HelloDalle{config: validTestConfig()}
	assert.NoError(t, hd.validateConfig())

	t.Run(
		"missing discord credentials",
		func(t *testing.T) {
			t.Parallel()
			cfg := validTestConfig()
			cfg.Discord.Token = ""
			cfg.Discord.ApplicationID = ""
			err := (&HelloDalle{config: cfg}).validateConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "discord token required")
			assert.Contains(t, err.Error(), "discord application ID required")
		},
	)

	t.Run(
		"no provider keys",
		func(t *testing.T) {
			t.Parallel()
			cfg := validTestConfig()
			cfg.OpenAI.Token = ""
			err := (&HelloDalle{config: cfg}).validateConfig()
			require.Error(t, err)
			assert.Contains(
				t,
				err.Error(),
				"at least one of the OpenAI token or Gemini API key required",
			)
		},
	)

	t.Run(
		"wildcard out of range",
		func(t *testing.T) {
			t.Parallel()
			cfg := validTestConfig()
			cfg.Generation.Wildcard = 100
			err := (&HelloDalle{config: cfg}).validateConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "wildcard must be between 0 and 99")
		},
	)

	t.Run(
		"unknown default engine",
		func(t *testing.T) {
			t.Parallel()
			cfg := validTestConfig()
			cfg.Generation.DefaultEngine = ImageEngine("midjourney")
			err := (&HelloDalle{config: cfg}).validateConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unknown default engine")
		},
	)

	t.Run(
		"default engine without its key",
		func(t *testing.T) {
			t.Parallel()
			cfg := validTestConfig()
			cfg.Generation.DefaultEngine = EngineGemini
			err := (&HelloDalle{config: cfg}).validateConfig()
			require.Error(t, err)
			assert.Contains(
				t,
				err.Error(),
				"default engine is gemini but no Gemini API key is set",
			)
		},
	)
}

func newStatefulTestBot(t testing.TB) *HelloDalle {
	t.Helper()

	hd := &HelloDalle{
		config:       validTestConfig(),
		db:           newTestDatabase(t),
		wildcardRoll: func() int { return 99 },
	}
	state, err := hd.db.BotState(
		context.Background(),
		BotState{
			Engine:            hd.config.Generation.DefaultEngine,
			Wildcard:          hd.config.Generation.Wildcard,
			PFPAnyone:         hd.config.Generation.PFPAnyone,
			GenderSensitivity: hd.config.Generation.GenderSensitivity,
		},
	)
	require.NoError(t, err)
	hd.state = state
	return hd
}

func TestRuntimeSettingsPersist(t *testing.T) {
	t.Parallel()

	hd := newStatefulTestBot(t)
	ctx := context.Background()

	assert.Equal(t, EngineDalle, hd.Engine())

	require.NoError(t, hd.SetEngine(ctx, EngineGemini))
	assert.Equal(t, EngineGemini, hd.Engine())

	require.NoError(t, hd.SetWildcard(ctx, 42))
	assert.Equal(t, 42, hd.Wildcard())

	require.NoError(t, hd.SetPFPAnyone(ctx, true))
	assert.True(t, hd.PFPAnyone())

	// The settings survive a state reload
	reloaded, err := hd.db.BotState(ctx, BotState{})
	require.NoError(t, err)
	assert.Equal(t, EngineGemini, reloaded.Engine)
	assert.Equal(t, 42, reloaded.Wildcard)
	assert.True(t, reloaded.PFPAnyone)
}

func TestRuntimeSettingsValidation(t *testing.T) {
	t.Parallel()

	hd := newStatefulTestBot(t)
	ctx := context.Background()

	assert.Error(t, hd.SetEngine(ctx, ImageEngine("midjourney")))
	assert.Error(t, hd.SetWildcard(ctx, -1))
	assert.Error(t, hd.SetWildcard(ctx, 100))

	// Setters on an uninitialized bot fail instead of panicking
	bare := &HelloDalle{config: validTestConfig()}
	assert.Error(t, bare.SetEngine(ctx, EngineDalle))
	assert.Error(t, bare.SetWildcard(ctx, 10))
	assert.Error(t, bare.SetPFPAnyone(ctx, true))
}

func TestStartupMessage(t *testing.T) {
	t.Parallel()

	hd := newStatefulTestBot(t)
	hd.welcomeCount = 7
	require.NoError(t, hd.SetWildcard(context.Background(), 15))

	msg := hd.startupMessage()
	assert.Contains(t, msg, hd.config.Discord.StartupMessage)
	assert.Contains(t, msg, "Engine: dalle")
	assert.Contains(t, msg, "Wildcard chance: 15%")
	assert.Contains(t, msg, "Total welcomed users so far: 7")
}

func TestImageEngineHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, EngineDalle.Valid())
	assert.True(t, EngineGemini.Valid())
	assert.False(t, ImageEngine("midjourney").Valid())

	assert.Equal(t, EngineGemini, EngineDalle.Other())
	assert.Equal(t, EngineDalle, EngineGemini.Other())
}
