package hellodalle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t testing.TB) DBI {
	t.Helper()

	gormDB, err := CreateDB(
		context.Background(),
		filepath.Join(t.TempDir(), "test.sqlite3"),
	)
	require.NoError(t, err)
	return NewDatabase(gormDB, nil)
}

func TestImageDescriptionRoundTrip(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	ctx := context.Background()

	hash := hashImageContent([]byte("some image bytes"))

	// Unknown hash is a miss, not an error
	cached, err := db.GetImageDescription(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, cached)

	require.NoError(
		t,
		db.PutImageDescription(
			ctx,
			&ImageDescription{
				Hash:        hash,
				Description: "a pixel art wizard",
				Source:      "gemini",
			},
		),
	)

	cached, err = db.GetImageDescription(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "a pixel art wizard", cached.Description)
	assert.Equal(t, "gemini", cached.Source)

	// Writing the same hash again overwrites instead of failing
	require.NoError(
		t,
		db.PutImageDescription(
			ctx,
			&ImageDescription{
				Hash:        hash,
				Description: "a pixel art sorcerer",
				Source:      "openai",
			},
		),
	)
	cached, err = db.GetImageDescription(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "a pixel art sorcerer", cached.Description)
}

func TestHashImageContent(t *testing.T) {
	t.Parallel()

	a := hashImageContent([]byte("image one"))
	b := hashImageContent([]byte("image one"))
	c := hashImageContent([]byte("image two"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestNextWelcomeNumber(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := db.NextWelcomeNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestBotStateFirstOrCreate(t *testing.T) {
	t.Parallel()

	db := newTestDatabase(t)
	ctx := context.Background()

	defaults := BotState{
		Engine:    EngineGemini,
		Wildcard:  15,
		PFPAnyone: true,
	}

	state, err := db.BotState(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, EngineGemini, state.Engine)
	assert.Equal(t, 15, state.Wildcard)
	assert.True(t, state.PFPAnyone)

	// Subsequent calls return the persisted row, not the defaults
	_, err = db.Updates(
		ctx,
		state,
		map[string]any{columnBotStateWildcard: 60},
	)
	require.NoError(t, err)

	state, err = db.BotState(ctx, BotState{Engine: EngineDalle})
	require.NoError(t, err)
	assert.Equal(t, EngineGemini, state.Engine)
	assert.Equal(t, 60, state.Wildcard)
}
