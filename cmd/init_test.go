package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/introVRt-Lounge/hello-dalle-discordbot/hellodalle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	originalCfg := cfg
	t.Cleanup(
		func() {
			cfg = originalCfg
		},
	)

	cfg = hellodalle.DefaultConfig()
	cfg.Database = dbPath
	cfg.Generation.DefaultEngine = hellodalle.EngineGemini
	cfg.Generation.Wildcard = 10

	var out bytes.Buffer
	initCmd.SetOut(&out)
	initCmd.SetContext(context.Background())

	initCmd.Run(initCmd, nil)

	assert.Contains(t, out.String(), "Database initialized")
	assert.Contains(t, out.String(), "Bot state initialized")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)

	var state hellodalle.BotState
	require.NoError(t, db.Last(&state).Error)
	assert.Equal(t, hellodalle.EngineGemini, state.Engine)
	assert.Equal(t, 10, state.Wildcard)
	assert.False(t, state.PFPAnyone)

	// Running init again leaves the existing state untouched
	out.Reset()
	initCmd.Run(initCmd, nil)
	assert.Contains(t, out.String(), "already exists")

	var count int64
	require.NoError(t, db.Model(&hellodalle.BotState{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
