package cmd

import (
	"errors"
	"fmt"
	"log"

	"github.com/introVRt-Lounge/hello-dalle-discordbot/hellodalle"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and seed the runtime bot state",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.Database == "" {
			log.Fatal(
				"Environment variable HD_DATABASE not set (must be a " +
					"sqlite file path)",
			)
		}
		// Run database migrations
		db, err := hellodalle.CreateDB(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()

		// Seed the runtime state row if it doesn't exist, so the
		// engine/wildcard/pfp-anyone toggles have a home before the bot's
		// first run
		var state hellodalle.BotState
		rv := db.Last(&state)
		if rv.Error != nil {
			if !errors.Is(rv.Error, gorm.ErrRecordNotFound) {
				log.Fatalf("Error retrieving bot state: %s", rv.Error.Error())
			}
			state = hellodalle.BotState{
				Engine:            cfg.Generation.DefaultEngine,
				Wildcard:          cfg.Generation.Wildcard,
				PFPAnyone:         cfg.Generation.PFPAnyone,
				GenderSensitivity: cfg.Generation.GenderSensitivity,
			}
			if err = db.Create(&state).Error; err != nil {
				log.Fatalf("Error creating bot state: %v", err)
			}
			fmt.Fprintf(
				out,
				"Bot state initialized (engine=%s wildcard=%d)\n",
				state.Engine,
				state.Wildcard,
			)
		} else {
			fmt.Fprintln(out, "Bot state already exists, leaving it as-is")
		}

		fmt.Fprintln(out, "Database initialized:", cfg.Database)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
