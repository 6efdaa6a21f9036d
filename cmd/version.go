package cmd

import (
	"fmt"
	"github.com/introVRt-Lounge/hello-dalle-discordbot/hellodalle"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			hellodalle.Version,
			hellodalle.CommitSHA,
			hellodalle.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
