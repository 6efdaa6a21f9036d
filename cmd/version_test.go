package cmd

import (
	"fmt"
	"github.com/introVRt-Lounge/hello-dalle-discordbot/hellodalle"
	"github.com/stretchr/testify/assert"
	"io"
	"os"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := hellodalle.Version
	originalCommitSHA := hellodalle.CommitSHA
	originalBuildTime := hellodalle.BuildTime

	t.Cleanup(
		func() {
			hellodalle.Version = originalVersion
			hellodalle.CommitSHA = originalCommitSHA
			hellodalle.BuildTime = originalBuildTime
		},
	)

	hellodalle.Version = "1.0.0"
	hellodalle.CommitSHA = "abc123"
	hellodalle.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		hellodalle.Version,
		hellodalle.CommitSHA,
		hellodalle.BuildTime,
	)
	assert.Equal(t, expected, output)
}
