package cmd_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitaKurtin/dbnd/internal/cmd"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	return rootCmd.ExecuteContext(context.Background())
}

func TestMonitorCommandErrors(t *testing.T) {
	t.Run("MissingTrackingURL", func(t *testing.T) {
		t.Setenv("DBND_HOME", t.TempDir())

		err := execute(t, "monitor", "--quiet")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tracking.baseUrl")
	})

	t.Run("UnreadableConfigFile", func(t *testing.T) {
		t.Setenv("DBND_HOME", t.TempDir())

		err := execute(t, "monitor", "--quiet", "--config", "/nonexistent/monitor.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load config")
	})
}

func TestVersionCommand(t *testing.T) {
	rootCmd := cmd.NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetArgs([]string{"version"})
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.NotEmpty(t, out.String())
}
