//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{
		"ingest", "review", "validate", "approve", "fill", "postfill",
		"edit", "accept-all", "apply-suggestion", "resolve-conflict", "confirm-invalid",
		"runs", "registry", "serve",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "intake-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestStageCommand_Flags(t *testing.T) {
	flag := ingestCmd.Flags().Lookup("run-id")
	require.NotNil(t, flag, "ingest command should have --run-id flag")
	assert.Equal(t, "", flag.DefValue)

	flag = validateCmd.Flags().Lookup("tier-two")
	require.NotNil(t, flag, "validate command should have --tier-two flag")
	assert.Equal(t, "false", flag.DefValue)

	flag = postfillCmd.Flags().Lookup("tier-two")
	require.NotNil(t, flag, "postfill command should have --tier-two flag")

	flag = editCmd.Flags().Lookup("force")
	require.NotNil(t, flag, "edit command should have --force flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)

	require.NotNil(t, runsListCmd.Flags().Lookup("status"))
	require.NotNil(t, runsStatsCmd.Flags().Lookup("since"))
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, "verify", modeFor(true))
	assert.Equal(t, "store", modeFor(false))
}
