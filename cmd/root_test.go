package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"collect", "enrich", "migrate", "serve", "failures"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "geo-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCollectCommand_Flags(t *testing.T) {
	for _, name := range []string{
		"city", "keywords", "keywords-file", "category", "enrich", "max-pages", "page-size",
		"bias-lat", "bias-lng", "bias-radius-m", "output", "format", "no-store", "csv-pop", "min-pop",
	} {
		assert.NotNil(t, collectCmd.Flags().Lookup(name), "collect should have --%s flag", name)
	}
}

func TestEnrichCommand_Flags(t *testing.T) {
	flag := enrichCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "enrich command should have --limit flag")
	assert.Equal(t, "100", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("run-timeout"))
}

func TestFailuresCommand_Flags(t *testing.T) {
	for _, name := range []string{"run-id", "kind", "error-type", "limit"} {
		assert.NotNil(t, failuresCmd.Flags().Lookup(name), "failures should have --%s flag", name)
	}
	assert.Equal(t, "50", failuresCmd.Flags().Lookup("limit").DefValue)
}
