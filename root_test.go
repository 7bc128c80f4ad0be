package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstage/globus-go/internal/config"
	"github.com/gridstage/globus-go/internal/globus"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests set the
// globals AFTER newRootCmd() returns, or use cmd.SetArgs() + cmd.Execute().

func resetFlags(t *testing.T) {
	t.Helper()

	oldVerbose := flagVerbose
	oldQuiet := flagQuiet
	oldCfg := resolvedCfg

	t.Cleanup(func() {
		flagVerbose = oldVerbose
		flagQuiet = oldQuiet
		resolvedCfg = oldCfg
	})
}

func TestNewRootCmd_SubcommandsRegistered(t *testing.T) {
	cmd := newRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"login", "logout", "whoami", "transfer", "status", "tasks"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestBuildLogger_Default(t *testing.T) {
	resetFlags(t)

	flagVerbose = false
	flagQuiet = false
	resolvedCfg = nil

	logger := buildLogger()

	// Default level is Warn.
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_VerboseWinsOverConfig(t *testing.T) {
	resetFlags(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.LogLevel = "error"
	flagVerbose = true
	flagQuiet = false

	logger := buildLogger()
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Quiet(t *testing.T) {
	resetFlags(t)

	flagVerbose = false
	flagQuiet = true
	resolvedCfg = nil

	logger := buildLogger()
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestClientID_ConfigOverride(t *testing.T) {
	resetFlags(t)

	resolvedCfg = nil
	assert.Equal(t, globus.DefaultClientID, clientID())

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.ClientID = "custom-client"
	assert.Equal(t, "custom-client", clientID())
}

func TestBundlePath_ConfigOverride(t *testing.T) {
	resetFlags(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.TokenFile = "/tmp/custom-tokens.json"

	path, err := bundlePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-tokens.json", path)
}
