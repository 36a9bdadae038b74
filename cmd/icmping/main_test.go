package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_CreateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icmping.yaml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--create-config", "--config-output", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "interval: 1.0")
}

func TestRootCommand_RequiresHost(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"-c", "1"})
	assert.EqualError(t, cmd.Execute(), "destination host is required")
}

func TestRootCommand_RejectsNegativeInterval(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--interval=-1", "127.0.0.1"})
	assert.ErrorContains(t, cmd.Execute(), "interval must not be negative")
}
