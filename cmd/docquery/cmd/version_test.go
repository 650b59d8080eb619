package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namjunsu/docquery/pkg/version"
)

func TestVersionCommand_PrintsFullInfo(t *testing.T) {
	// Given the version command
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	// When executed without flags
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	// Then the full build line is printed
	out := buf.String()
	assert.Contains(t, out, "docquery")
	assert.Contains(t, out, version.Version)
	assert.Contains(t, out, "go:")
}

func TestVersionCommand_ShortOutput(t *testing.T) {
	// Given the version command with --short
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--short"})

	// When executed
	require.NoError(t, cmd.Execute())

	// Then only the version number is printed
	assert.Equal(t, version.Version+"\n", buf.String())
}

func TestVersionCommand_JSONOutput(t *testing.T) {
	// Given the version command with --json
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	// When executed
	require.NoError(t, cmd.Execute())

	// Then the output is valid JSON with the build fields
	var info map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Version, info["version"])
	assert.NotEmpty(t, info["go_version"])
	assert.NotEmpty(t, info["os"])
	assert.NotEmpty(t, info["arch"])
}
