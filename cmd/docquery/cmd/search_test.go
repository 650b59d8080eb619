package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSearchCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newSearchCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSearchCommand_FindsIndexedDocument(t *testing.T) {
	// Given an indexed corpus as the working directory
	corpus := seedCorpus(t)
	t.Chdir(corpus)

	// When searching for terms from one document
	out, err := runSearchCmd(t, "--offline", "-n", "3", "authentication tokens")
	require.NoError(t, err)

	// Then that document is returned and the other is not
	assert.Contains(t, out, "results for")
	assert.Contains(t, out, "auth.md")
	assert.NotContains(t, out, "deploy.md")
}

func TestSearchCommand_JSONOutput(t *testing.T) {
	// Given an indexed corpus as the working directory
	corpus := seedCorpus(t)
	t.Chdir(corpus)

	// When searching with JSON output
	out, err := runSearchCmd(t, "--offline", "-f", "json", "-n", "3", "authentication tokens")
	require.NoError(t, err)

	// Then the payload carries the hit with its pipeline fields
	var payload searchResponseJSON
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "authentication tokens", payload.Query)
	assert.NotEmpty(t, payload.Complexity)
	require.NotEmpty(t, payload.Results)
	assert.Contains(t, payload.Results[0].ID, "auth.md")
	assert.Equal(t, "ADAPTIVE", payload.Results[0].Phase)
	assert.Greater(t, payload.Results[0].Score, 0.0)
}

func TestSearchCommand_ReportsZeroResults(t *testing.T) {
	// Given an indexed corpus as the working directory
	corpus := seedCorpus(t)
	t.Chdir(corpus)

	// When searching for terms absent from every document
	out, err := runSearchCmd(t, "--offline", "zzqqxxyyww")
	require.NoError(t, err)

	// Then a no-results message is printed instead of an error
	assert.Contains(t, out, "No results")
}

func TestSearchCommand_FusionOverride(t *testing.T) {
	// Given an indexed corpus as the working directory
	corpus := seedCorpus(t)
	t.Chdir(corpus)

	// When forcing weighted-sum fusion
	out, err := runSearchCmd(t, "--offline", "--fusion", "weighted_sum", "authentication tokens")
	require.NoError(t, err)

	// Then the search still resolves the document
	assert.Contains(t, out, "auth.md")
}

func TestSearchCommand_RejectsUnknownFusion(t *testing.T) {
	corpus := seedCorpus(t)
	t.Chdir(corpus)

	_, err := runSearchCmd(t, "--offline", "--fusion", "borda", "authentication")
	require.Error(t, err)
}

func TestSearchCommand_RejectsUnknownFormat(t *testing.T) {
	clearDocqueryEnv(t)
	t.Setenv("HOME", t.TempDir())

	_, err := runSearchCmd(t, "-f", "yaml", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestSearchCommand_RequiresIndex(t *testing.T) {
	// Given an empty directory with no index
	clearDocqueryEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	// When searching
	_, err := runSearchCmd(t, "--offline", "anything")

	// Then the error points at the index command
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
	assert.Contains(t, err.Error(), "docquery index")
}
