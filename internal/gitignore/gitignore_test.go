package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matcherOf(patterns ...string) *Matcher {
	m := NewMatcher()
	for _, p := range patterns {
		m.AddPattern(p)
	}
	return m
}

func TestMatch_PlainName(t *testing.T) {
	// Given a bare name pattern
	m := matcherOf("node_modules")

	// Then it matches the name anywhere in the tree, file or directory
	assert.True(t, m.Match("node_modules", true))
	assert.True(t, m.Match("web/node_modules", true))
	assert.True(t, m.Match("web/node_modules/react/index.js", false))
	assert.False(t, m.Match("node_modules_backup", true))
	assert.False(t, m.Match("src/main.go", false))
}

func TestMatch_Wildcards(t *testing.T) {
	m := matcherOf("*.log", "report-?.txt")

	assert.True(t, m.Match("debug.log", false))
	assert.True(t, m.Match("nested/deep/trace.log", false))
	assert.True(t, m.Match("report-1.txt", false))
	assert.False(t, m.Match("report-10.txt", false))
	assert.False(t, m.Match("changelog", false))
}

func TestMatch_SingleStarStopsAtSlash(t *testing.T) {
	m := matcherOf("docs/*.md")

	assert.True(t, m.Match("docs/readme.md", false))
	assert.False(t, m.Match("docs/drafts/notes.md", false))
}

func TestMatch_DirectoryOnly(t *testing.T) {
	// Given a trailing-slash pattern
	m := matcherOf("build/")

	// Then it matches the directory and its contents, not a plain file
	assert.True(t, m.Match("build", true))
	assert.True(t, m.Match("build/output.bin", false))
	assert.True(t, m.Match("cmd/build/artifact", false))
	assert.False(t, m.Match("build", false))
}

func TestMatch_Anchored(t *testing.T) {
	// Given a leading-slash pattern
	m := matcherOf("/secrets.txt")

	// Then it matches only at the root
	assert.True(t, m.Match("secrets.txt", false))
	assert.False(t, m.Match("config/secrets.txt", false))
}

func TestMatch_InnerSlashAnchors(t *testing.T) {
	// Given a pattern with an inner slash
	m := matcherOf("doc/frotz/")

	// Then it anchors to the root rather than floating
	assert.True(t, m.Match("doc/frotz", true))
	assert.True(t, m.Match("doc/frotz/page.md", false))
	assert.False(t, m.Match("a/doc/frotz", true))
}

func TestMatch_DoubleStar(t *testing.T) {
	m := matcherOf("**/temp", "logs/**", "a/**/b")

	assert.True(t, m.Match("temp", true))
	assert.True(t, m.Match("x/y/temp", true))
	assert.True(t, m.Match("logs/2024/app.log", false))
	assert.True(t, m.Match("a/b", true))
	assert.True(t, m.Match("a/x/y/b", true))
	assert.False(t, m.Match("b/a", true))
}

func TestMatch_CharacterClass(t *testing.T) {
	m := matcherOf("v[0-9].md")

	assert.True(t, m.Match("v1.md", false))
	assert.False(t, m.Match("vA.md", false))
}

func TestMatch_NegationLastMatchWins(t *testing.T) {
	// Given an ignore with a re-include
	m := matcherOf("*.log", "!keep.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("keep.log", false))

	// And a later rule can ignore it again
	m.AddPattern("keep.log")
	assert.True(t, m.Match("keep.log", false))
}

func TestAddPattern_SkipsCommentsAndBlanks(t *testing.T) {
	m := matcherOf("", "   ", "# a comment", "*.tmp")

	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Match("x.tmp", false))
}

func TestAddPattern_EscapedMetaLines(t *testing.T) {
	// Given escaped leading # and !
	m := matcherOf(`\#literal`, `\!bang`)

	// Then the patterns match those literal names
	assert.True(t, m.Match("#literal", false))
	assert.True(t, m.Match("!bang", false))
}

func TestAddPattern_EscapedTrailingSpace(t *testing.T) {
	m := matcherOf(`trailing\ `)

	assert.True(t, m.Match("trailing ", false))
	assert.False(t, m.Match("trailing", false))
}

func TestLoadFile_ReadsPatterns(t *testing.T) {
	// Given a gitignore file on disk
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	content := "# build output\nbin/\n*.swp\n\n!bin/keep.txt\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When loading it
	m := NewMatcher()
	require.NoError(t, m.LoadFile(path))

	// Then the rules apply with their ordering intact
	assert.Equal(t, 3, m.Len())
	assert.True(t, m.Match("bin/tool", false))
	assert.True(t, m.Match("editor.swp", false))
	assert.False(t, m.Match("bin/keep.txt", false))
}

func TestLoadFile_MissingFile(t *testing.T) {
	m := NewMatcher()

	err := m.LoadFile(filepath.Join(t.TempDir(), ".gitignore"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, m.Len())
}

func TestMatch_EmptyMatcherIgnoresNothing(t *testing.T) {
	m := NewMatcher()

	assert.False(t, m.Match("anything", false))
	assert.False(t, m.Match("any/dir", true))
}

func TestMatch_SeparatorsNormalized(t *testing.T) {
	m := matcherOf("build/")

	assert.True(t, m.Match(filepath.Join("build", "out.bin"), false))
}
