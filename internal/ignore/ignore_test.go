package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"   ", ""},
		{"# comment", ""},
		{"node_modules/", "node_modules/"},
		{"*.log  ", "*.log"},
		{"!keep.log", "!keep.log"},
		{"build\r", "build"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLine(tt.input))
		})
	}
}

func TestParseProject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("# deps\ndist/\n*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".reviewgateignore"), []byte("*.log\nfixtures/\n"), 0o644))

	lines, err := NewParser(DefaultIgnoreFiles, []string{".git/"}).ParseProject(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{".git/", "dist/", "*.log", "fixtures/"}, lines)
}

func TestParseProject_NoIgnoreFiles(t *testing.T) {
	lines, err := NewDefaultParser().ParseProject(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackPatterns, lines)
}

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{".git/", "node_modules/", "*.log", "!keep.log", "/build"})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".git", true, true},
		{"web/node_modules", true, true},
		{"app.log", false, true},
		{"logs/keep.log", false, false},
		{"build", true, true},
		{"src/build", true, false},
		{"src/main.py", false, false},
		{".", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestParser_Matcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("coverage/\n"), 0o644))

	m, err := NewDefaultParser().Matcher(dir)
	require.NoError(t, err)
	assert.True(t, m.Match("coverage", true))
	assert.True(t, m.Match("pkg/__pycache__", true))
	assert.False(t, m.Match("pkg/app.py", false))
}
