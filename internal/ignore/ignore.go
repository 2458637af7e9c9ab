// Package ignore decides which project paths are irrelevant to gate results,
// using gitignore-style rules.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultIgnoreFiles are read from the project root, in order.
var DefaultIgnoreFiles = []string{".gitignore", ".reviewgateignore"}

// DefaultFallbackPatterns are always applied. They cover tool caches and
// dependency trees that change without the project changing.
var DefaultFallbackPatterns = []string{
	".git/",
	"node_modules/",
	"__pycache__/",
	".venv/",
	"venv/",
	".pytest_cache/",
	".mypy_cache/",
	".tox/",
	"vendor/",
	"*.pyc",
}

// Parser reads gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are prepended to whatever the ignore files contain.
	FallbackPatterns []string
}

// NewParser creates a parser with the given ignore files and fallback patterns.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// NewDefaultParser creates a parser with DefaultIgnoreFiles and
// DefaultFallbackPatterns.
func NewDefaultParser() *Parser {
	return NewParser(DefaultIgnoreFiles, DefaultFallbackPatterns)
}

// ParseProject reads the ignore files at projectRoot and returns the combined
// rule lines, fallback patterns first. Missing files are skipped.
func (p *Parser) ParseProject(projectRoot string) ([]string, error) {
	lines := append([]string(nil), p.FallbackPatterns...)
	for _, name := range p.IgnoreFiles {
		fileLines, err := parseFile(filepath.Join(projectRoot, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		lines = append(lines, fileLines...)
	}
	return deduplicate(lines), nil
}

// Matcher builds a Matcher for projectRoot.
func (p *Parser) Matcher(projectRoot string) (*Matcher, error) {
	lines, err := p.ParseProject(projectRoot)
	if err != nil {
		return nil, err
	}
	return NewMatcher(lines), nil
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := parseLine(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// parseLine returns the rule on a line, or "" for blanks and comments.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

func deduplicate(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	result := make([]string, 0, len(lines))
	for _, l := range lines {
		if !seen[l] {
			seen[l] = true
			result = append(result, l)
		}
	}
	return result
}

// Matcher matches slash-separated paths relative to the project root.
type Matcher struct {
	m gitignore.Matcher
}

// NewMatcher compiles rule lines. Later rules take precedence, and "!"
// negations are honored.
func NewMatcher(lines []string) *Matcher {
	patterns := make([]gitignore.Pattern, 0, len(lines))
	for _, l := range lines {
		patterns = append(patterns, gitignore.ParsePattern(l, nil))
	}
	return &Matcher{m: gitignore.NewMatcher(patterns)}
}

// Match reports whether rel, relative to the project root, is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == "" {
		return false
	}
	return m.m.Match(strings.Split(rel, "/"), isDir)
}
