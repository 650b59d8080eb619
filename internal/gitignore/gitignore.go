// Package gitignore filters corpus paths through .gitignore rules, so
// indexing skips what the repository itself considers disposable. The
// pattern syntax follows https://git-scm.com/docs/gitignore: wildcards,
// anchoring, directory-only patterns, and negation with last-match-wins
// ordering.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Matcher holds compiled ignore rules for one corpus root. Build it
// fully before matching: AddPattern and LoadFile are not safe to call
// concurrently with Match. A built Matcher is safe for concurrent
// readers.
type Matcher struct {
	rules []rule
}

type rule struct {
	raw      string
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// NewMatcher returns an empty matcher that ignores nothing.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Len reports how many rules the matcher holds.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// AddPattern compiles one gitignore line. Blank lines and comments are
// dropped silently.
func (m *Matcher) AddPattern(pattern string) {
	// A trailing "\ " keeps its space through trimming.
	keepTrailingSpace := strings.HasSuffix(pattern, `\ `)
	pattern = strings.TrimSpace(pattern)

	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{raw: pattern}

	switch {
	case strings.HasPrefix(pattern, `\#`), strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
		r.raw = pattern
	case strings.HasPrefix(pattern, "!"):
		r.negate = true
		pattern = pattern[1:]
	}

	if keepTrailingSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// A slash inside the pattern anchors it to the root as well:
	// "doc/frotz" means "/doc/frotz", not "**/doc/frotz".
	if strings.Contains(pattern, "/") &&
		!strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.re = regexp.MustCompile("^" + translate(pattern) + "$")
	m.rules = append(m.rules, r)
}

// LoadFile reads every pattern from a gitignore file. A missing file is
// the caller's case to handle; the error satisfies os.IsNotExist then.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddPattern(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Match reports whether the corpus-relative path is ignored. Rules are
// evaluated in order and the last matching rule wins, so negations can
// re-include an earlier match.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	ignored := false
	for _, r := range m.rules {
		if r.matches(path, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(path string, isDir bool) bool {
	parts := strings.Split(path, "/")

	if r.anchored {
		if r.re.MatchString(path) {
			return !r.dirOnly || isDir
		}
		if r.dirOnly {
			// A matched directory swallows everything under it.
			for i := 1; i < len(parts); i++ {
				if r.re.MatchString(strings.Join(parts[:i], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.re.MatchString(part) {
				return i < len(parts)-1 || isDir
			}
		}
		return false
	}

	if r.re.MatchString(parts[len(parts)-1]) || r.re.MatchString(path) {
		return true
	}
	for _, part := range parts[:len(parts)-1] {
		if r.re.MatchString(part) {
			return true
		}
	}
	return false
}

// translate converts a gitignore pattern into regexp source. "**"
// crosses directory boundaries, "*" and "?" stop at them, character
// classes pass through, and backslash escapes the next character.
func translate(pattern string) string {
	var sb strings.Builder

	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch c {
		case '*':
			if strings.HasPrefix(pattern[i:], "**/") {
				sb.WriteString("(?:.*/)?")
				i += 3
				continue
			}
			if strings.HasPrefix(pattern[i:], "**") && (i == 0 || pattern[i-1] == '/') {
				sb.WriteString(".*")
				i += 2
				continue
			}
			sb.WriteString("[^/]*")
			i++
		case '?':
			sb.WriteString("[^/]")
			i++
		case '[':
			if end := strings.IndexByte(pattern[i:], ']'); end > 0 {
				sb.WriteString(pattern[i : i+end+1])
				i += end + 1
			} else {
				sb.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				sb.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				sb.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return sb.String()
}
