// Package walker enumerates workspace files matching glob patterns,
// honoring repository-ignore rules.
package walker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker enumerates files under a workspace root. All returned paths
// are root-relative with forward slashes.
type Walker struct {
	root   string
	ignore *ignoreRules
}

// New creates a walker for a workspace root, loading repository-ignore
// rules if present.
func New(root string) *Walker {
	return &Walker{
		root:   root,
		ignore: loadIgnoreRules(root),
	}
}

// Root returns the workspace root.
func (w *Walker) Root() string {
	return w.root
}

// Match returns the canonical relative paths of regular files that
// match at least one include pattern and no exclude pattern.
func (w *Walker) Match(includes, excludes []string) ([]string, error) {
	if len(includes) == 0 {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries degrade to absence; the caller surfaces
			// missing files through validation.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" || w.ignore.ignoresDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if w.ignore.ignores(rel) {
			return nil
		}
		if !matchAny(includes, rel) || matchAny(excludes, rel) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// MatchesFile reports whether a canonical relative path satisfies the
// include/exclude pair, without touching the filesystem. Used by the
// watcher to filter events.
func (w *Walker) MatchesFile(rel string, includes, excludes []string) bool {
	rel = filepath.ToSlash(rel)
	if w.ignore.ignores(rel) {
		return false
	}
	return matchAny(includes, rel) && !matchAny(excludes, rel)
}

// IgnoredDir reports whether a canonical relative directory path is
// covered by repository-ignore rules.
func (w *Walker) IgnoredDir(rel string) bool {
	return w.ignore.ignoresDir(filepath.ToSlash(rel))
}

// BaseDirs returns the set of workspace-relative directories implied by
// the given patterns: for each pattern, the longest prefix with no
// glob metacharacters. Used to decide which directories to watch.
func BaseDirs(patterns []string) []string {
	set := make(map[string]bool)
	for _, pat := range patterns {
		dir := staticPrefix(pat)
		set[dir] = true
	}
	out := make([]string, 0, len(set))
	for dir := range set {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

func staticPrefix(pattern string) string {
	parts := strings.Split(pattern, "/")
	var kept []string
	for _, p := range parts {
		if strings.ContainsAny(p, "*?[{") {
			break
		}
		kept = append(kept, p)
	}
	if len(kept) == len(parts) && len(kept) > 0 {
		// A fully static pattern names a file; watch its directory.
		kept = kept[:len(kept)-1]
	}
	if len(kept) == 0 {
		return "."
	}
	return strings.Join(kept, "/")
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// ignoreRules is a conservative .gitignore matcher: root-level
// .gitignore only, with basename patterns, anchored patterns, and
// directory suffixes. Negations re-include previously ignored paths.
type ignoreRules struct {
	rules []ignoreRule
}

type ignoreRule struct {
	pattern string
	negate  bool
	dirOnly bool
}

func loadIgnoreRules(root string) *ignoreRules {
	ir := &ignoreRules{}
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return ir
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rule.pattern = strings.TrimPrefix(line, "/")
		} else if strings.Contains(line, "/") {
			rule.pattern = line
		} else {
			// A bare name matches at any depth.
			rule.pattern = "**/" + line
		}
		ir.rules = append(ir.rules, rule)
	}
	return ir
}

func (ir *ignoreRules) matches(rel string, isDir bool) bool {
	ignored := false
	for _, rule := range ir.rules {
		if rule.dirOnly && !isDir {
			// A directory rule also covers everything beneath it.
			if !ir.underDir(rule, rel) {
				continue
			}
			if rule.negate {
				ignored = false
			} else {
				ignored = true
			}
			continue
		}
		ok, err := doublestar.Match(rule.pattern, rel)
		if err != nil || !ok {
			continue
		}
		if rule.negate {
			ignored = false
		} else {
			ignored = true
		}
	}
	return ignored
}

func (ir *ignoreRules) underDir(rule ignoreRule, rel string) bool {
	dir := rel
	for {
		parent := pathDir(dir)
		if parent == dir {
			return false
		}
		dir = parent
		if dir == "." {
			return false
		}
		if ok, err := doublestar.Match(rule.pattern, dir); err == nil && ok {
			return true
		}
	}
}

func (ir *ignoreRules) ignores(rel string) bool {
	return ir.matches(rel, false)
}

func (ir *ignoreRules) ignoresDir(rel string) bool {
	return ir.matches(rel, true)
}

func pathDir(rel string) string {
	idx := strings.LastIndexByte(rel, '/')
	if idx < 0 {
		return "."
	}
	return rel[:idx]
}
