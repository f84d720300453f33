// Package query derives the shared views served by every bridge:
// status, uncovered/untested/stale lists, the unmapped tree, rule
// details, and the validation report.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/necessary-nu/tracey/internal/errors"
	"github.com/necessary-nu/tracey/internal/model"
)

// Filter narrows list queries to a (spec, impl) pair or a base-ID
// prefix. Empty fields match everything.
type Filter struct {
	Spec   string `json:"spec,omitempty"`
	Impl   string `json:"impl,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

func (f Filter) matchPair(spec *model.Spec, impl *model.Impl) bool {
	if f.Spec != "" && f.Spec != spec.Name {
		return false
	}
	if f.Impl != "" && f.Impl != impl.Name {
		return false
	}
	return true
}

func (f Filter) matchBase(base string) bool {
	return f.Prefix == "" || strings.HasPrefix(base, f.Prefix)
}

// PairStatus is the coverage summary of one (spec, impl) pair.
type PairStatus struct {
	Spec  string      `json:"spec"`
	Impl  string      `json:"impl"`
	Stats model.Stats `json:"stats"`
}

// StatusReport is the status() result.
type StatusReport struct {
	Version uint64       `json:"version"`
	Pairs   []PairStatus `json:"pairs"`
	Errors  int          `json:"errors"`
	Warns   int          `json:"warnings"`
	// ConfigError carries the parse error of an unloadable config; the
	// snapshot shown is the last good one.
	ConfigError string `json:"configError,omitempty"`
}

// Status summarizes coverage per (spec, impl) pair.
func Status(snap *model.Snapshot) StatusReport {
	report := StatusReport{Version: snap.Version}
	for _, spec := range snap.Specs {
		for _, impl := range spec.Impls {
			report.Pairs = append(report.Pairs, PairStatus{
				Spec:  spec.Name,
				Impl:  impl.Name,
				Stats: impl.Stats,
			})
		}
	}
	for _, is := range snap.Issues {
		if is.Severity == model.SeverityError {
			report.Errors++
		} else {
			report.Warns++
		}
	}
	return report
}

// Item is one requirement in a grouped list.
type Item struct {
	ID      string `json:"id"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Section groups list items under the heading enclosing them.
type Section struct {
	Heading string `json:"heading"`
	Slug    string `json:"slug"`
	Items   []Item `json:"items"`
}

// Group is the per-(spec, impl) portion of a list result.
type Group struct {
	Spec     string    `json:"spec"`
	Impl     string    `json:"impl"`
	Total    int       `json:"total"`
	Sections []Section `json:"sections"`
}

// Uncovered lists requirements with no impl coverage and no stale
// reference, grouped by enclosing section.
func Uncovered(snap *model.Snapshot, f Filter) []Group {
	return list(snap, f, func(cov model.Coverage) bool {
		return cov.Uncovered()
	})
}

// Untested lists requirements with no verify coverage.
func Untested(snap *model.Snapshot, f Filter) []Group {
	return list(snap, f, func(cov model.Coverage) bool {
		return !cov.CoveredVerify
	})
}

// Stale lists requirements whose impl references pin an older version.
func Stale(snap *model.Snapshot, f Filter) []Group {
	return list(snap, f, func(cov model.Coverage) bool {
		return cov.Stale
	})
}

func list(snap *model.Snapshot, f Filter, want func(model.Coverage) bool) []Group {
	var groups []Group
	for _, spec := range snap.Specs {
		for _, impl := range spec.Impls {
			if !f.matchPair(spec, impl) {
				continue
			}
			group := Group{Spec: spec.Name, Impl: impl.Name}
			sections := make(map[string]*Section)
			var order []string

			for i := range spec.Requirements {
				req := &spec.Requirements[i]
				if !f.matchBase(req.ID.Base) || !want(impl.Coverage[req.ID.Base]) {
					continue
				}
				group.Total++

				heading, slug := enclosingSection(req)
				sec, ok := sections[slug]
				if !ok {
					sec = &Section{Heading: heading, Slug: slug}
					sections[slug] = sec
					order = append(order, slug)
				}
				sec.Items = append(sec.Items, Item{
					ID:      req.ID.String(),
					File:    req.Def.SourceFile,
					Line:    req.Def.Line,
					Excerpt: excerpt(req.Def.Raw),
				})
			}

			for _, slug := range order {
				group.Sections = append(group.Sections, *sections[slug])
			}
			groups = append(groups, group)
		}
	}
	return groups
}

func enclosingSection(req *model.Requirement) (heading, slug string) {
	path := req.Def.HeadingPath
	if len(path) == 0 {
		return "(no section)", ""
	}
	last := path[len(path)-1]
	return last.Text, last.Slug
}

// excerpt returns the first content line after the marker.
func excerpt(raw string) string {
	lines := strings.SplitN(raw, "\n", 3)
	if len(lines) < 2 {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(lines[1], ">"))
}

// TreeNode is one directory or file of the unmapped tree.
type TreeNode struct {
	Path     string      `json:"path"`
	Dir      bool        `json:"dir"`
	Units    int         `json:"units"`
	Mapped   int         `json:"mapped"`
	Percent  float64     `json:"percent"`
	Children []*TreeNode `json:"children,omitempty"`
}

// UnmappedUnit is one reference-free code unit of a zoomed file.
type UnmappedUnit struct {
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// UnmappedResult is the unmapped() result: a directory tree, or a
// file's unit list when zoomed to a path.
type UnmappedResult struct {
	Spec  string         `json:"spec"`
	Impl  string         `json:"impl"`
	Tree  *TreeNode      `json:"tree,omitempty"`
	File  string         `json:"file,omitempty"`
	Units []UnmappedUnit `json:"units,omitempty"`
}

// Unmapped computes reverse coverage: which files and units carry no
// references. With a path, it zooms to that file's unit list.
func Unmapped(snap *model.Snapshot, f Filter, path string) []UnmappedResult {
	var out []UnmappedResult
	for _, spec := range snap.Specs {
		for _, impl := range spec.Impls {
			if !f.matchPair(spec, impl) {
				continue
			}
			res := UnmappedResult{Spec: spec.Name, Impl: impl.Name}

			if path != "" {
				fu, ok := impl.Files[path]
				if !ok {
					continue
				}
				res.File = path
				for _, u := range fu.Units {
					if len(u.Refs) == 0 {
						res.Units = append(res.Units, UnmappedUnit{
							Kind:      string(u.Kind),
							Name:      u.Name,
							StartLine: u.StartLine,
							EndLine:   u.EndLine,
						})
					}
				}
			} else {
				res.Tree = buildTree(impl)
			}
			out = append(out, res)
		}
	}
	return out
}

func buildTree(impl *model.Impl) *TreeNode {
	root := &TreeNode{Path: ".", Dir: true}
	dirs := map[string]*TreeNode{".": root}

	var files []string
	for p := range impl.Files {
		files = append(files, p)
	}
	sort.Strings(files)

	for _, p := range files {
		fu := impl.Files[p]
		total, mapped := 0, 0
		for _, u := range fu.Units {
			total++
			if len(u.Refs) > 0 {
				mapped++
			}
		}

		node := &TreeNode{Path: p, Units: total, Mapped: mapped}
		if total > 0 {
			node.Percent = float64(mapped) / float64(total) * 100
		}
		dir := dirNode(dirs, parentDir(p))
		dir.Children = append(dir.Children, node)
	}

	sumTree(root)
	return root
}

// dirNode returns the tree node for a directory, creating the chain up
// to the root as needed.
func dirNode(dirs map[string]*TreeNode, path string) *TreeNode {
	if n, ok := dirs[path]; ok {
		return n
	}
	n := &TreeNode{Path: path, Dir: true}
	dirs[path] = n
	parent := dirNode(dirs, parentDir(path))
	parent.Children = append(parent.Children, n)
	return n
}

// sumTree folds per-file stats upward and orders children by path.
func sumTree(n *TreeNode) {
	if !n.Dir {
		return
	}
	sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Path < n.Children[j].Path })

	n.Units, n.Mapped = 0, 0
	for _, child := range n.Children {
		sumTree(child)
		n.Units += child.Units
		n.Mapped += child.Mapped
	}
	if n.Units > 0 {
		n.Percent = float64(n.Mapped) / float64(n.Units) * 100
	}
}

func parentDir(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return "."
	}
	return p[:idx]
}

// RuleRef is one reference in a rule() result.
type RuleRef struct {
	Impl       string `json:"impl"`
	Verb       string `json:"verb"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	ID         string `json:"id"`
	ByteOffset int    `json:"byteOffset"`
	ByteLength int    `json:"byteLength"`
}

// RuleDetail is the rule() result: full requirement markdown plus all
// references across implementations.
type RuleDetail struct {
	Spec      string           `json:"spec"`
	ID        string           `json:"id"`
	Version   int              `json:"version"`
	Markdown  string           `json:"markdown"`
	File      string           `json:"file"`
	Line      int              `json:"line"`
	StartByte int              `json:"startByte"`
	Heading  []string          `json:"heading,omitempty"`
	Refs     []RuleRef         `json:"refs"`
	Coverage map[string]model.Coverage `json:"coverage"`
}

// Rule returns the full detail of one requirement by base ID or
// canonical ID.
func Rule(snap *model.Snapshot, id string) (*RuleDetail, error) {
	base := id
	if idx := strings.IndexByte(id, '+'); idx >= 0 {
		base = id[:idx]
	}

	for _, spec := range snap.Specs {
		req, ok := spec.Requirement(base)
		if !ok {
			continue
		}

		detail := &RuleDetail{
			Spec:      spec.Name,
			ID:        req.ID.String(),
			Version:   req.ID.Version,
			Markdown:  req.Def.Raw,
			File:      req.Def.SourceFile,
			Line:      req.Def.Line,
			StartByte: req.Def.StartByte,
			Coverage:  make(map[string]model.Coverage),
		}
		for _, h := range req.Def.HeadingPath {
			detail.Heading = append(detail.Heading, h.Text)
		}
		for _, impl := range spec.Impls {
			detail.Coverage[impl.Name] = impl.Coverage[base]
			for _, ref := range impl.RefsByBase[base] {
				detail.Refs = append(detail.Refs, RuleRef{
					Impl:       impl.Name,
					Verb:       string(ref.Verb),
					File:       ref.File,
					Line:       ref.Line,
					ID:         ref.ID.String(),
					ByteOffset: ref.ByteOffset,
					ByteLength: ref.ByteLength,
				})
			}
		}
		return detail, nil
	}

	var known []string
	for _, spec := range snap.Specs {
		known = append(known, spec.BaseIDs()...)
	}
	return nil, errors.New(errors.RuleNotFound,
		fmt.Sprintf("no requirement %q", id)).WithDetails(map[string]interface{}{
		"suggestions": model.Suggest(base, known),
	})
}

// ValidationReport is the validate() result.
type ValidationReport struct {
	Version  uint64        `json:"version"`
	Errors   []model.Issue `json:"errors"`
	Warnings []model.Issue `json:"warnings"`
}

// Validate splits the snapshot's issues by severity.
func Validate(snap *model.Snapshot, f Filter) ValidationReport {
	report := ValidationReport{Version: snap.Version}
	for _, is := range snap.Issues {
		if f.Spec != "" && is.Spec != "" && is.Spec != f.Spec {
			continue
		}
		if f.Impl != "" && is.Impl != "" && is.Impl != f.Impl {
			continue
		}
		if is.Severity == model.SeverityError {
			report.Errors = append(report.Errors, is)
		} else {
			report.Warnings = append(report.Warnings, is)
		}
	}
	return report
}
