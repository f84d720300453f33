// Package model defines the workspace model: requirements, references,
// code units, coverage, and the validation report, assembled into
// immutable snapshots.
package model

import (
	"github.com/necessary-nu/tracey/internal/ident"
	"github.com/necessary-nu/tracey/internal/markdown"
	"github.com/necessary-nu/tracey/internal/scanner"
	"github.com/necessary-nu/tracey/internal/units"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes produced during assembly. Parser and scanner codes pass
// through unchanged.
const (
	CodeDuplicateRequirement = "duplicate_requirement"
	CodeUnknownRequirement   = "unknown_requirement"
	CodeUnknownPrefix        = "unknown_prefix"
	CodeImplInTestFile       = "impl_in_test_file"
	CodeStaleReference       = "stale_reference"
	CodeFutureVersion        = "future_version"
	CodeMissingInclude       = "missing_include"
	CodeFileUnreadable       = "file_unreadable"
)

// Issue is one entry of the validation report.
type Issue struct {
	Severity    Severity `json:"severity"`
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Byte        int      `json:"byte,omitempty"`
	Spec        string   `json:"spec,omitempty"`
	Impl        string   `json:"impl,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Requirement is a published requirement definition with its current
// version.
type Requirement struct {
	ID          ident.ID           `json:"id"`
	Def         markdown.Definition `json:"def"`
}

// Coverage is the per-requirement coverage state for one impl.
type Coverage struct {
	CoveredImpl   bool `json:"coveredImpl"`
	CoveredVerify bool `json:"coveredVerify"`
	Stale         bool `json:"stale"`
}

// Uncovered reports whether the requirement is neither covered nor
// stale for impl.
func (c Coverage) Uncovered() bool {
	return !c.CoveredImpl && !c.Stale
}

// Stats aggregates coverage over a whole (spec, impl) pair.
type Stats struct {
	Total         int     `json:"total"`
	CoveredImpl   int     `json:"coveredImpl"`
	CoveredVerify int     `json:"coveredVerify"`
	Stale         int     `json:"stale"`
	Uncovered     int     `json:"uncovered"`
	ImplPercent   float64 `json:"implPercent"`
	VerifyPercent float64 `json:"verifyPercent"`
}

// FileUnits is the unit list of one scanned source file.
type FileUnits struct {
	Path  string       `json:"path"`
	Units []units.Unit `json:"units"`
	// Refs are the active references of the file, all prefixes.
	Refs []scanner.Reference `json:"refs"`
	Test bool                `json:"test"`
}

// Impl is the assembled view of one implementation of a spec.
type Impl struct {
	Name string `json:"name"`
	// RefsByBase holds the active references with this spec's prefix
	// found in the impl's file set that resolve to a published
	// requirement, grouped by base ID. References to unknown
	// requirements, references pinning a future version, and impl
	// references in test files are not included.
	RefsByBase map[string][]scanner.Reference `json:"refsByBase"`
	// Files maps canonical path to its units and references.
	Files map[string]*FileUnits `json:"files"`
	// Coverage maps base ID to coverage state.
	Coverage map[string]Coverage `json:"coverage"`
	Stats    Stats               `json:"stats"`
}

// SectionStats is the per-heading coverage aggregation for one impl.
type SectionStats struct {
	DirectTotal   int `json:"directTotal"`
	DirectCovered int `json:"directCovered"`
	AggTotal      int `json:"aggTotal"`
	AggCovered    int `json:"aggCovered"`
}

// OutlineEntry is one heading of a spec's outline with aggregated
// coverage per impl.
type OutlineEntry struct {
	File    string                  `json:"file"`
	Heading markdown.Heading        `json:"heading"`
	Stats   map[string]SectionStats `json:"stats"`
}

// Spec is the assembled view of one specification.
type Spec struct {
	Name      string `json:"name"`
	Prefix    string `json:"prefix"`
	SourceURL string `json:"sourceUrl,omitempty"`
	// Requirements holds published requirements sorted by base ID.
	Requirements []Requirement `json:"requirements"`
	byBase       map[string]int
	Outline      []OutlineEntry `json:"outline"`
	Impls        []*Impl        `json:"impls"`
}

// Requirement returns the published requirement with the given base ID.
func (s *Spec) Requirement(base string) (*Requirement, bool) {
	idx, ok := s.byBase[base]
	if !ok {
		return nil, false
	}
	return &s.Requirements[idx], true
}

// ImplByName returns the impl with the given name, or nil.
func (s *Spec) ImplByName(name string) *Impl {
	for _, im := range s.Impls {
		if im.Name == name {
			return im
		}
	}
	return nil
}

// BaseIDs returns all published base IDs in sorted order.
func (s *Spec) BaseIDs() []string {
	out := make([]string, 0, len(s.Requirements))
	for i := range s.Requirements {
		out = append(out, s.Requirements[i].ID.Base)
	}
	return out
}

// Snapshot is one immutable, versioned workspace model. Version is
// assigned by the daemon when the snapshot is published.
type Snapshot struct {
	Version uint64   `json:"version"`
	Specs   []*Spec  `json:"specs"`
	Issues  []Issue  `json:"issues"`
}

// SpecByName returns the spec with the given name, or nil.
func (s *Snapshot) SpecByName(name string) *Spec {
	for _, spec := range s.Specs {
		if spec.Name == name {
			return spec
		}
	}
	return nil
}

// SpecByPrefix returns the spec with the given prefix, or nil.
func (s *Snapshot) SpecByPrefix(prefix string) *Spec {
	for _, spec := range s.Specs {
		if spec.Prefix == prefix {
			return spec
		}
	}
	return nil
}

// Empty returns a snapshot with no specs, used before the first build
// and when no config exists.
func Empty() *Snapshot {
	return &Snapshot{}
}
