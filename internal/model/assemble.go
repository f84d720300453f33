package model

import (
	"fmt"
	"sort"

	"github.com/necessary-nu/tracey/internal/config"
	"github.com/necessary-nu/tracey/internal/ident"
	"github.com/necessary-nu/tracey/internal/markdown"
	"github.com/necessary-nu/tracey/internal/scanner"
	"github.com/necessary-nu/tracey/internal/units"
)

// SpecFile is one parsed Markdown file of a spec.
type SpecFile struct {
	Path   string
	Result markdown.FileResult
}

// ImplFile is one scanned source file of an implementation.
type ImplFile struct {
	Path  string
	Refs  scanner.FileRefs
	Units []units.Unit
	Test  bool
}

// Input is everything the assembler needs for one build.
type Input struct {
	Config *config.Config
	// Specs maps spec name to its parsed Markdown files.
	Specs map[string][]SpecFile
	// Impls maps spec name, then impl name, to scanned source files.
	Impls map[string]map[string][]ImplFile
	// Issues carries filesystem-level problems collected while walking.
	Issues []Issue
}

// Assemble merges per-file artifacts into a publishable snapshot.
// Parsing and merging problems become validation issues; they never
// fail the build.
func Assemble(in Input) *Snapshot {
	snap := &Snapshot{}
	snap.Issues = append(snap.Issues, in.Issues...)

	if in.Config == nil {
		return snap
	}

	for i := range in.Config.Specs {
		sc := &in.Config.Specs[i]
		spec := assembleSpec(sc, in.Specs[sc.Name], in.Impls[sc.Name], in.Config, &snap.Issues)
		snap.Specs = append(snap.Specs, spec)
	}

	return snap
}

func assembleSpec(sc *config.SpecConfig, files []SpecFile, implFiles map[string][]ImplFile, cfg *config.Config, issues *[]Issue) *Spec {
	spec := &Spec{
		Name:      sc.Name,
		Prefix:    sc.Prefix,
		SourceURL: sc.SourceURL,
		byBase:    make(map[string]int),
	}

	mergeDefinitions(spec, files, issues)
	buildOutlineEntries(spec, files)

	for j := range sc.Impls {
		ic := &sc.Impls[j]
		impl := assembleImpl(spec, ic.Name, implFiles[ic.Name], cfg, issues)
		spec.Impls = append(spec.Impls, impl)
	}

	aggregateOutline(spec, files)
	return spec
}

// mergeDefinitions gathers definitions across the spec's files. For
// each base, the highest observed version is current; any other
// definition of the same base is a duplicate issue. Bases whose
// duplicates tie on version are not published.
func mergeDefinitions(spec *Spec, files []SpecFile, issues *[]Issue) {
	type occurrence struct {
		def  markdown.Definition
		path string
	}
	byBase := make(map[string][]occurrence)
	var order []string

	for _, sf := range files {
		for _, pe := range sf.Result.Errors {
			*issues = append(*issues, Issue{
				Severity: SeverityError,
				Code:     pe.Code,
				Message:  pe.Message,
				File:     sf.Path,
				Line:     pe.Line,
				Byte:     pe.Byte,
				Spec:     spec.Name,
			})
		}
		for _, def := range sf.Result.Definitions {
			if _, seen := byBase[def.ID.Base]; !seen {
				order = append(order, def.ID.Base)
			}
			byBase[def.ID.Base] = append(byBase[def.ID.Base], occurrence{def: def, path: sf.Path})
		}
	}

	for _, base := range order {
		occs := byBase[base]
		if len(occs) == 1 {
			spec.publish(occs[0].def)
			continue
		}

		best := 0
		tie := false
		for i := 1; i < len(occs); i++ {
			switch {
			case occs[i].def.ID.Version > occs[best].def.ID.Version:
				best = i
				tie = false
			case occs[i].def.ID.Version == occs[best].def.ID.Version:
				tie = true
			}
		}

		locs := ""
		for i, occ := range occs {
			if i > 0 {
				locs += ", "
			}
			locs += fmt.Sprintf("%s:%d", occ.path, occ.def.Line)
		}
		*issues = append(*issues, Issue{
			Severity: SeverityError,
			Code:     CodeDuplicateRequirement,
			Message:  fmt.Sprintf("requirement %s defined more than once (%s)", base, locs),
			File:     occs[0].path,
			Line:     occs[0].def.Line,
			Byte:     occs[0].def.StartByte,
			Spec:     spec.Name,
		})

		if !tie {
			spec.publish(occs[best].def)
		}
	}

	sort.Slice(spec.Requirements, func(i, j int) bool {
		return spec.Requirements[i].ID.Base < spec.Requirements[j].ID.Base
	})
	for i := range spec.Requirements {
		spec.byBase[spec.Requirements[i].ID.Base] = i
	}
}

func (s *Spec) publish(def markdown.Definition) {
	s.Requirements = append(s.Requirements, Requirement{ID: def.ID, Def: def})
}

func assembleImpl(spec *Spec, name string, files []ImplFile, cfg *config.Config, issues *[]Issue) *Impl {
	impl := &Impl{
		Name:       name,
		RefsByBase: make(map[string][]scanner.Reference),
		Files:      make(map[string]*FileUnits),
		Coverage:   make(map[string]Coverage),
	}

	for _, f := range files {
		for _, w := range f.Refs.Warnings {
			*issues = append(*issues, Issue{
				Severity: warningSeverity(w.Code),
				Code:     w.Code,
				Message:  w.Message,
				File:     f.Path,
				Line:     w.Line,
				Byte:     w.Byte,
				Spec:     spec.Name,
				Impl:     name,
			})
		}

		active := f.Refs.Active()
		fu := &FileUnits{Path: f.Path, Units: f.Units, Refs: active, Test: f.Test}
		units.AssignReferences(fu.Units, active)
		impl.Files[f.Path] = fu

		for _, ref := range active {
			routeReference(spec, impl, f, ref, cfg, issues)
		}
	}

	computeCoverage(spec, impl, issues)
	return impl
}

// routeReference applies the merge rules to one active reference.
func routeReference(spec *Spec, impl *Impl, f ImplFile, ref scanner.Reference, cfg *config.Config, issues *[]Issue) {
	owner := cfg.SpecByPrefix(ref.Prefix)
	if owner == nil {
		*issues = append(*issues, Issue{
			Severity: SeverityError,
			Code:     CodeUnknownPrefix,
			Message:  fmt.Sprintf("reference prefix %q matches no configured spec", ref.Prefix),
			File:     f.Path,
			Line:     ref.Line,
			Byte:     ref.ByteOffset,
		})
		return
	}
	if owner.Prefix != spec.Prefix {
		// Belongs to another spec; it is picked up when that spec's
		// file sets are scanned.
		return
	}

	if f.Test && ref.Verb == scanner.VerbImpl {
		*issues = append(*issues, Issue{
			Severity: SeverityError,
			Code:     CodeImplInTestFile,
			Message:  fmt.Sprintf("impl reference to %s in test file", ref.ID),
			File:     f.Path,
			Line:     ref.Line,
			Byte:     ref.ByteOffset,
			Spec:     spec.Name,
			Impl:     impl.Name,
		})
		return
	}

	req, known := spec.Requirement(ref.ID.Base)
	if !known {
		*issues = append(*issues, Issue{
			Severity:    SeverityError,
			Code:        CodeUnknownRequirement,
			Message:     fmt.Sprintf("unknown requirement %s", ref.ID),
			File:        f.Path,
			Line:        ref.Line,
			Byte:        ref.ByteOffset,
			Spec:        spec.Name,
			Impl:        impl.Name,
			Suggestions: Suggest(ref.ID.Base, spec.BaseIDs()),
		})
		return
	}

	if ref.ID.Version > req.ID.Version {
		*issues = append(*issues, Issue{
			Severity: SeverityWarning,
			Code:     CodeFutureVersion,
			Message:  fmt.Sprintf("reference %s pins a version newer than current %s", ref.ID, req.ID),
			File:     f.Path,
			Line:     ref.Line,
			Byte:     ref.ByteOffset,
			Spec:     spec.Name,
			Impl:     impl.Name,
		})
		return
	}

	impl.RefsByBase[ref.ID.Base] = append(impl.RefsByBase[ref.ID.Base], ref)
}

// computeCoverage derives per-requirement coverage states and the
// aggregate stats for one impl. Only impl and verify references count;
// depends and related never contribute.
func computeCoverage(spec *Spec, impl *Impl, issues *[]Issue) {
	for i := range spec.Requirements {
		req := &spec.Requirements[i]
		var cov Coverage
		staleAt := scanner.Reference{}
		hasStale := false

		for _, ref := range impl.RefsByBase[req.ID.Base] {
			match := ident.Classify(req.ID, ref.ID)
			switch ref.Verb {
			case scanner.VerbImpl:
				if match == ident.Exact {
					cov.CoveredImpl = true
				} else if match == ident.Stale {
					hasStale = true
					staleAt = ref
				}
			case scanner.VerbVerify:
				if match == ident.Exact {
					cov.CoveredVerify = true
				}
			}
		}

		cov.Stale = !cov.CoveredImpl && hasStale
		if cov.Stale {
			*issues = append(*issues, Issue{
				Severity: SeverityWarning,
				Code:     CodeStaleReference,
				Message:  fmt.Sprintf("reference %s is stale, current version is %d", staleAt.ID, req.ID.Version),
				File:     staleAt.File,
				Line:     staleAt.Line,
				Byte:     staleAt.ByteOffset,
				Spec:     spec.Name,
				Impl:     impl.Name,
			})
		}

		impl.Coverage[req.ID.Base] = cov
	}

	stats := Stats{Total: len(spec.Requirements)}
	for _, cov := range impl.Coverage {
		if cov.CoveredImpl {
			stats.CoveredImpl++
		}
		if cov.CoveredVerify {
			stats.CoveredVerify++
		}
		if cov.Stale {
			stats.Stale++
		}
		if cov.Uncovered() {
			stats.Uncovered++
		}
	}
	if stats.Total > 0 {
		stats.ImplPercent = float64(stats.CoveredImpl) / float64(stats.Total) * 100
		stats.VerifyPercent = float64(stats.CoveredVerify) / float64(stats.Total) * 100
	}
	impl.Stats = stats
}

// buildOutlineEntries collects the per-file outlines into the spec.
func buildOutlineEntries(spec *Spec, files []SpecFile) {
	for _, sf := range files {
		for _, h := range sf.Result.Outline {
			spec.Outline = append(spec.Outline, OutlineEntry{
				File:    sf.Path,
				Heading: h,
				Stats:   make(map[string]SectionStats),
			})
		}
	}
}

// aggregateOutline computes direct and descendant coverage per heading
// for every impl. A requirement belongs directly to the last heading of
// its heading path; it aggregates into every ancestor.
func aggregateOutline(spec *Spec, files []SpecFile) {
	type key struct {
		file string
		slug string
	}
	index := make(map[key]int)
	for i := range spec.Outline {
		index[key{spec.Outline[i].File, spec.Outline[i].Heading.Slug}] = i
	}

	for _, sf := range files {
		for _, def := range sf.Result.Definitions {
			req, ok := spec.Requirement(def.ID.Base)
			if !ok || req.Def.SourceFile != def.SourceFile || req.Def.StartByte != def.StartByte {
				continue // unpublished or superseded definition
			}
			for _, impl := range spec.Impls {
				cov := impl.Coverage[def.ID.Base]
				covered := cov.CoveredImpl
				for depth, h := range def.HeadingPath {
					idx, found := index[key{sf.Path, h.Slug}]
					if !found {
						continue
					}
					st := spec.Outline[idx].Stats[impl.Name]
					st.AggTotal++
					if covered {
						st.AggCovered++
					}
					if depth == len(def.HeadingPath)-1 {
						st.DirectTotal++
						if covered {
							st.DirectCovered++
						}
					}
					spec.Outline[idx].Stats[impl.Name] = st
				}
			}
		}
	}
}

func warningSeverity(code string) Severity {
	switch code {
	case scanner.CodeUnknownVerb:
		return SeverityWarning
	case scanner.CodeIgnoreNested, scanner.CodeIgnoreUnclosed, scanner.CodeBadIdentifier:
		return SeverityError
	default:
		return SeverityWarning
	}
}
