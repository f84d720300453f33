package query

import (
	"fmt"

	"github.com/necessary-nu/tracey/internal/errors"
	"github.com/necessary-nu/tracey/internal/model"
	"github.com/necessary-nu/tracey/internal/units"
)

// RuleSummary is one requirement in a spec detail.
type RuleSummary struct {
	ID       string `json:"id"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Markdown string `json:"markdown"`
}

// SpecDetail is the spec() result: the outline with aggregated
// coverage plus every published requirement.
type SpecDetail struct {
	Spec         string               `json:"spec"`
	Prefix       string               `json:"prefix"`
	SourceURL    string               `json:"sourceUrl,omitempty"`
	Outline      []model.OutlineEntry `json:"outline"`
	Requirements []RuleSummary        `json:"requirements"`
}

// Spec returns the outline and requirement list of one spec.
func Spec(snap *model.Snapshot, name string) (*SpecDetail, error) {
	spec := snap.SpecByName(name)
	if spec == nil {
		return nil, errors.New(errors.SpecNotFound, fmt.Sprintf("no spec %q", name))
	}

	detail := &SpecDetail{
		Spec:      spec.Name,
		Prefix:    spec.Prefix,
		SourceURL: spec.SourceURL,
		Outline:   spec.Outline,
	}
	for i := range spec.Requirements {
		req := &spec.Requirements[i]
		detail.Requirements = append(detail.Requirements, RuleSummary{
			ID:       req.ID.String(),
			File:     req.Def.SourceFile,
			Line:     req.Def.Line,
			Markdown: req.Def.Raw,
		})
	}
	return detail, nil
}

// ForwardEntry maps one requirement to its references.
type ForwardEntry struct {
	ID       string         `json:"id"`
	Coverage model.Coverage `json:"coverage"`
	Refs     []RuleRef      `json:"refs"`
}

// ForwardResult is the forward() result for one (spec, impl) pair.
type ForwardResult struct {
	Spec    string         `json:"spec"`
	Impl    string         `json:"impl"`
	Entries []ForwardEntry `json:"entries"`
}

// Forward computes the rule-to-references mapping.
func Forward(snap *model.Snapshot, f Filter) []ForwardResult {
	var out []ForwardResult
	for _, spec := range snap.Specs {
		for _, impl := range spec.Impls {
			if !f.matchPair(spec, impl) {
				continue
			}
			res := ForwardResult{Spec: spec.Name, Impl: impl.Name}
			for i := range spec.Requirements {
				req := &spec.Requirements[i]
				entry := ForwardEntry{
					ID:       req.ID.String(),
					Coverage: impl.Coverage[req.ID.Base],
				}
				for _, ref := range impl.RefsByBase[req.ID.Base] {
					entry.Refs = append(entry.Refs, RuleRef{
						Impl:       impl.Name,
						Verb:       string(ref.Verb),
						File:       ref.File,
						Line:       ref.Line,
						ID:         ref.ID.String(),
						ByteOffset: ref.ByteOffset,
						ByteLength: ref.ByteLength,
					})
				}
				res.Entries = append(res.Entries, entry)
			}
			out = append(out, res)
		}
	}
	return out
}

// FileRef is one reference in a file detail.
type FileRef struct {
	ID         string `json:"id"`
	Verb       string `json:"verb"`
	Line       int    `json:"line"`
	ByteOffset int    `json:"byteOffset"`
	ByteLength int    `json:"byteLength"`
}

// FileDetail is the file() result: a scanned file's units and
// references.
type FileDetail struct {
	Spec  string       `json:"spec"`
	Impl  string       `json:"impl"`
	Path  string       `json:"path"`
	Test  bool         `json:"test"`
	Units []units.Unit `json:"units"`
	Refs  []FileRef    `json:"refs"`
}

// File returns one scanned file's units and references within a
// (spec, impl) pair.
func File(snap *model.Snapshot, f Filter, path string) (*FileDetail, error) {
	for _, spec := range snap.Specs {
		for _, impl := range spec.Impls {
			if !f.matchPair(spec, impl) {
				continue
			}
			fu, ok := impl.Files[path]
			if !ok {
				continue
			}
			detail := &FileDetail{
				Spec:  spec.Name,
				Impl:  impl.Name,
				Path:  path,
				Test:  fu.Test,
				Units: fu.Units,
			}
			for _, ref := range fu.Refs {
				detail.Refs = append(detail.Refs, FileRef{
					ID:         ref.ID.String(),
					Verb:       string(ref.Verb),
					Line:       ref.Line,
					ByteOffset: ref.ByteOffset,
					ByteLength: ref.ByteLength,
				})
			}
			return detail, nil
		}
	}
	return nil, errors.New(errors.FileNotFound, fmt.Sprintf("no scanned file %q", path))
}
