// Package units identifies syntactic units in source files, nested
// ones included, for reverse traceability.
package units

import (
	"context"
	"strings"

	"github.com/necessary-nu/tracey/internal/scanner"
)

// Kind classifies a code unit.
type Kind string

const (
	KindFunction Kind = "function"
	KindType     Kind = "type"
	KindImpl     Kind = "impl-block"
	KindModule   Kind = "module"
	KindConstant Kind = "constant"
	KindMacro    Kind = "macro"
	KindOther    Kind = "other"
)

// Unit is one syntactic region of a source file. StartLine includes
// any contiguous preceding comments and attributes.
type Unit struct {
	Kind      Kind                `json:"kind"`
	Name      string              `json:"name,omitempty"`
	File      string              `json:"file"`
	StartLine int                 `json:"startLine"`
	EndLine   int                 `json:"endLine"`
	Refs      []scanner.Reference `json:"refs,omitempty"`
}

// ExtractFile produces the units of one source file. Languages with a
// tree-sitter grammar get syntax-aware units; all other supported
// languages yield the whole file as a single unit.
func ExtractFile(ctx context.Context, file string, content []byte) []Unit {
	if us, ok := extractSyntax(ctx, file, content); ok {
		expandDocLines(file, content, us)
		return us
	}

	lines := 1 + strings.Count(string(content), "\n")
	return []Unit{{
		Kind:      KindOther,
		File:      file,
		StartLine: 1,
		EndLine:   lines,
	}}
}

// AssignReferences attaches each reference to the innermost unit whose
// line range contains the reference's line. References outside every
// unit are returned as unassigned.
func AssignReferences(us []Unit, refs []scanner.Reference) (unassigned []scanner.Reference) {
	for _, ref := range refs {
		best := -1
		for i := range us {
			u := &us[i]
			if ref.Line < u.StartLine || ref.Line > u.EndLine {
				continue
			}
			if best < 0 || innerThan(u, &us[best]) {
				best = i
			}
		}
		if best < 0 {
			unassigned = append(unassigned, ref)
			continue
		}
		us[best].Refs = append(us[best].Refs, ref)
	}
	return unassigned
}

// innerThan reports whether a encloses fewer lines than b, i.e. a is
// the more deeply nested of two units that both contain a line.
func innerThan(a, b *Unit) bool {
	return a.EndLine-a.StartLine < b.EndLine-b.StartLine
}

// expandDocLines extends each unit's StartLine upward through
// contiguous comment and attribute lines.
func expandDocLines(file string, content []byte, us []Unit) {
	lang, ok := scanner.LanguageForPath(file)
	if !ok {
		return
	}
	lines := strings.Split(string(content), "\n")

	isDocLine := func(idx int) bool {
		if idx < 0 || idx >= len(lines) {
			return false
		}
		t := strings.TrimSpace(lines[idx])
		if t == "" {
			return false
		}
		for _, delim := range lang.LineComments {
			if strings.HasPrefix(t, delim) {
				return true
			}
		}
		for _, pair := range lang.BlockComments {
			if strings.HasPrefix(t, pair[0]) || strings.HasSuffix(t, pair[1]) {
				return true
			}
		}
		// Attributes, decorators, and annotations.
		if strings.HasPrefix(t, "#[") || strings.HasPrefix(t, "@") || strings.HasPrefix(t, "*") {
			return true
		}
		return false
	}

	for i := range us {
		start := us[i].StartLine
		for start > 1 && isDocLine(start-2) {
			start--
		}
		us[i].StartLine = start
	}
}
