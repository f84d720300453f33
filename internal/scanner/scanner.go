// Package scanner extracts requirement references and ignore
// directives from source-file comments.
//
// The reference grammar inside a comment is PREFIX "[" [VERB SP] IDENT
// "]" where PREFIX matches a configured spec prefix. The token "test"
// is a synonym for "verify"; an absent verb means "impl". References
// enclosed in backticks are not extracted.
package scanner

import (
	"strconv"
	"strings"

	"github.com/necessary-nu/tracey/internal/ident"
)

// Verb is the relationship between a code location and a requirement.
type Verb string

const (
	VerbImpl    Verb = "impl"
	VerbVerify  Verb = "verify"
	VerbDepends Verb = "depends"
	VerbRelated Verb = "related"
	VerbUnknown Verb = "unknown"
)

// ParseVerb maps a verb token to a Verb. The second return reports
// whether the token named a known verb.
func ParseVerb(s string) (Verb, bool) {
	switch s {
	case "impl":
		return VerbImpl, true
	case "verify", "test":
		return VerbVerify, true
	case "depends":
		return VerbDepends, true
	case "related":
		return VerbRelated, true
	default:
		return VerbUnknown, false
	}
}

// Reference is a requirement reference found in a source comment.
type Reference struct {
	ID         ident.ID `json:"id"`
	Prefix     string   `json:"prefix"`
	Verb       Verb     `json:"verb"`
	File       string   `json:"file"`
	ByteOffset int      `json:"byteOffset"`
	ByteLength int      `json:"byteLength"`
	Line       int      `json:"line"`
	Ignored    bool     `json:"ignored"`
}

// Warning codes produced while scanning.
const (
	CodeUnknownVerb    = "unknown_verb"
	CodeBadIdentifier  = "bad_identifier"
	CodeIgnoreNested   = "ignore_nested"
	CodeIgnoreUnclosed = "ignore_unclosed"
)

// Warning is a non-fatal problem found while scanning one file.
type Warning struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Byte    int    `json:"byte"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FileRefs is the scan result for one source file.
type FileRefs struct {
	References []Reference
	Warnings   []Warning
}

// Active returns the references not suppressed by ignore directives.
func (fr *FileRefs) Active() []Reference {
	out := make([]Reference, 0, len(fr.References))
	for _, r := range fr.References {
		if !r.Ignored {
			out = append(out, r)
		}
	}
	return out
}

// commentRegion is one comment's text span within the file.
type commentRegion struct {
	start int // byte offset of first content character
	end   int // byte offset past the last content character
	line  int // 1-based line of the region start
	block bool
}

const (
	directiveNextLine = "@tracey:ignore-next-line"
	directiveStart    = "@tracey:ignore-start"
	directiveEnd      = "@tracey:ignore-end"
)

// ExtractFile scans one source file for references and directives.
// Files whose extension has no configured language yield an empty
// result.
func ExtractFile(file string, content string, prefixes []string) FileRefs {
	lang, ok := LanguageForPath(file)
	if !ok {
		return FileRefs{}
	}
	return extract(file, content, lang, prefixes)
}

func extract(file string, content string, lang Language, prefixes []string) FileRefs {
	var fr FileRefs

	regions := commentRegions(content, lang)
	lineOf := newLineIndex(content)

	// First pass: collect ignore directives from line comments.
	ignored := make(map[int]bool)
	openStart := -1 // line of an open ignore-start, or -1
	for _, reg := range regions {
		if reg.block {
			continue
		}
		text := content[reg.start:reg.end]
		line := lineOf(reg.start)
		switch {
		case strings.Contains(text, directiveNextLine):
			ignored[line+1] = true
		case strings.Contains(text, directiveStart):
			if openStart >= 0 {
				fr.Warnings = append(fr.Warnings, Warning{
					File: file, Line: line, Byte: reg.start,
					Code:    CodeIgnoreNested,
					Message: "ignore-start while a block opened on line " + strconv.Itoa(openStart) + " is still open",
				})
				continue
			}
			openStart = line
		case strings.Contains(text, directiveEnd):
			if openStart < 0 {
				continue
			}
			for l := openStart; l <= line; l++ {
				ignored[l] = true
			}
			openStart = -1
		}
	}
	if openStart >= 0 {
		fr.Warnings = append(fr.Warnings, Warning{
			File: file, Line: openStart, Byte: 0,
			Code:    CodeIgnoreUnclosed,
			Message: "ignore-start on line " + strconv.Itoa(openStart) + " is never closed",
		})
		// An unclosed block suppresses through end-of-file.
		last := lineOf(len(content))
		for l := openStart; l <= last; l++ {
			ignored[l] = true
		}
	}

	// Second pass: extract references from all comment regions.
	for _, reg := range regions {
		scanRegion(&fr, file, content, reg, prefixes, lineOf, ignored)
	}

	return fr
}

// scanRegion extracts references from one comment region.
func scanRegion(fr *FileRefs, file, content string, reg commentRegion, prefixes []string, lineOf func(int) int, ignored map[int]bool) {
	text := content[reg.start:reg.end]
	inBacktick := false

	for i := 0; i < len(text); i++ {
		if text[i] == '`' {
			inBacktick = !inBacktick
			continue
		}
		if text[i] == '\n' {
			// Backtick spans do not cross comment lines.
			inBacktick = false
			continue
		}
		if inBacktick {
			continue
		}

		prefix, ok := prefixAt(text, i, prefixes)
		if !ok {
			continue
		}

		open := i + len(prefix) // index of "["
		closeRel := indexBeforeNewline(text[open+1:], ']')
		if closeRel < 0 {
			continue
		}
		inner := text[open+1 : open+1+closeRel]
		refLen := len(prefix) + 1 + closeRel + 1
		absOffset := reg.start + i
		line := lineOf(absOffset)

		verb, idText, warn := splitRef(inner)
		if warn != "" {
			fr.Warnings = append(fr.Warnings, Warning{
				File: file, Line: line, Byte: absOffset,
				Code:    CodeUnknownVerb,
				Message: warn,
			})
		}

		id, err := ident.Parse(idText)
		if err != nil {
			fr.Warnings = append(fr.Warnings, Warning{
				File: file, Line: line, Byte: absOffset,
				Code:    CodeBadIdentifier,
				Message: err.Error(),
			})
			i = open + closeRel + 1
			continue
		}

		fr.References = append(fr.References, Reference{
			ID:         id,
			Prefix:     prefix,
			Verb:       verb,
			File:       file,
			ByteOffset: absOffset,
			ByteLength: refLen,
			Line:       line,
			Ignored:    ignored[line],
		})
		i = open + closeRel + 1
	}
}

// splitRef splits the bracket interior into verb and identifier. A
// one-token interior is an implicit impl. A first token that is not a
// known verb records the reference with the unknown verb and returns a
// warning message.
func splitRef(inner string) (verb Verb, idText, warning string) {
	verbTok, rest, hasSpace := strings.Cut(inner, " ")
	if !hasSpace {
		return VerbImpl, inner, ""
	}
	v, known := ParseVerb(verbTok)
	if !known {
		return VerbUnknown, rest, "unknown verb " + strings.TrimSpace(verbTok)
	}
	return v, rest, ""
}

// prefixAt matches a configured prefix at text[i] with a following "["
// and a non-identifier character before it.
func prefixAt(text string, i int, prefixes []string) (string, bool) {
	if i > 0 {
		c := text[i-1]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			return "", false
		}
	}
	for _, p := range prefixes {
		if p == "" || !strings.HasPrefix(text[i:], p) {
			continue
		}
		if i+len(p) < len(text) && text[i+len(p)] == '[' {
			return p, true
		}
	}
	return "", false
}

// indexBeforeNewline finds c in s before the first newline.
func indexBeforeNewline(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case c:
			return i
		case '\n':
			return -1
		}
	}
	return -1
}

// commentRegions scans the file once, left to right, producing comment
// content spans. At each position, block delimiters are tried before
// line delimiters.
func commentRegions(content string, lang Language) []commentRegion {
	var regions []commentRegion
	line := 1

	i := 0
	for i < len(content) {
		if content[i] == '\n' {
			line++
			i++
			continue
		}

		matched := false
		for _, pair := range lang.BlockComments {
			open, close := pair[0], pair[1]
			if !strings.HasPrefix(content[i:], open) {
				continue
			}
			start := i + len(open)
			endRel := strings.Index(content[start:], close)
			var end, next int
			if endRel < 0 {
				end = len(content)
				next = len(content)
			} else {
				end = start + endRel
				next = end + len(close)
			}
			regions = append(regions, commentRegion{start: start, end: end, line: line, block: true})
			line += strings.Count(content[i:next], "\n")
			i = next
			matched = true
			break
		}
		if matched {
			continue
		}

		for _, delim := range lang.LineComments {
			if !strings.HasPrefix(content[i:], delim) {
				continue
			}
			start := i + len(delim)
			endRel := strings.IndexByte(content[start:], '\n')
			end := len(content)
			if endRel >= 0 {
				end = start + endRel
			}
			regions = append(regions, commentRegion{start: start, end: end, line: line})
			i = end
			matched = true
			break
		}
		if !matched {
			i++
		}
	}

	return regions
}

// newLineIndex returns a function mapping byte offsets to 1-based
// line numbers.
func newLineIndex(content string) func(int) int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return func(offset int) int {
		lo, hi := 0, len(starts)-1
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if starts[mid] <= offset {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		return lo + 1
	}
}
