// Package markdown extracts requirement definitions and the heading
// outline from Markdown spec documents.
//
// A definition is a line at column 0 of the form `PREFIX[IDENT]` with
// nothing but whitespace after the closing bracket, or the blockquote
// form `> PREFIX[IDENT]`. Markers inside code fences, indented code
// blocks, or prose are not recognized.
package markdown

import (
	"strconv"
	"strings"

	"github.com/necessary-nu/tracey/internal/ident"
)

// Heading is one entry of a file's outline.
type Heading struct {
	Level      int    `json:"level"`
	Text       string `json:"text"`
	Slug       string `json:"slug"`
	Line       int    `json:"line"`
	ByteOffset int    `json:"byteOffset"`
}

// MaxOutlineLevel is the deepest heading level included in the outline.
const MaxOutlineLevel = 4

// Definition is a requirement definition extracted from one file.
type Definition struct {
	ID          ident.ID  `json:"id"`
	Prefix      string    `json:"prefix"`
	Raw         string    `json:"raw"`
	SourceFile  string    `json:"sourceFile"`
	StartByte   int       `json:"startByte"`
	EndByte     int       `json:"endByte"`
	Line        int       `json:"line"`
	HeadingPath []Heading `json:"headingPath"`
	OrderInFile int       `json:"orderInFile"`
}

// ParseError is a malformed-marker or duplicate-identifier error.
type ParseError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Byte    int    `json:"byte"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes produced by this package.
const (
	CodeBadIdentifier = "bad_identifier"
	CodeDuplicateID   = "duplicate_requirement"
)

// FileResult is everything extracted from one Markdown file.
type FileResult struct {
	Definitions []Definition
	Outline     []Heading
	Errors      []ParseError
}

type line struct {
	text  string // without trailing newline
	start int    // byte offset of first character
	num   int    // 1-based
}

func splitLines(content string) []line {
	var out []line
	start := 0
	num := 1
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			out = append(out, line{text: content[start:i], start: start, num: num})
			start = i + 1
			num++
		}
	}
	if start < len(content) {
		out = append(out, line{text: content[start:], start: start, num: num})
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isFenceDelimiter(s string) bool {
	t := strings.TrimLeft(s, " ")
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

func atxLevel(s string) int {
	if !strings.HasPrefix(s, "#") {
		return 0
	}
	level := 0
	for level < len(s) && s[level] == '#' {
		level++
	}
	if level > 6 {
		return 0
	}
	if level < len(s) && s[level] != ' ' && s[level] != '\t' {
		return 0
	}
	return level
}

func setextLevel(s string) int {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0
	}
	if strings.Trim(t, "=") == "" {
		return 1
	}
	if len(t) >= 2 && strings.Trim(t, "-") == "" {
		return 2
	}
	return 0
}

// markerAt matches `PREFIX[IDENT]` at the start of s against the
// configured prefixes. Returns the prefix, the raw identifier text, and
// the byte length through the closing bracket.
func markerAt(s string, prefixes []string) (prefix, rawID string, length int, ok bool) {
	for _, p := range prefixes {
		if p == "" || !strings.HasPrefix(s, p) || len(s) <= len(p) || s[len(p)] != '[' {
			continue
		}
		rest := s[len(p)+1:]
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			continue
		}
		return p, rest[:end], len(p) + 1 + end + 1, true
	}
	return "", "", 0, false
}

// Slugify produces a deterministic slug: lowercase, non-alphanumeric
// runs collapsed to single dashes, leading/trailing dashes trimmed.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// ParseFile extracts definitions and the outline from one file.
// Definitions are recognized only against the configured prefixes.
func ParseFile(file string, content string, prefixes []string) FileResult {
	var res FileResult
	lines := splitLines(content)

	var headingStack []Heading
	slugCounts := make(map[string]int)
	seen := make(map[string]int) // base -> index into res.Definitions
	inFence := false

	pushHeading := func(level int, text string, ln line) {
		slug := Slugify(text)
		if n := slugCounts[slug]; n > 0 {
			slugCounts[slug] = n + 1
			slug = slug + "-" + strconv.Itoa(n)
		} else {
			slugCounts[slug] = 1
		}
		h := Heading{Level: level, Text: text, Slug: slug, Line: ln.num, ByteOffset: ln.start}
		if level <= MaxOutlineLevel {
			res.Outline = append(res.Outline, h)
		}
		for len(headingStack) > 0 && headingStack[len(headingStack)-1].Level >= level {
			headingStack = headingStack[:len(headingStack)-1]
		}
		headingStack = append(headingStack, h)
	}

	// isBoundary reports whether a line terminates a definition span.
	isBoundary := func(i int) bool {
		ln := lines[i]
		if isBlank(ln.text) || isFenceDelimiter(ln.text) || atxLevel(ln.text) > 0 {
			return true
		}
		if i+1 < len(lines) && setextLevel(lines[i+1].text) > 0 && !isBlank(ln.text) {
			return true
		}
		if _, _, mlen, ok := markerAt(ln.text, prefixes); ok && isBlank(ln.text[mlen:]) {
			return true
		}
		trimmed := strings.TrimPrefix(ln.text, "> ")
		if trimmed != ln.text {
			if _, _, mlen, ok := markerAt(trimmed, prefixes); ok && isBlank(trimmed[mlen:]) {
				return true
			}
		}
		return false
	}

	for i := 0; i < len(lines); i++ {
		ln := lines[i]

		if isFenceDelimiter(ln.text) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if level := atxLevel(ln.text); level > 0 {
			text := strings.TrimSpace(strings.Trim(strings.TrimSpace(ln.text), "#"))
			pushHeading(level, text, ln)
			continue
		}
		if i+1 < len(lines) && !isBlank(ln.text) && setextLevel(lines[i+1].text) > 0 {
			// Setext heading: this line is the text, the next underlines it.
			if _, _, _, ok := markerAt(ln.text, prefixes); !ok {
				pushHeading(setextLevel(lines[i+1].text), strings.TrimSpace(ln.text), ln)
				i++
				continue
			}
		}

		// Blockquote form: "> PREFIX[IDENT]" starting the quote block.
		if rest, isQuote := strings.CutPrefix(ln.text, "> "); isQuote {
			prefix, rawID, mlen, ok := markerAt(rest, prefixes)
			if ok && isBlank(rest[mlen:]) {
				end := i
				for end+1 < len(lines) && strings.HasPrefix(lines[end+1].text, ">") {
					end++
				}
				endByte := lines[end].start + len(lines[end].text)
				res.addDefinition(file, prefix, rawID, ln, content[ln.start:endByte], endByte, headingStack, seen)
				i = end
			}
			continue
		}

		// Standalone form: marker at column 0, only whitespace after "]".
		prefix, rawID, mlen, ok := markerAt(ln.text, prefixes)
		if !ok || !isBlank(ln.text[mlen:]) {
			continue
		}

		end := i
		for end+1 < len(lines) && !isBoundary(end+1) {
			end++
		}
		endByte := lines[end].start + len(lines[end].text)
		res.addDefinition(file, prefix, rawID, ln, content[ln.start:endByte], endByte, headingStack, seen)
		i = end
	}

	return res
}

func (res *FileResult) addDefinition(file, prefix, rawID string, ln line, raw string, endByte int, headingStack []Heading, seen map[string]int) {
	id, err := ident.Parse(rawID)
	if err != nil {
		res.Errors = append(res.Errors, ParseError{
			File:    file,
			Line:    ln.num,
			Byte:    ln.start,
			Code:    CodeBadIdentifier,
			Message: err.Error(),
		})
		return
	}

	if prevIdx, dup := seen[id.Base]; dup {
		prev := res.Definitions[prevIdx]
		res.Errors = append(res.Errors, ParseError{
			File: file,
			Line: ln.num,
			Byte: ln.start,
			Code: CodeDuplicateID,
			Message: "duplicate requirement " + id.Base +
				" (first defined at byte " + strconv.Itoa(prev.StartByte) + ")",
		})
		return
	}
	seen[id.Base] = len(res.Definitions)

	path := make([]Heading, len(headingStack))
	copy(path, headingStack)

	res.Definitions = append(res.Definitions, Definition{
		ID:          id,
		Prefix:      prefix,
		Raw:         raw,
		SourceFile:  file,
		StartByte:   ln.start,
		EndByte:     endByte,
		Line:        ln.num,
		HeadingPath: path,
		OrderInFile: len(res.Definitions),
	})
}
