package lsp

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/ident"
	"github.com/necessary-nu/tracey/internal/markdown"
	"github.com/necessary-nu/tracey/internal/model"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/query"
	"github.com/necessary-nu/tracey/internal/scanner"
)

// marker is a requirement marker under the cursor: a definition in
// Markdown or a reference in a source comment.
type marker struct {
	id    ident.ID
	start int // byte offset of the marker
	end   int // byte offset past the closing bracket
	def   bool
}

// prefixes fetches the configured prefix set from the daemon.
func (s *Server) prefixes(ctx context.Context) []string {
	var result struct {
		Config struct {
			Specs []struct {
				Prefix string `json:"prefix"`
			} `json:"specs"`
		} `json:"config"`
	}
	if err := s.client.Call(ctx, daemon.MethodConfig, nil, &result); err != nil {
		return nil
	}
	out := make([]string, 0, len(result.Config.Specs))
	for _, sc := range result.Config.Specs {
		out = append(out, sc.Prefix)
	}
	return out
}

// specNames fetches the configured spec names from the daemon.
func (s *Server) specNames(ctx context.Context) []string {
	var result struct {
		Config struct {
			Specs []struct {
				Name string `json:"name"`
			} `json:"specs"`
		} `json:"config"`
	}
	if err := s.client.Call(ctx, daemon.MethodConfig, nil, &result); err != nil {
		return nil
	}
	out := make([]string, 0, len(result.Config.Specs))
	for _, sc := range result.Config.Specs {
		out = append(out, sc.Name)
	}
	return out
}

// markerAt finds the marker covering a byte offset, scanning the text
// with the same extractors the build uses.
func markerAt(rel, text string, offset int, prefixes []string) (marker, bool) {
	if strings.HasSuffix(rel, ".md") {
		res := markdown.ParseFile(rel, text, prefixes)
		for _, def := range res.Definitions {
			end := def.StartByte + markerLen(text[def.StartByte:])
			if offset >= def.StartByte && offset < end {
				return marker{id: def.ID, start: def.StartByte, end: end, def: true}, true
			}
		}
		return marker{}, false
	}

	refs := scanner.ExtractFile(rel, text, prefixes)
	for _, ref := range refs.References {
		if offset >= ref.ByteOffset && offset < ref.ByteOffset+ref.ByteLength {
			return marker{id: ref.ID, start: ref.ByteOffset, end: ref.ByteOffset + ref.ByteLength}, true
		}
	}
	return marker{}, false
}

// markerLen measures "prefix[...]" from the start of a marker.
func markerLen(s string) int {
	idx := strings.IndexByte(s, ']')
	if idx < 0 {
		return 0
	}
	return idx + 1
}

func (s *Server) markerAtPosition(ctx context.Context, p textDocumentPositionParams) (marker, string, string, bool) {
	rel, ok := s.uriToRel(p.TextDocument.URI)
	if !ok {
		return marker{}, "", "", false
	}
	text := s.docText(p.TextDocument.URI)
	offset := offsetAt(text, p.Position)

	m, found := markerAt(rel, text, offset, s.prefixes(ctx))
	return m, rel, text, found
}

// hover shows the requirement text, a coverage hint, and the version
// relationship of the hovered marker.
func (s *Server) hover(ctx context.Context, p textDocumentPositionParams) (interface{}, error) {
	m, _, text, found := s.markerAtPosition(ctx, p)
	if !found {
		return nil, nil
	}

	var detail query.RuleDetail
	if err := s.client.Call(ctx, daemon.MethodRule, daemon.RuleParams{ID: m.id.Base}, &detail); err != nil {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString(detail.Markdown)
	b.WriteString("\n\n---\n")
	for impl, cov := range detail.Coverage {
		fmt.Fprintf(&b, "\n**%s**: impl %v, verify %v", impl, cov.CoveredImpl, cov.CoveredVerify)
		if cov.Stale {
			b.WriteString(", **stale**")
		}
	}
	if !m.def && m.id.Version < detail.Version {
		fmt.Fprintf(&b, "\n\nReference pins version %d; current is %d.", m.id.Version, detail.Version)
	}

	r := rangeOf(text, m.start, m.end)
	return hoverResult{
		Contents: markupContent{Kind: "markdown", Value: b.String()},
		Range:    &r,
	}, nil
}

// definition jumps from a reference to the requirement definition.
func (s *Server) definition(ctx context.Context, p textDocumentPositionParams) (interface{}, error) {
	m, _, _, found := s.markerAtPosition(ctx, p)
	if !found {
		return nil, nil
	}

	var detail query.RuleDetail
	if err := s.client.Call(ctx, daemon.MethodRule, daemon.RuleParams{ID: m.id.Base}, &detail); err != nil {
		return nil, nil
	}

	defText := s.fileText(detail.File)
	end := detail.StartByte + markerLen(defText[min(detail.StartByte, len(defText)):])
	return []location{{
		URI:   s.relToURI(detail.File),
		Range: rangeOf(defText, detail.StartByte, min(end, len(defText))),
	}}, nil
}

// implementation lists the impl references of the marker's requirement.
func (s *Server) implementation(ctx context.Context, p textDocumentPositionParams) (interface{}, error) {
	return s.refLocations(ctx, p, func(ref query.RuleRef) bool {
		return ref.Verb == string(scanner.VerbImpl)
	}, false)
}

// references lists every reference plus the definition.
func (s *Server) references(ctx context.Context, p textDocumentPositionParams) (interface{}, error) {
	return s.refLocations(ctx, p, func(query.RuleRef) bool { return true }, true)
}

func (s *Server) refLocations(ctx context.Context, p textDocumentPositionParams, keep func(query.RuleRef) bool, includeDef bool) (interface{}, error) {
	m, _, _, found := s.markerAtPosition(ctx, p)
	if !found {
		return nil, nil
	}

	var detail query.RuleDetail
	if err := s.client.Call(ctx, daemon.MethodRule, daemon.RuleParams{ID: m.id.Base}, &detail); err != nil {
		return nil, nil
	}

	var locs []location
	if includeDef {
		defText := s.fileText(detail.File)
		end := min(detail.StartByte+markerLen(defText[min(detail.StartByte, len(defText)):]), len(defText))
		locs = append(locs, location{
			URI:   s.relToURI(detail.File),
			Range: rangeOf(defText, detail.StartByte, end),
		})
	}
	for _, ref := range detail.Refs {
		if !keep(ref) {
			continue
		}
		text := s.fileText(ref.File)
		locs = append(locs, location{
			URI:   s.relToURI(ref.File),
			Range: rangeOf(text, ref.ByteOffset, min(ref.ByteOffset+ref.ByteLength, len(text))),
		})
	}
	return locs, nil
}

// completion offers verbs and base IDs inside an open "PREFIX[".
func (s *Server) completion(ctx context.Context, p textDocumentPositionParams) (interface{}, error) {
	if _, ok := s.uriToRel(p.TextDocument.URI); !ok {
		return nil, nil
	}

	text := s.docText(p.TextDocument.URI)
	offset := offsetAt(text, p.Position)
	lineStart := strings.LastIndexByte(text[:min(offset, len(text))], '\n') + 1
	line := text[lineStart:min(offset, len(text))]

	open := -1
	for _, prefix := range s.prefixes(ctx) {
		if idx := strings.LastIndex(line, prefix+"["); idx >= 0 {
			inner := line[idx+len(prefix)+1:]
			if !strings.Contains(inner, "]") && idx+len(prefix)+1 > open {
				open = idx + len(prefix) + 1
			}
		}
	}
	if open < 0 {
		return nil, nil
	}
	inner := line[open:]

	var items []completionItem
	if !strings.Contains(inner, " ") {
		for _, verb := range []string{"impl", "verify", "test", "depends", "related"} {
			items = append(items, completionItem{
				Label:      verb,
				Kind:       completionKindKeyword,
				Detail:     "verb",
				InsertText: verb + " ",
			})
		}
	}

	for _, name := range s.specNames(ctx) {
		var detail query.SpecDetail
		if err := s.client.Call(ctx, daemon.MethodSpec, daemon.FilterParams{Spec: name}, &detail); err != nil {
			continue
		}
		for _, req := range detail.Requirements {
			items = append(items, completionItem{
				Label:         req.ID,
				Kind:          completionKindValue,
				Detail:        name,
				Documentation: req.Markdown,
			})
		}
	}
	return items, nil
}

// handleCodeLens emits coverage counts above each requirement defined
// in a Markdown document.
func (s *Server) handleCodeLens(msg *rpcMessage) {
	var p struct {
		TextDocument textDocumentIdentifier `json:"textDocument"`
	}
	unmarshal(msg.Params, &p)

	rel, ok := s.uriToRel(p.TextDocument.URI)
	if !ok || !strings.HasSuffix(rel, ".md") {
		s.reply(msg, []codeLens{})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	text := s.docText(p.TextDocument.URI)
	res := markdown.ParseFile(rel, text, s.prefixes(ctx))

	var lenses []codeLens
	for _, def := range res.Definitions {
		var detail query.RuleDetail
		if err := s.client.Call(ctx, daemon.MethodRule, daemon.RuleParams{ID: def.ID.Base}, &detail); err != nil {
			continue
		}
		counts := map[string]int{}
		for _, ref := range detail.Refs {
			counts[ref.Verb]++
		}
		title := fmt.Sprintf("%d impl, %d verify", counts["impl"], counts["verify"])

		end := def.StartByte + markerLen(text[def.StartByte:])
		lenses = append(lenses, codeLens{
			Range: rangeOf(text, def.StartByte, end),
			Command: &command{
				Title:     title,
				Command:   "tracey.showRule",
				Arguments: []interface{}{def.ID.Base},
			},
		})
	}
	if lenses == nil {
		lenses = []codeLens{}
	}
	s.reply(msg, lenses)
}

// handleCodeAction offers creating a missing requirement and opening
// the dashboard.
func (s *Server) handleCodeAction(msg *rpcMessage) {
	var p struct {
		TextDocument textDocumentIdentifier `json:"textDocument"`
		Context      struct {
			Diagnostics []diagnostic `json:"diagnostics"`
		} `json:"context"`
	}
	unmarshal(msg.Params, &p)

	var actions []codeAction
	for _, d := range p.Context.Diagnostics {
		if d.Code != model.CodeUnknownRequirement {
			continue
		}
		actions = append(actions, codeAction{
			Title: "Create missing requirement",
			Kind:  "quickfix",
			Command: &command{
				Title:   "Create missing requirement",
				Command: "tracey.createRequirement",
				Arguments: []interface{}{
					p.TextDocument.URI, d.Range,
				},
			},
		})
	}
	actions = append(actions, codeAction{
		Title: "Open tracey dashboard",
		Command: &command{
			Title:   "Open tracey dashboard",
			Command: "tracey.openDashboard",
		},
	})
	s.reply(msg, actions)
}

// handleDocumentSymbol lists the requirements defined in a Markdown
// document.
func (s *Server) handleDocumentSymbol(msg *rpcMessage) {
	var p struct {
		TextDocument textDocumentIdentifier `json:"textDocument"`
	}
	unmarshal(msg.Params, &p)

	rel, ok := s.uriToRel(p.TextDocument.URI)
	if !ok || !strings.HasSuffix(rel, ".md") {
		s.reply(msg, []documentSymbol{})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	text := s.docText(p.TextDocument.URI)
	res := markdown.ParseFile(rel, text, s.prefixes(ctx))

	symbols := make([]documentSymbol, 0, len(res.Definitions))
	for _, def := range res.Definitions {
		r := rangeOf(text, def.StartByte, def.EndByte)
		sel := rangeOf(text, def.StartByte, def.StartByte+markerLen(text[def.StartByte:]))
		symbols = append(symbols, documentSymbol{
			Name:           def.ID.String(),
			Kind:           symbolKindKey,
			Range:          r,
			SelectionRange: sel,
		})
	}
	s.reply(msg, symbols)
}

// handleWorkspaceSymbol lists every requirement across specs.
func (s *Server) handleWorkspaceSymbol(msg *rpcMessage) {
	var p struct {
		Query string `json:"query"`
	}
	unmarshal(msg.Params, &p)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var symbols []workspaceSymbol
	for _, name := range s.specNames(ctx) {
		var detail query.SpecDetail
		if err := s.client.Call(ctx, daemon.MethodSpec, daemon.FilterParams{Spec: name}, &detail); err != nil {
			continue
		}
		for _, req := range detail.Requirements {
			if p.Query != "" && !strings.Contains(req.ID, p.Query) {
				continue
			}
			symbols = append(symbols, workspaceSymbol{
				Name: req.ID,
				Kind: symbolKindKey,
				Location: location{
					URI: s.relToURI(req.File),
					Range: lspRange{
						Start: position{Line: req.Line - 1},
						End:   position{Line: req.Line - 1},
					},
				},
			})
		}
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Name < symbols[j].Name })
	s.reply(msg, symbols)
}

// handlePrepareRename returns the base-ID span of the marker under the
// cursor.
func (s *Server) handlePrepareRename(msg *rpcMessage) {
	var p textDocumentPositionParams
	unmarshal(msg.Params, &p)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	m, _, text, found := s.markerAtPosition(ctx, p)
	if !found {
		s.reply(msg, nil)
		return
	}

	start, end, ok := baseSpan(text, m)
	if !ok {
		s.reply(msg, nil)
		return
	}
	r := rangeOf(text, start, end)
	s.reply(msg, r)
}

// handleRename rewrites a base ID across the definition and every
// reference.
func (s *Server) handleRename(msg *rpcMessage) {
	var p renameParams
	unmarshal(msg.Params, &p)

	newID, err := ident.Parse(p.NewName)
	if err != nil || newID.Version != 1 {
		s.replyError(msg, codeInvalidParams, "new name must be a plain base ID")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	m, _, _, found := s.markerAtPosition(ctx, textDocumentPositionParams{
		TextDocument: p.TextDocument,
		Position:     p.Position,
	})
	if !found {
		s.replyError(msg, codeInvalidParams, "no requirement marker at cursor")
		return
	}

	var detail query.RuleDetail
	if err := s.client.Call(ctx, daemon.MethodRule, daemon.RuleParams{ID: m.id.Base}, &detail); err != nil {
		s.replyError(msg, codeRequestFailed, err.Error())
		return
	}

	edits := make(map[string][]textEdit)
	addEdit := func(rel string, start, length int) {
		text := s.fileText(rel)
		if start+length > len(text) {
			return
		}
		mk := marker{id: m.id, start: start, end: start + length}
		bs, be, ok := baseSpan(text, mk)
		if !ok {
			return
		}
		uri := s.relToURI(rel)
		edits[uri] = append(edits[uri], textEdit{
			Range:   rangeOf(text, bs, be),
			NewText: newID.Base,
		})
	}

	defText := s.fileText(detail.File)
	addEdit(detail.File, detail.StartByte, markerLen(defText[min(detail.StartByte, len(defText)):]))
	for _, ref := range detail.Refs {
		addEdit(ref.File, ref.ByteOffset, ref.ByteLength)
	}

	s.reply(msg, workspaceEdit{Changes: edits})
}

// baseSpan locates the base-ID bytes within a marker span.
func baseSpan(text string, m marker) (int, int, bool) {
	if m.start >= len(text) || m.end > len(text) {
		return 0, 0, false
	}
	markerText := text[m.start:m.end]
	idx := strings.Index(markerText, m.id.Base)
	if idx < 0 {
		return 0, 0, false
	}
	return m.start + idx, m.start + idx + len(m.id.Base), true
}

// fileText reads a workspace file, preferring the open-document copy.
func (s *Server) fileText(rel string) string {
	uri := s.relToURI(rel)
	s.docMu.Lock()
	text, ok := s.docs[uri]
	s.docMu.Unlock()
	if ok {
		return text
	}
	data, err := readFile(paths.Join(s.root, rel))
	if err != nil {
		return ""
	}
	return data
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Position arithmetic. Columns are byte-based within a line.

func offsetAt(text string, p position) int {
	offset := 0
	line := 0
	for line < p.Line {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx < 0 {
			return len(text)
		}
		offset += idx + 1
		line++
	}
	offset += p.Character
	if offset > len(text) {
		return len(text)
	}
	return offset
}

func positionAt(text string, offset int) position {
	if offset > len(text) {
		offset = len(text)
	}
	line := strings.Count(text[:offset], "\n")
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	return position{Line: line, Character: offset - lineStart}
}

func rangeOf(text string, start, end int) lspRange {
	return lspRange{Start: positionAt(text, start), End: positionAt(text, end)}
}

// lineRange covers one whole 1-based line.
func lineRange(text string, line int) lspRange {
	if line < 1 {
		line = 1
	}
	start := 0
	for l := 1; l < line; l++ {
		idx := strings.IndexByte(text[start:], '\n')
		if idx < 0 {
			break
		}
		start += idx + 1
	}
	length := strings.IndexByte(text[start:], '\n')
	if length < 0 {
		length = len(text) - start
	}
	return lspRange{
		Start: positionAt(text, start),
		End:   positionAt(text, start+length),
	}
}
