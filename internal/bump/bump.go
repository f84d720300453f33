// Package bump detects staged requirement edits that lack a version
// bump and rewrites version suffixes in place.
package bump

import (
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/necessary-nu/tracey/internal/config"
	"github.com/necessary-nu/tracey/internal/markdown"
)

// Change is one requirement whose text changed in the staged index
// without a version increase.
type Change struct {
	// File is the spec path relative to the workspace root.
	File string
	// Base is the requirement base ID.
	Base string
	// OldVersion is the version recorded at HEAD.
	OldVersion int
	// NewVersion is what the version must become.
	NewVersion int
	// MarkerStart/MarkerEnd span the marker in the staged content.
	MarkerStart int
	MarkerEnd   int
}

// gitCapture runs git in the workspace root and returns stdout.
func gitCapture(root string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = root
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, errBuf.String())
	}
	return out.String(), nil
}

// gitShow reads a file at a revision (":path" for the index,
// "HEAD:path" for HEAD). Missing files read as absent.
func gitShow(root, spec string) (string, bool) {
	out, err := gitCapture(root, "show", spec)
	if err != nil {
		return "", false
	}
	return out, true
}

// stagedSpecFiles lists staged paths matched by any spec's include
// patterns.
func stagedSpecFiles(root string, cfg *config.Config) ([]string, error) {
	out, err := gitCapture(root, "diff", "--cached", "--name-only", "--diff-filter=ACM")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		for i := range cfg.Specs {
			if matchesAny(line, cfg.Specs[i].Include) {
				files = append(files, line)
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func matchesAny(path string, patterns []string) bool {
	for _, pat := range patterns {
		if ok := globMatch(pat, path); ok {
			return true
		}
	}
	return false
}

// Detect finds staged requirements whose markdown changed without a
// version increase, comparing HEAD against the index.
func Detect(root string, cfg *config.Config) ([]Change, error) {
	files, err := stagedSpecFiles(root, cfg)
	if err != nil {
		return nil, err
	}
	prefixes := cfg.Prefixes()

	var changes []Change
	for _, file := range files {
		headContent, hasHead := gitShow(root, "HEAD:"+file)
		if !hasHead {
			continue // new file; every rule is new, nothing to bump
		}
		indexContent, hasIndex := gitShow(root, ":"+file)
		if !hasIndex {
			continue
		}

		headDefs := defsByBase(file, headContent, prefixes)
		indexRes := markdown.ParseFile(file, indexContent, prefixes)

		for _, def := range indexRes.Definitions {
			old, existed := headDefs[def.ID.Base]
			if !existed {
				continue
			}
			if normalized(def.Raw) == normalized(old.Raw) {
				continue
			}
			if def.ID.Version > old.ID.Version {
				continue // already bumped
			}

			markerEnd := def.StartByte
			if idx := strings.IndexByte(indexContent[def.StartByte:], ']'); idx >= 0 {
				markerEnd = def.StartByte + idx + 1
			}
			changes = append(changes, Change{
				File:        file,
				Base:        def.ID.Base,
				OldVersion:  old.ID.Version,
				NewVersion:  old.ID.Version + 1,
				MarkerStart: def.StartByte,
				MarkerEnd:   markerEnd,
			})
		}
	}
	return changes, nil
}

func defsByBase(file, content string, prefixes []string) map[string]markdown.Definition {
	res := markdown.ParseFile(file, content, prefixes)
	out := make(map[string]markdown.Definition, len(res.Definitions))
	for _, def := range res.Definitions {
		out[def.ID.Base] = def
	}
	return out
}

// normalized strips the marker line so version-only edits do not read
// as text changes.
func normalized(raw string) string {
	_, body, ok := strings.Cut(raw, "\n")
	if !ok {
		return ""
	}
	return strings.TrimSpace(body)
}

// RewriteMarker replaces a marker's identifier with the bumped
// version. Returns the updated content.
func RewriteMarker(content string, ch Change) string {
	marker := content[ch.MarkerStart:ch.MarkerEnd]
	open := strings.IndexByte(marker, '[')
	if open < 0 {
		return content
	}

	newMarker := marker[:open+1] + ch.Base + fmt.Sprintf("+%d", ch.NewVersion) + "]"
	return content[:ch.MarkerStart] + newMarker + content[ch.MarkerEnd:]
}

// Apply rewrites every change in the staged content and re-stages the
// affected files. Edits are applied last-to-first within each file so
// earlier byte offsets stay valid.
func Apply(root string, changes []Change) error {
	byFile := make(map[string][]Change)
	for _, ch := range changes {
		byFile[ch.File] = append(byFile[ch.File], ch)
	}

	for file, chs := range byFile {
		content, ok := gitShow(root, ":"+file)
		if !ok {
			return fmt.Errorf("cannot read staged %s", file)
		}

		sort.Slice(chs, func(i, j int) bool { return chs[i].MarkerStart > chs[j].MarkerStart })
		for _, ch := range chs {
			content = RewriteMarker(content, ch)
		}

		if err := stageContent(root, file, content); err != nil {
			return err
		}
	}
	return nil
}

// stageContent writes content to the working tree file and re-stages
// it.
func stageContent(root, file, content string) error {
	if err := writeWorkingTree(root, file, content); err != nil {
		return err
	}
	_, err := gitCapture(root, "add", "--", file)
	return err
}
