// Package engine drives the build pipeline: walk the workspace, parse
// spec and source files, and assemble a publishable snapshot.
package engine

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/necessary-nu/tracey/internal/config"
	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/markdown"
	"github.com/necessary-nu/tracey/internal/model"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/scanner"
	"github.com/necessary-nu/tracey/internal/units"
	"github.com/necessary-nu/tracey/internal/vfs"
	"github.com/necessary-nu/tracey/internal/walker"
)

// Engine assembles snapshots for one workspace.
type Engine struct {
	root    string
	logger  *logging.Logger
	overlay *vfs.Overlay
	cache   *Cache

	mu      sync.RWMutex
	cfg     *config.Config
	cfgErr  error
}

// Options configures engine construction.
type Options struct {
	// Cache enables the on-disk parse-artifact cache.
	Cache bool
}

// New creates an engine rooted at a workspace directory.
func New(root string, logger *logging.Logger, opts Options) *Engine {
	e := &Engine{
		root:    root,
		logger:  logger,
		overlay: vfs.New(),
	}
	if opts.Cache {
		cache, err := OpenCache(paths.CachePath(root))
		if err != nil {
			logger.Warn("Artifact cache unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			e.cache = cache
		}
	}
	return e
}

// Root returns the workspace root.
func (e *Engine) Root() string {
	return e.root
}

// Overlay returns the VFS overlay consulted before disk reads.
func (e *Engine) Overlay() *vfs.Overlay {
	return e.overlay
}

// Config returns the configuration observed by the latest build, plus
// any config parse error.
func (e *Engine) Config() (*config.Config, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.cfgErr
}

// Close releases the artifact cache.
func (e *Engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// Build runs one full build and returns the assembled snapshot. Parse
// and merge problems land in the snapshot's validation report; only a
// config parse failure returns an error, in which case the caller keeps
// its previous snapshot.
func (e *Engine) Build(ctx context.Context) (*model.Snapshot, error) {
	cfg, err := config.Load(e.root)

	e.mu.Lock()
	e.cfg = cfg
	e.cfgErr = err
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}

	w := walker.New(e.root)
	prefixes := cfg.Prefixes()

	in := model.Input{
		Config: cfg,
		Specs:  make(map[string][]model.SpecFile),
		Impls:  make(map[string]map[string][]model.ImplFile),
	}
	var inMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i := range cfg.Specs {
		sc := &cfg.Specs[i]

		specPaths, werr := w.Match(sc.Include, nil)
		if werr != nil {
			return nil, werr
		}
		if len(specPaths) == 0 && len(sc.Include) > 0 {
			inMu.Lock()
			in.Issues = append(in.Issues, model.Issue{
				Severity: model.SeverityWarning,
				Code:     model.CodeMissingInclude,
				Message:  fmt.Sprintf("spec %s include patterns match no files", sc.Name),
				Spec:     sc.Name,
			})
			inMu.Unlock()
		}

		for _, rel := range specPaths {
			rel := rel
			name := sc.Name
			g.Go(func() error {
				content, rerr := e.readFile(rel)
				if rerr != nil {
					inMu.Lock()
					in.Issues = append(in.Issues, unreadableIssue(rel, rerr))
					inMu.Unlock()
					return nil
				}
				res := markdown.ParseFile(rel, string(content), prefixes)
				inMu.Lock()
				in.Specs[name] = append(in.Specs[name], model.SpecFile{Path: rel, Result: res})
				inMu.Unlock()
				return nil
			})
		}

		inMu.Lock()
		in.Impls[sc.Name] = make(map[string][]model.ImplFile)
		inMu.Unlock()

		for j := range sc.Impls {
			ic := &sc.Impls[j]

			implPaths, werr := w.Match(ic.EffectiveInclude(), ic.Exclude)
			if werr != nil {
				return nil, werr
			}
			testPaths, werr := w.Match(ic.TestInclude, nil)
			if werr != nil {
				return nil, werr
			}

			isTest := make(map[string]bool, len(testPaths))
			for _, p := range testPaths {
				isTest[p] = true
			}
			all := union(implPaths, testPaths)

			for _, rel := range all {
				rel := rel
				specName, implName := sc.Name, ic.Name
				test := isTest[rel]
				g.Go(func() error {
					f, serr := e.scanSource(gctx, rel, test, prefixes)
					inMu.Lock()
					defer inMu.Unlock()
					if serr != nil {
						in.Issues = append(in.Issues, unreadableIssue(rel, serr))
						return nil
					}
					in.Impls[specName][implName] = append(in.Impls[specName][implName], f)
					return nil
				})
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortInput(&in)
	snap := model.Assemble(in)

	e.logger.Debug("Build assembled", map[string]interface{}{
		"specs":  len(snap.Specs),
		"issues": len(snap.Issues),
	})
	return snap, nil
}

// scanSource extracts references and units for one source file,
// consulting the artifact cache for unchanged on-disk files.
func (e *Engine) scanSource(ctx context.Context, rel string, test bool, prefixes []string) (model.ImplFile, error) {
	abs := paths.Join(e.root, rel)

	if e.cache != nil && !e.overlay.Has(abs) {
		if info, err := os.Stat(abs); err == nil {
			if cached, hit := e.cache.Get(rel, info.ModTime().UnixNano(), info.Size(), prefixes); hit {
				return model.ImplFile{Path: rel, Refs: cached.Refs, Units: cached.Units, Test: test}, nil
			}
		}
	}

	content, err := e.readFile(rel)
	if err != nil {
		return model.ImplFile{}, err
	}

	refs := scanner.ExtractFile(rel, string(content), prefixes)
	us := units.ExtractFile(ctx, rel, content)

	if e.cache != nil && !e.overlay.Has(abs) {
		if info, err := os.Stat(abs); err == nil {
			e.cache.Put(rel, info.ModTime().UnixNano(), info.Size(), prefixes, Artifact{Refs: refs, Units: us})
		}
	}

	return model.ImplFile{Path: rel, Refs: refs, Units: us, Test: test}, nil
}

// readFile reads a workspace-relative path through the overlay.
func (e *Engine) readFile(rel string) ([]byte, error) {
	return e.overlay.ReadFile(paths.Join(e.root, rel))
}

func unreadableIssue(rel string, err error) model.Issue {
	return model.Issue{
		Severity: model.SeverityError,
		Code:     model.CodeFileUnreadable,
		Message:  fmt.Sprintf("cannot read %s: %v", rel, err),
		File:     rel,
	}
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// sortInput gives the assembler deterministic file ordering regardless
// of goroutine completion order.
func sortInput(in *model.Input) {
	for name := range in.Specs {
		files := in.Specs[name]
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		in.Specs[name] = files
	}
	for spec := range in.Impls {
		for impl := range in.Impls[spec] {
			files := in.Impls[spec][impl]
			sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
			in.Impls[spec][impl] = files
		}
	}
}
