package model

import (
	"context"
	"strings"
	"testing"

	"github.com/necessary-nu/tracey/internal/config"
	"github.com/necessary-nu/tracey/internal/ident"
	"github.com/necessary-nu/tracey/internal/markdown"
	"github.com/necessary-nu/tracey/internal/scanner"
	"github.com/necessary-nu/tracey/internal/units"
)

func testConfig() *config.Config {
	return &config.Config{Specs: []config.SpecConfig{{
		Name:    "core",
		Prefix:  "r",
		Include: []string{"docs/**/*.md"},
		Impls:   []config.ImplConfig{{Name: "rust", TestInclude: []string{"tests/**"}}},
	}}}
}

// buildInput runs the real parsers over literal file contents.
func buildInput(cfg *config.Config, specFiles map[string]string, implFiles map[string]string, testFiles map[string]string) Input {
	prefixes := cfg.Prefixes()
	in := Input{
		Config: cfg,
		Specs:  make(map[string][]SpecFile),
		Impls:  make(map[string]map[string][]ImplFile),
	}
	spec := cfg.Specs[0]

	for path, content := range specFiles {
		in.Specs[spec.Name] = append(in.Specs[spec.Name], SpecFile{
			Path:   path,
			Result: markdown.ParseFile(path, content, prefixes),
		})
	}

	implName := spec.Impls[0].Name
	in.Impls[spec.Name] = map[string][]ImplFile{}
	add := func(path, content string, test bool) {
		in.Impls[spec.Name][implName] = append(in.Impls[spec.Name][implName], ImplFile{
			Path:  path,
			Refs:  scanner.ExtractFile(path, content, prefixes),
			Units: units.ExtractFile(context.Background(), path, []byte(content)),
			Test:  test,
		})
	}
	for path, content := range implFiles {
		add(path, content, false)
	}
	for path, content := range testFiles {
		add(path, content, true)
	}
	return in
}

func issuesWithCode(issues []Issue, code string) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Code == code {
			out = append(out, is)
		}
	}
	return out
}

func TestBasicCoverage(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login]\nUsers MUST authenticate.\n"},
		map[string]string{"src/a.rs": "// r[impl auth.login]\nfn x(){}\n"},
		nil,
	))

	spec := snap.SpecByName("core")
	if spec == nil {
		t.Fatal("spec core missing")
	}
	req, ok := spec.Requirement("auth.login")
	if !ok || req.ID.Version != 1 {
		t.Fatalf("requirement = %+v, ok=%v", req, ok)
	}

	impl := spec.ImplByName("rust")
	if impl.Stats.ImplPercent != 100 {
		t.Errorf("ImplPercent = %v, want 100", impl.Stats.ImplPercent)
	}
	if impl.Stats.VerifyPercent != 0 {
		t.Errorf("VerifyPercent = %v, want 0", impl.Stats.VerifyPercent)
	}
	refs := impl.RefsByBase["auth.login"]
	if len(refs) != 1 {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].ByteOffset != 3 {
		t.Errorf("ByteOffset = %d, want 3", refs[0].ByteOffset)
	}
}

func TestStaleAfterBump(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login+2]\nUse tokens.\n"},
		map[string]string{"src/a.rs": "// r[impl auth.login]\nfn x(){}\n"},
		nil,
	))

	spec := snap.SpecByName("core")
	req, _ := spec.Requirement("auth.login")
	if req.ID.Version != 2 {
		t.Fatalf("current version = %d, want 2", req.ID.Version)
	}

	impl := spec.ImplByName("rust")
	cov := impl.Coverage["auth.login"]
	if cov.CoveredImpl {
		t.Error("should not be covered")
	}
	if !cov.Stale {
		t.Error("should be stale")
	}
	if impl.Stats.Stale != 1 || impl.Stats.CoveredImpl != 0 {
		t.Errorf("stats = %+v", impl.Stats)
	}
	if len(issuesWithCode(snap.Issues, CodeStaleReference)) != 1 {
		t.Errorf("issues = %+v, want one stale_reference", snap.Issues)
	}
}

func TestStaleRestoredByMatchingVersion(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login+2]\nUse tokens.\n"},
		map[string]string{"src/a.rs": "// r[impl auth.login+2]\nfn x(){}\n"},
		nil,
	))

	impl := snap.SpecByName("core").ImplByName("rust")
	cov := impl.Coverage["auth.login"]
	if !cov.CoveredImpl || cov.Stale {
		t.Errorf("coverage = %+v, want covered and not stale", cov)
	}
}

func TestImplInTestFileIsError(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login]\nUsers MUST authenticate.\n"},
		nil,
		map[string]string{"tests/t.rs": "// r[impl auth.login]\nfn t(){}\n"},
	))

	issues := issuesWithCode(snap.Issues, CodeImplInTestFile)
	if len(issues) != 1 || issues[0].Severity != SeverityError {
		t.Fatalf("issues = %+v, want one impl_in_test_file error", snap.Issues)
	}

	impl := snap.SpecByName("core").ImplByName("rust")
	if impl.Stats.CoveredImpl != 0 {
		t.Errorf("CoveredImpl = %d, want 0", impl.Stats.CoveredImpl)
	}
}

func TestVerifyInTestFileCounts(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login]\nUsers MUST authenticate.\n"},
		nil,
		map[string]string{"tests/t.rs": "// r[verify auth.login]\nfn t(){}\n"},
	))

	impl := snap.SpecByName("core").ImplByName("rust")
	if !impl.Coverage["auth.login"].CoveredVerify {
		t.Error("verify reference in test file should count")
	}
}

func TestIgnoredBlockYieldsNoReferences(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login]\nUsers MUST authenticate.\n"},
		map[string]string{"src/b.rs": "// @tracey:ignore-start\n// r[impl auth.login]\n// @tracey:ignore-end\n"},
		nil,
	))

	impl := snap.SpecByName("core").ImplByName("rust")
	if len(impl.RefsByBase["auth.login"]) != 0 {
		t.Errorf("refs = %+v, want none", impl.RefsByBase["auth.login"])
	}
	if impl.Stats.CoveredImpl != 0 {
		t.Errorf("CoveredImpl = %d, want 0", impl.Stats.CoveredImpl)
	}
}

func TestDuplicateAcrossFiles(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{
			"docs/a.md": "r[api.format]\nFirst.\n",
			"docs/b.md": "r[api.format]\nSecond.\n",
		},
		nil, nil,
	))

	issues := issuesWithCode(snap.Issues, CodeDuplicateRequirement)
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one duplicate_requirement", snap.Issues)
	}
	// Both locations named.
	msg := issues[0].Message
	if !contains(msg, "docs/a.md") || !contains(msg, "docs/b.md") {
		t.Errorf("message %q should name both files", msg)
	}

	if _, ok := snap.SpecByName("core").Requirement("api.format"); ok {
		t.Error("tied duplicate must not be published")
	}
}

func TestDuplicateHigherVersionWins(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{
			"docs/a.md": "r[api.format]\nOld.\n",
			"docs/b.md": "r[api.format+2]\nNew.\n",
		},
		nil, nil,
	))

	req, ok := snap.SpecByName("core").Requirement("api.format")
	if !ok || req.ID.Version != 2 {
		t.Fatalf("requirement = %+v, ok=%v, want version 2", req, ok)
	}
	if len(issuesWithCode(snap.Issues, CodeDuplicateRequirement)) != 1 {
		t.Errorf("issues = %+v, want duplicate error alongside publication", snap.Issues)
	}
}

func TestUnknownRequirementWithSuggestions(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login]\nUsers MUST authenticate.\n"},
		map[string]string{"src/a.rs": "// r[impl auth.logn]\nfn x(){}\n"},
		nil,
	))

	issues := issuesWithCode(snap.Issues, CodeUnknownRequirement)
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one unknown_requirement", snap.Issues)
	}
	if len(issues[0].Suggestions) == 0 || issues[0].Suggestions[0] != "auth.login" {
		t.Errorf("Suggestions = %v, want [auth.login ...]", issues[0].Suggestions)
	}
}

func TestPrefixIsolation(t *testing.T) {
	cfg := &config.Config{Specs: []config.SpecConfig{
		{Name: "core", Prefix: "r", Impls: []config.ImplConfig{{Name: "main"}}},
		{Name: "proto", Prefix: "p", Impls: []config.ImplConfig{{Name: "main"}}},
	}}
	prefixes := cfg.Prefixes()

	source := "// r[impl shared.rule]\n// p[impl shared.rule]\n"
	in := Input{
		Config: cfg,
		Specs: map[string][]SpecFile{
			"core":  {{Path: "docs/core.md", Result: markdown.ParseFile("docs/core.md", "r[shared.rule]\nCore rule.\n", prefixes)}},
			"proto": {{Path: "docs/proto.md", Result: markdown.ParseFile("docs/proto.md", "p[shared.rule]\nProto rule.\n", prefixes)}},
		},
		Impls: map[string]map[string][]ImplFile{
			"core": {"main": {{Path: "src/a.rs", Refs: scanner.ExtractFile("src/a.rs", source, prefixes)}}},
			"proto": {"main": {{Path: "src/a.rs", Refs: scanner.ExtractFile("src/a.rs", source, prefixes)}}},
		},
	}

	snap := Assemble(in)

	core := snap.SpecByName("core").ImplByName("main")
	proto := snap.SpecByName("proto").ImplByName("main")

	if len(core.RefsByBase["shared.rule"]) != 1 || core.RefsByBase["shared.rule"][0].Prefix != "r" {
		t.Errorf("core refs = %+v", core.RefsByBase["shared.rule"])
	}
	if len(proto.RefsByBase["shared.rule"]) != 1 || proto.RefsByBase["shared.rule"][0].Prefix != "p" {
		t.Errorf("proto refs = %+v", proto.RefsByBase["shared.rule"])
	}
}

func TestUnknownPrefixScopedToFile(t *testing.T) {
	cfg := testConfig()
	// Handcraft a reference whose prefix is not configured: simulates a
	// scan against a stale prefix set.
	in := Input{
		Config: cfg,
		Specs: map[string][]SpecFile{
			"core": {{Path: "docs/s.md", Result: markdown.ParseFile("docs/s.md", "r[auth.login]\nbody\n", cfg.Prefixes())}},
		},
		Impls: map[string]map[string][]ImplFile{
			"core": {"rust": {{
				Path: "src/a.rs",
				Refs: scanner.FileRefs{References: []scanner.Reference{{
					ID:     ident.MustParse("auth.login"),
					Prefix: "zz",
					Verb:   scanner.VerbImpl,
					File:   "src/a.rs",
					Line:   1,
				}}},
			}}},
		},
	}

	snap := Assemble(in)
	issues := issuesWithCode(snap.Issues, CodeUnknownPrefix)
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one unknown_prefix", snap.Issues)
	}
	if issues[0].File != "src/a.rs" {
		t.Errorf("File = %q, want src/a.rs", issues[0].File)
	}
	if issues[0].Spec != "" {
		t.Errorf("Spec = %q, unknown_prefix must be scoped to the file, not a spec", issues[0].Spec)
	}
}

func TestCoverageMonotonicity(t *testing.T) {
	specs := map[string]string{"docs/s.md": "r[a.one]\nOne.\n\nr[a.two]\nTwo.\n"}

	before := Assemble(buildInput(testConfig(), specs,
		map[string]string{"src/a.rs": "// r[impl a.one]\n"}, nil))
	after := Assemble(buildInput(testConfig(), specs,
		map[string]string{"src/a.rs": "// r[impl a.one]\n// r[impl a.two]\n"}, nil))

	b := before.SpecByName("core").ImplByName("rust")
	a := after.SpecByName("core").ImplByName("rust")

	if a.Stats.CoveredImpl != b.Stats.CoveredImpl+1 {
		t.Errorf("CoveredImpl %d -> %d, want +1", b.Stats.CoveredImpl, a.Stats.CoveredImpl)
	}
	if got := a.Coverage["a.one"]; got != b.Coverage["a.one"] {
		t.Errorf("a.one coverage changed: %+v -> %+v", b.Coverage["a.one"], got)
	}
}

func TestRelatedAndDependsDoNotCover(t *testing.T) {
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": "r[auth.login]\nbody\n"},
		map[string]string{"src/a.rs": "// r[depends auth.login]\n// r[related auth.login]\n"},
		nil,
	))

	impl := snap.SpecByName("core").ImplByName("rust")
	cov := impl.Coverage["auth.login"]
	if cov.CoveredImpl || cov.CoveredVerify || cov.Stale {
		t.Errorf("coverage = %+v, want untouched by depends/related", cov)
	}
}

func TestOutlineAggregation(t *testing.T) {
	content := "# Top\n## Sub\nr[a.one]\ncovered\n\nr[a.two]\nuncovered\n"
	snap := Assemble(buildInput(testConfig(),
		map[string]string{"docs/s.md": content},
		map[string]string{"src/a.rs": "// r[impl a.one]\n"},
		nil,
	))

	spec := snap.SpecByName("core")
	if len(spec.Outline) != 2 {
		t.Fatalf("outline = %+v", spec.Outline)
	}

	top := spec.Outline[0].Stats["rust"]
	sub := spec.Outline[1].Stats["rust"]

	if top.DirectTotal != 0 || top.AggTotal != 2 || top.AggCovered != 1 {
		t.Errorf("top stats = %+v", top)
	}
	if sub.DirectTotal != 2 || sub.DirectCovered != 1 || sub.AggTotal != 2 {
		t.Errorf("sub stats = %+v", sub)
	}
}

func TestEmptyConfigYieldsEmptySnapshot(t *testing.T) {
	snap := Assemble(Input{Config: &config.Config{}})
	if len(snap.Specs) != 0 || len(snap.Issues) != 0 {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
