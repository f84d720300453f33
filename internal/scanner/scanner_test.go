package scanner

import (
	"strings"
	"testing"
)

var prefixes = []string{"r"}

func refs(t *testing.T, file, content string) FileRefs {
	t.Helper()
	return ExtractFile(file, content, prefixes)
}

func TestExtractImplicitImpl(t *testing.T) {
	content := "// r[auth.login]\nfn x(){}\n"
	fr := refs(t, "src/a.rs", content)

	if len(fr.References) != 1 {
		t.Fatalf("References = %+v, want 1", fr.References)
	}
	ref := fr.References[0]
	if ref.Verb != VerbImpl {
		t.Errorf("Verb = %q, want impl", ref.Verb)
	}
	if ref.ID.Base != "auth.login" || ref.ID.Version != 1 {
		t.Errorf("ID = %+v", ref.ID)
	}
	if ref.Line != 1 {
		t.Errorf("Line = %d, want 1", ref.Line)
	}
}

func TestExtractExplicitVerbs(t *testing.T) {
	content := strings.Join([]string{
		"// r[impl a.one]",
		"// r[verify a.two]",
		"// r[test a.three]",
		"// r[depends a.four]",
		"// r[related a.five]",
	}, "\n") + "\n"
	fr := refs(t, "src/a.rs", content)

	if len(fr.References) != 5 {
		t.Fatalf("len(References) = %d, want 5", len(fr.References))
	}
	wants := []Verb{VerbImpl, VerbVerify, VerbVerify, VerbDepends, VerbRelated}
	for i, want := range wants {
		if fr.References[i].Verb != want {
			t.Errorf("References[%d].Verb = %q, want %q", i, fr.References[i].Verb, want)
		}
	}
}

func TestSpanReconstruction(t *testing.T) {
	content := "fn x(){}\n// before r[impl auth.login] after\n"
	fr := refs(t, "src/a.rs", content)

	if len(fr.References) != 1 {
		t.Fatalf("References = %+v, want 1", fr.References)
	}
	ref := fr.References[0]
	got := content[ref.ByteOffset : ref.ByteOffset+ref.ByteLength]
	if got != "r[impl auth.login]" {
		t.Errorf("substring = %q, want %q", got, "r[impl auth.login]")
	}
	if ref.Line != 2 {
		t.Errorf("Line = %d, want 2", ref.Line)
	}
}

func TestMultipleRefsInOneComment(t *testing.T) {
	content := "// r[impl a.one] and r[verify a.two]\n"
	fr := refs(t, "src/a.rs", content)
	if len(fr.References) != 2 {
		t.Fatalf("len(References) = %d, want 2", len(fr.References))
	}
}

func TestBlockComment(t *testing.T) {
	content := "/*\n r[impl a.one]\n r[verify a.two]\n*/\nfn x(){}\n"
	fr := refs(t, "src/a.rs", content)
	if len(fr.References) != 2 {
		t.Fatalf("len(References) = %d, want 2", len(fr.References))
	}
	if fr.References[0].Line != 2 || fr.References[1].Line != 3 {
		t.Errorf("lines = %d, %d, want 2, 3", fr.References[0].Line, fr.References[1].Line)
	}
}

func TestNotExtractedOutsideComments(t *testing.T) {
	content := "let s = \"r[impl a.one]\";\nfn x(){}\n"
	fr := refs(t, "src/a.rs", content)
	// A string literal is not a comment: a conservative scanner keeps
	// out of non-comment text entirely.
	if len(fr.References) != 0 {
		t.Errorf("References = %+v, want none", fr.References)
	}
}

func TestBacktickedRefNotExtracted(t *testing.T) {
	content := "// use `r[impl a.one]` to annotate\n// r[impl a.two]\n"
	fr := refs(t, "src/a.rs", content)
	if len(fr.References) != 1 {
		t.Fatalf("References = %+v, want 1", fr.References)
	}
	if fr.References[0].ID.Base != "a.two" {
		t.Errorf("Base = %q, want a.two", fr.References[0].ID.Base)
	}
}

func TestUnknownVerbWarnsButRecords(t *testing.T) {
	content := "// r[frobnicate a.one]\n"
	fr := refs(t, "src/a.rs", content)

	if len(fr.References) != 1 {
		t.Fatalf("References = %+v, want 1", fr.References)
	}
	if fr.References[0].Verb != VerbUnknown {
		t.Errorf("Verb = %q, want unknown", fr.References[0].Verb)
	}
	if len(fr.Warnings) != 1 || fr.Warnings[0].Code != CodeUnknownVerb {
		t.Errorf("Warnings = %+v, want one unknown_verb", fr.Warnings)
	}
}

func TestBadIdentifierWarns(t *testing.T) {
	content := "// r[impl a..b]\n// r[impl a.b+0]\n"
	fr := refs(t, "src/a.rs", content)
	if len(fr.References) != 0 {
		t.Errorf("References = %+v, want none", fr.References)
	}
	if len(fr.Warnings) != 2 {
		t.Fatalf("Warnings = %+v, want 2", fr.Warnings)
	}
	for _, w := range fr.Warnings {
		if w.Code != CodeBadIdentifier {
			t.Errorf("Code = %q, want bad_identifier", w.Code)
		}
	}
}

func TestIgnoreNextLine(t *testing.T) {
	content := "// @tracey:ignore-next-line\n// r[impl a.one]\n// r[impl a.two]\n"
	fr := refs(t, "src/a.rs", content)

	if len(fr.References) != 2 {
		t.Fatalf("len(References) = %d, want 2", len(fr.References))
	}
	if !fr.References[0].Ignored {
		t.Error("first reference should be ignored")
	}
	if fr.References[1].Ignored {
		t.Error("second reference should not be ignored")
	}
	active := fr.Active()
	if len(active) != 1 || active[0].ID.Base != "a.two" {
		t.Errorf("Active() = %+v", active)
	}
}

func TestIgnoreBlock(t *testing.T) {
	content := "// @tracey:ignore-start\n// r[impl auth.login]\n// @tracey:ignore-end\n"
	fr := refs(t, "src/b.rs", content)

	if len(fr.Active()) != 0 {
		t.Errorf("Active() = %+v, want none", fr.Active())
	}
	if len(fr.Warnings) != 0 {
		t.Errorf("Warnings = %+v, want none", fr.Warnings)
	}
}

func TestIgnoreNestedStartIsError(t *testing.T) {
	content := "// @tracey:ignore-start\n// @tracey:ignore-start\n// @tracey:ignore-end\n"
	fr := refs(t, "src/a.rs", content)

	if len(fr.Warnings) != 1 || fr.Warnings[0].Code != CodeIgnoreNested {
		t.Errorf("Warnings = %+v, want one ignore_nested", fr.Warnings)
	}
}

func TestIgnoreUnclosedIsError(t *testing.T) {
	content := "// @tracey:ignore-start\n// r[impl a.one]\n"
	fr := refs(t, "src/a.rs", content)

	if len(fr.Warnings) != 1 || fr.Warnings[0].Code != CodeIgnoreUnclosed {
		t.Fatalf("Warnings = %+v, want one ignore_unclosed", fr.Warnings)
	}
	if len(fr.Active()) != 0 {
		t.Errorf("Active() = %+v, want none (unclosed suppresses to EOF)", fr.Active())
	}
}

func TestUnsupportedExtensionSkipped(t *testing.T) {
	fr := ExtractFile("binary.dat", "// r[impl a.one]\n", prefixes)
	if len(fr.References) != 0 {
		t.Errorf("References = %+v, want none", fr.References)
	}
}

func TestHashLanguage(t *testing.T) {
	content := "# r[impl py.rule]\ndef f():\n    pass\n"
	fr := ExtractFile("lib.py", content, prefixes)
	if len(fr.References) != 1 || fr.References[0].ID.Base != "py.rule" {
		t.Fatalf("References = %+v", fr.References)
	}
}

func TestLuaDashComment(t *testing.T) {
	content := "-- r[impl lua.rule]\nlocal x = 1\n"
	fr := ExtractFile("init.lua", content, prefixes)
	if len(fr.References) != 1 || fr.References[0].ID.Base != "lua.rule" {
		t.Fatalf("References = %+v", fr.References)
	}
}

func TestVersionedReference(t *testing.T) {
	content := "// r[impl auth.login+2]\n"
	fr := refs(t, "src/a.rs", content)
	if len(fr.References) != 1 || fr.References[0].ID.Version != 2 {
		t.Fatalf("References = %+v", fr.References)
	}
}

func TestPrefixRequiresWordBoundary(t *testing.T) {
	content := "// vector[impl a.one]\n"
	fr := refs(t, "src/a.rs", content)
	if len(fr.References) != 0 {
		t.Errorf("References = %+v, want none", fr.References)
	}
}
