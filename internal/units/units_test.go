package units

import (
	"context"
	"testing"

	"github.com/necessary-nu/tracey/internal/scanner"
)

func TestRustUnits(t *testing.T) {
	content := []byte(`// r[impl a.one]
fn alpha() {
    let x = 1;
}

struct Beta {
    field: u32,
}

impl Beta {
    fn method(&self) {}
}
`)
	us := ExtractFile(context.Background(), "src/lib.rs", content)

	var kinds []Kind
	for _, u := range us {
		kinds = append(kinds, u.Kind)
	}

	wantKinds := map[Kind]int{KindFunction: 2, KindType: 1, KindImpl: 1}
	got := map[Kind]int{}
	for _, k := range kinds {
		got[k]++
	}
	for k, n := range wantKinds {
		if got[k] != n {
			t.Errorf("kind %s count = %d, want %d (units %+v)", k, got[k], n, us)
		}
	}
}

func TestDocCommentExtendsStartLine(t *testing.T) {
	content := []byte(`fn first() {}

/// Documented.
/// Thoroughly.
#[inline]
fn second() {}
`)
	us := ExtractFile(context.Background(), "src/lib.rs", content)

	var second *Unit
	for i := range us {
		if us[i].Name == "second" {
			second = &us[i]
		}
	}
	if second == nil {
		t.Fatalf("no unit named second: %+v", us)
	}
	if second.StartLine != 3 {
		t.Errorf("StartLine = %d, want 3 (doc comment start)", second.StartLine)
	}
}

func TestWholeFileFallback(t *testing.T) {
	content := []byte("-- r[impl lua.rule]\nlocal x = 1\nreturn x\n")
	us := ExtractFile(context.Background(), "init.lua", content)

	if len(us) != 1 {
		t.Fatalf("len(units) = %d, want 1", len(us))
	}
	if us[0].Kind != KindOther || us[0].StartLine != 1 || us[0].EndLine < 3 {
		t.Errorf("unit = %+v", us[0])
	}
}

func TestAssignReferencesInnermost(t *testing.T) {
	us := []Unit{
		{Kind: KindImpl, Name: "Outer", StartLine: 1, EndLine: 20},
		{Kind: KindFunction, Name: "inner", StartLine: 5, EndLine: 10},
	}
	refs := []scanner.Reference{
		{Line: 7},  // inside both; innermost wins
		{Line: 15}, // only outer
		{Line: 30}, // outside everything
	}

	unassigned := AssignReferences(us, refs)

	if len(us[1].Refs) != 1 || us[1].Refs[0].Line != 7 {
		t.Errorf("inner refs = %+v, want line 7", us[1].Refs)
	}
	if len(us[0].Refs) != 1 || us[0].Refs[0].Line != 15 {
		t.Errorf("outer refs = %+v, want line 15", us[0].Refs)
	}
	if len(unassigned) != 1 || unassigned[0].Line != 30 {
		t.Errorf("unassigned = %+v, want line 30", unassigned)
	}
}

func TestGoUnits(t *testing.T) {
	content := []byte(`package demo

// Adder adds.
type Adder struct{}

func (a Adder) Add(x, y int) int { return x + y }

const limit = 10
`)
	us := ExtractFile(context.Background(), "demo.go", content)

	got := map[Kind]int{}
	for _, u := range us {
		got[u.Kind]++
	}
	if got[KindType] != 1 || got[KindFunction] != 1 || got[KindConstant] != 1 {
		t.Errorf("kind counts = %v, units %+v", got, us)
	}
}
