package units

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// syntaxLanguage bundles a tree-sitter grammar with its node-kind map.
type syntaxLanguage struct {
	language *sitter.Language
	kinds    map[string]Kind
}

var syntaxLanguages = map[string]syntaxLanguage{
	"rs": {
		language: rust.GetLanguage(),
		kinds: map[string]Kind{
			"function_item":    KindFunction,
			"struct_item":      KindType,
			"enum_item":        KindType,
			"trait_item":       KindType,
			"type_item":        KindType,
			"union_item":       KindType,
			"impl_item":        KindImpl,
			"mod_item":         KindModule,
			"const_item":       KindConstant,
			"static_item":      KindConstant,
			"macro_definition": KindMacro,
		},
	},
	"go": {
		language: golang.GetLanguage(),
		kinds: map[string]Kind{
			"function_declaration": KindFunction,
			"method_declaration":   KindFunction,
			"type_declaration":     KindType,
			"const_declaration":    KindConstant,
			"var_declaration":      KindOther,
		},
	},
	"py": {
		language: python.GetLanguage(),
		kinds: map[string]Kind{
			"function_definition": KindFunction,
			"class_definition":    KindType,
		},
	},
	"js": {
		language: javascript.GetLanguage(),
		kinds: map[string]Kind{
			"function_declaration":           KindFunction,
			"generator_function_declaration": KindFunction,
			"method_definition":              KindFunction,
			"class_declaration":              KindType,
		},
	},
	"ts": {
		language: typescript.GetLanguage(),
		kinds: map[string]Kind{
			"function_declaration":   KindFunction,
			"method_definition":      KindFunction,
			"class_declaration":      KindType,
			"interface_declaration":  KindType,
			"type_alias_declaration": KindType,
			"enum_declaration":       KindType,
			"module":                 KindModule,
		},
	},
	"tsx": {
		language: tsx.GetLanguage(),
		kinds: map[string]Kind{
			"function_declaration":   KindFunction,
			"method_definition":      KindFunction,
			"class_declaration":      KindType,
			"interface_declaration":  KindType,
			"type_alias_declaration": KindType,
			"enum_declaration":       KindType,
		},
	},
}

func init() {
	syntaxLanguages["jsx"] = syntaxLanguages["js"]
	syntaxLanguages["mjs"] = syntaxLanguages["js"]
	syntaxLanguages["cjs"] = syntaxLanguages["js"]
}

// extractSyntax parses a file with tree-sitter when a grammar is
// available. The second return is false for languages without one.
func extractSyntax(ctx context.Context, file string, content []byte) ([]Unit, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file), "."))
	sl, ok := syntaxLanguages[ext]
	if !ok {
		return nil, false
	}

	parser := sitter.NewParser()
	parser.SetLanguage(sl.language)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, false
	}
	defer tree.Close()

	var us []Unit
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child == nil {
				continue
			}
			if kind, matched := sl.kinds[child.Type()]; matched {
				us = append(us, Unit{
					Kind:      kind,
					Name:      nodeName(child, content),
					File:      file,
					StartLine: int(child.StartPoint().Row) + 1,
					EndLine:   int(child.EndPoint().Row) + 1,
				})
			}
			walk(child)
		}
	}
	walk(tree.RootNode())

	if len(us) == 0 {
		lines := 1 + strings.Count(string(content), "\n")
		us = []Unit{{Kind: KindOther, File: file, StartLine: 1, EndLine: lines}}
	}
	return us, true
}

// nodeName extracts the declared identifier of a unit node, trying the
// field names different grammars use.
func nodeName(node *sitter.Node, source []byte) string {
	for _, field := range []string{"name", "type"} {
		if n := node.ChildByFieldName(field); n != nil {
			return string(source[n.StartByte():n.EndByte()])
		}
	}
	// Fall back to the first identifier-ish child.
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		t := child.Type()
		if strings.Contains(t, "identifier") || t == "type_spec" {
			if t == "type_spec" {
				return nodeName(child, source)
			}
			return string(source[child.StartByte():child.EndByte()])
		}
	}
	return ""
}
