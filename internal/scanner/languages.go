package scanner

import (
	"path/filepath"
	"strings"
)

// Language describes the comment syntax for one source language.
type Language struct {
	Name         string
	LineComments []string
	// BlockComments holds open/close delimiter pairs.
	BlockComments [][2]string
}

var (
	cStyle = Language{
		LineComments:  []string{"//"},
		BlockComments: [][2]string{{"/*", "*/"}},
	}
	hashStyle = Language{
		LineComments: []string{"#"},
	}
)

func derive(name string, base Language) Language {
	base.Name = name
	return base
}

// languages maps file extensions (without dot) to comment syntax.
// Extensions not listed here are skipped entirely during scanning.
var languages = map[string]Language{
	"rs":    derive("rust", cStyle),
	"go":    derive("go", cStyle),
	"c":     derive("c", cStyle),
	"h":     derive("c", cStyle),
	"cpp":   derive("cpp", cStyle),
	"cc":    derive("cpp", cStyle),
	"cxx":   derive("cpp", cStyle),
	"hpp":   derive("cpp", cStyle),
	"hh":    derive("cpp", cStyle),
	"cs":    derive("csharp", cStyle),
	"java":  derive("java", cStyle),
	"kt":    derive("kotlin", cStyle),
	"kts":   derive("kotlin", cStyle),
	"swift": derive("swift", cStyle),
	"scala": derive("scala", cStyle),
	"js":    derive("javascript", cStyle),
	"jsx":   derive("javascript", cStyle),
	"mjs":   derive("javascript", cStyle),
	"cjs":   derive("javascript", cStyle),
	"ts":    derive("typescript", cStyle),
	"tsx":   derive("typescript", cStyle),
	"dart":  derive("dart", cStyle),
	"zig":   {Name: "zig", LineComments: []string{"//"}},
	"php": {
		Name:          "php",
		LineComments:  []string{"//", "#"},
		BlockComments: [][2]string{{"/*", "*/"}},
	},
	"css":  {Name: "css", BlockComments: [][2]string{{"/*", "*/"}}},
	"scss": derive("scss", cStyle),

	"py":   derive("python", hashStyle),
	"rb":   {Name: "ruby", LineComments: []string{"#"}, BlockComments: [][2]string{{"=begin", "=end"}}},
	"sh":   derive("shell", hashStyle),
	"bash": derive("shell", hashStyle),
	"zsh":  derive("shell", hashStyle),
	"fish": derive("shell", hashStyle),
	"pl":   derive("perl", hashStyle),
	"r":    derive("r", hashStyle),
	"jl":   {Name: "julia", LineComments: []string{"#"}, BlockComments: [][2]string{{"#=", "=#"}}},
	"ex":   derive("elixir", hashStyle),
	"exs":  derive("elixir", hashStyle),
	"yaml": derive("yaml", hashStyle),
	"yml":  derive("yaml", hashStyle),
	"toml": derive("toml", hashStyle),
	"nim":  derive("nim", hashStyle),

	"lua": {Name: "lua", LineComments: []string{"--"}, BlockComments: [][2]string{{"--[[", "]]"}}},
	"sql": {Name: "sql", LineComments: []string{"--"}, BlockComments: [][2]string{{"/*", "*/"}}},
	"hs":  {Name: "haskell", LineComments: []string{"--"}, BlockComments: [][2]string{{"{-", "-}"}}},
	"elm": {Name: "elm", LineComments: []string{"--"}, BlockComments: [][2]string{{"{-", "-}"}}},
	"ml":  {Name: "ocaml", BlockComments: [][2]string{{"(*", "*)"}}},
	"mli": {Name: "ocaml", BlockComments: [][2]string{{"(*", "*)"}}},
	"erl": {Name: "erlang", LineComments: []string{"%"}},
	"clj": {Name: "clojure", LineComments: []string{";"}},
	"el":  {Name: "elisp", LineComments: []string{";"}},
	"lisp": {Name: "lisp", LineComments: []string{";"},
		BlockComments: [][2]string{{"#|", "|#"}}},
	"html": {Name: "html", BlockComments: [][2]string{{"<!--", "-->"}}},
	"xml":  {Name: "xml", BlockComments: [][2]string{{"<!--", "-->"}}},
	"vue":  derive("vue", cStyle),
	"md":   {Name: "markdown", BlockComments: [][2]string{{"<!--", "-->"}}},
}

// LanguageForPath resolves the language for a file path by extension.
func LanguageForPath(path string) (Language, bool) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	lang, ok := languages[strings.ToLower(ext)]
	return lang, ok
}

// SupportedExtensions returns all extensions with a configured language.
func SupportedExtensions() []string {
	out := make([]string, 0, len(languages))
	for ext := range languages {
		out = append(out, ext)
	}
	return out
}
