// Package language maps file extensions to programming language names.
package language

import (
	"sort"
	"strings"
)

const (
	// Undetermined is the key for source names without an extension.
	Undetermined = "Undetermined"
	// Unknown is returned for extensions missing from the table.
	Unknown = "Unknown"
)

var defaultTable = map[string]string{
	".c":          "C",
	".h":          "C",
	".cc":         "C++",
	".cpp":        "C++",
	".cxx":        "C++",
	".hpp":        "C++",
	".cs":         "C#",
	".clj":        "Clojure",
	".coffee":     "CoffeeScript",
	".css":        "CSS",
	".dart":       "Dart",
	".dockerfile": "Dockerfile",
	".env":        "Dotenv",
	".ex":         "Elixir",
	".exs":        "Elixir",
	".erl":        "Erlang",
	".fs":         "F#",
	".go":         "Go",
	".gradle":     "Gradle",
	".groovy":     "Groovy",
	".hs":         "Haskell",
	".hcl":        "HCL",
	".tf":         "HCL",
	".tfvars":     "HCL",
	".html":       "HTML",
	".htm":        "HTML",
	".ini":        "INI",
	".cfg":        "INI",
	".conf":       "INI",
	".java":       "Java",
	".properties": "Java Properties",
	".js":         "JavaScript",
	".mjs":        "JavaScript",
	".cjs":        "JavaScript",
	".jsx":        "JavaScript",
	".json":       "JSON",
	".ipynb":      "Jupyter Notebook",
	".kt":         "Kotlin",
	".kts":        "Kotlin",
	".lua":        "Lua",
	".md":         "Markdown",
	".m":          "Objective-C",
	".pl":         "Perl",
	".php":        "PHP",
	".ps1":        "PowerShell",
	".py":         "Python",
	".r":          "R",
	".rb":         "Ruby",
	".rs":         "Rust",
	".scala":      "Scala",
	".sh":         "Shell",
	".bash":       "Shell",
	".zsh":        "Shell",
	".sql":        "SQL",
	".swift":      "Swift",
	".toml":       "TOML",
	".ts":         "TypeScript",
	".tsx":        "TypeScript",
	".txt":        "Text",
	".log":        "Text",
	".vb":         "Visual Basic",
	".vue":        "Vue",
	".xml":        "XML",
	".yaml":       "YAML",
	".yml":        "YAML",
}

// Table resolves extensions to language names. The zero value is not
// usable; build one with NewTable. A Table is read-only after construction
// and safe for concurrent use.
type Table struct {
	byExt map[string]string
}

// NewTable returns the built-in table with overrides applied on top.
// Override keys may be given with or without the leading dot.
func NewTable(overrides map[string]string) *Table {
	byExt := make(map[string]string, len(defaultTable)+len(overrides))
	for ext, name := range defaultTable {
		byExt[ext] = name
	}
	for ext, name := range overrides {
		ext = normalize(ext)
		name = strings.TrimSpace(name)
		if ext == "" || name == "" {
			continue
		}
		byExt[ext] = name
	}
	return &Table{byExt: byExt}
}

// Resolve returns the language for ext (leading dot included, any case),
// or Unknown.
func (t *Table) Resolve(ext string) string {
	if name, ok := t.byExt[normalize(ext)]; ok {
		return name
	}
	return Unknown
}

// Extensions returns every known extension with its language, sorted by
// extension.
func (t *Table) Extensions() [][2]string {
	out := make([][2]string, 0, len(t.byExt))
	for ext, name := range t.byExt {
		out = append(out, [2]string{ext, name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Resolver maps an extension (leading dot included) to a language.
type Resolver interface {
	Resolve(ext string) string
}

var _ Resolver = (*Table)(nil)

// Key derives the language key for a source file name: the part after the
// last dot, looked up in r; names without an extension (or ending in a dot)
// map to Undetermined.
func Key(name string, r Resolver) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return Undetermined
	}
	return r.Resolve(name[idx:])
}

func normalize(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
