package history

import (
	"path"
	"strings"
)

var languageByExt = map[string]string{
	"ts":     "typescript",
	"tsx":    "typescript",
	"js":     "javascript",
	"jsx":    "javascript",
	"mjs":    "javascript",
	"cjs":    "javascript",
	"go":     "go",
	"py":     "python",
	"rb":     "ruby",
	"rs":     "rust",
	"java":   "java",
	"kt":     "kotlin",
	"swift":  "swift",
	"php":    "php",
	"css":    "css",
	"scss":   "scss",
	"html":   "html",
	"vue":    "vue",
	"svelte": "svelte",
	"json":   "json",
	"yaml":   "yaml",
	"yml":    "yaml",
	"toml":   "toml",
	"md":     "markdown",
	"sql":    "sql",
	"sh":     "shell",
	"svg":    "svg",
}

// Classify derives the file type (extension) and language of a filename.
// Files without an extension get type "text".
func Classify(filename string) (fileType, language string) {
	base := path.Base(filename)
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(base), "."))
	if ext == "" || ext == strings.ToLower(strings.TrimPrefix(base, ".")) {
		switch strings.ToLower(base) {
		case "dockerfile":
			return "dockerfile", "dockerfile"
		case "makefile":
			return "makefile", "makefile"
		}
		return "text", "plaintext"
	}
	if lang, ok := languageByExt[ext]; ok {
		return ext, lang
	}
	return ext, "plaintext"
}
