package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
)

var unsafeNameReplacer = strings.NewReplacer(
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// DisplayName reduces a client-supplied filename to a safe base name for
// logs, notifications and report files. Directory components and control
// characters are dropped; an empty result becomes "document".
func DisplayName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(unsafeNameReplacer.Replace(name))
	if name == "" || name == "/" || name == "." || name == ".." {
		return "document"
	}
	return name
}
