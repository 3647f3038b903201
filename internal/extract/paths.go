package extract

import (
	"regexp"
	"strings"
)

var (
	backtickPath = regexp.MustCompile("`([^`\\n]+\\.[a-zA-Z0-9]+)`")
	barePath     = regexp.MustCompile(`^[./~]?[a-zA-Z0-9_\-\p{Han}/\\.]+\.[a-zA-Z0-9]+$`)
)

// ChangedPaths returns the file paths a task description names, in the order
// they are first mentioned. Backticked names must contain a directory
// separator; bare tokens must contain one or start with a dot.
func ChangedPaths(text string) []string {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	for _, m := range backtickPath.FindAllStringSubmatch(text, -1) {
		if strings.Contains(m[1], "/") {
			add(m[1])
		}
	}

	for _, tok := range strings.Fields(text) {
		if !barePath.MatchString(tok) {
			continue
		}
		if strings.Contains(tok, "/") || strings.HasPrefix(tok, ".") {
			add(tok)
		}
	}
	return paths
}
