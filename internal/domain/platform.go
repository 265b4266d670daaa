package domain

import (
	"strings"
	"unicode"
)

// knownSuffixes are host suffixes that do not distinguish one platform from another.
var knownSuffixes = []string{".new", ".dev", ".com", ".app", ".ai", ".io", ".co", ".so", ".sh", ".net", ".org"}

// DefaultPlatformAliases maps canonical spellings that still differ after
// suffix stripping onto one name.
var DefaultPlatformAliases = map[string]string{
	"bolt-new":     "bolt",
	"stackblitz":   "bolt",
	"lovable-app":  "lovable",
	"gpt-engineer": "lovable",
	"vercel-v0":    "v0",
	"jules":        "google-jules",
}

// CanonicalPlatformName folds a platform name or URL into the key used for
// uniqueness: lower case, no scheme, no www, no path or port, known
// suffixes stripped, remaining punctuation collapsed to "-", then aliased.
func CanonicalPlatformName(name string, aliases map[string]string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 && isDigits(s[i+1:]) {
		s = s[:i]
	}

	for {
		stripped := false
		for _, suffix := range knownSuffixes {
			if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	s = collapse(s)
	if alias, ok := lookupAlias(s, aliases); ok {
		return alias
	}
	return s
}

func lookupAlias(s string, aliases map[string]string) (string, bool) {
	if a, ok := aliases[s]; ok && a != "" {
		return a, true
	}
	if a, ok := DefaultPlatformAliases[s]; ok {
		return a, true
	}
	return "", false
}

func collapse(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
