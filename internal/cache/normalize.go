package cache

import "strings"

// NormalizeQuestion trims surrounding whitespace and strips exactly one
// leading "#" marker, re-trimming after the strip. Case is preserved;
// embedding similarity handles semantic equivalence. Idempotent for strings
// that do not start with further "#" characters after the first strip.
func NormalizeQuestion(question string) string {
	s := strings.TrimSpace(question)
	if strings.HasPrefix(s, "#") {
		s = strings.TrimSpace(s[1:])
	}
	return s
}
