package service

import (
	"strings"
	"unicode"
)

// CountLength measures content the way a story's length bounds are
// expressed: ideographic characters for CJK languages, whitespace
// separated tokens otherwise.
func CountLength(content, language string) int {
	if isCJK(language) {
		n := 0
		for _, r := range content {
			if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
				n++
			}
		}
		return n
	}
	return len(strings.Fields(content))
}

func isCJK(language string) bool {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	switch lang {
	case "zh", "ja", "ko":
		return true
	}
	return false
}
