package memory

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// SanitizeText makes a string safe to persist as a JSON document value:
// invalid UTF-8 (e.g. lone surrogates smuggled through a decoder) is dropped,
// degree signs are removed (they have repeatedly corrupted downstream
// consumers of weather answers), and malformed backslash escape sequences are
// neutralized by doubling the backslash so the stored JSON never contains a
// dangling `\u`-style fragment.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "�", "")
	s = strings.ReplaceAll(s, "°", "")
	return neutralizeEscapes(s)
}

// neutralizeEscapes doubles every backslash that does not start a complete
// escape sequence. Complete sequences are `\\`, `\u` + 4 hex digits,
// `\x` + 2 hex digits and `\U` + 8 hex digits.
func neutralizeEscapes(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	r := []rune(s)
	for i := 0; i < len(r); i++ {
		if r[i] != '\\' {
			b.WriteRune(r[i])
			continue
		}
		if i+1 < len(r) && r[i+1] == '\\' {
			b.WriteString(`\\`)
			i++
			continue
		}
		var need int
		if i+1 < len(r) {
			switch r[i+1] {
			case 'u':
				need = 4
			case 'x':
				need = 2
			case 'U':
				need = 8
			}
		}
		if need > 0 && hexRun(r, i+2) >= need {
			b.WriteRune('\\')
			b.WriteRune(r[i+1])
			for j := 0; j < need; j++ {
				b.WriteRune(r[i+2+j])
			}
			i += 1 + need
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

func hexRun(r []rune, from int) int {
	n := 0
	for i := from; i < len(r) && isHex(r[i]); i++ {
		n++
	}
	return n
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

const (
	titleMaxWords = 8
	titleMaxRunes = 59
)

// deriveTitle builds a short conversation title from the first user message:
// whitespace collapsed, at most 8 words, at most 59 runes plus an ellipsis,
// first letter capitalized. Empty input yields a dated generic title.
func deriveTitle(text string, now time.Time) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "Conversation " + now.UTC().Format("2006-01-02 15:04")
	}
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")
	if r := []rune(title); len(r) > titleMaxRunes+1 {
		title = string(r[:titleMaxRunes]) + "…"
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}
