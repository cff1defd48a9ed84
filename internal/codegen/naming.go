package codegen

import (
	"go/token"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var initialisms = map[string]string{
	"api":  "API",
	"http": "HTTP",
	"id":   "ID",
	"ts":   "TS",
	"url":  "URL",
	"uuid": "UUID",
	"json": "JSON",
	"sql":  "SQL",
}

// Identifier converts a table or column name into an exported Go identifier.
func Identifier(raw string) string {
	var b strings.Builder
	for _, seg := range splitSegments(raw) {
		lower := strings.ToLower(seg)
		if up, ok := initialisms[lower]; ok {
			b.WriteString(up)
			continue
		}
		r, size := utf8.DecodeRuneInString(lower)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(lower[size:])
	}
	ident := b.String()
	if ident == "" {
		return "X"
	}
	if r, _ := utf8.DecodeRuneInString(ident); !unicode.IsLetter(r) {
		ident = "X" + ident
	}
	if token.Lookup(ident).IsKeyword() {
		ident += "_"
	}
	return ident
}

// splitSegments breaks raw at separators and lower-to-upper case changes.
func splitSegments(raw string) []string {
	var parts []string
	var buf strings.Builder
	runes := []rune(raw)
	flush := func() {
		if buf.Len() > 0 {
			parts = append(parts, buf.String())
			buf.Reset()
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		buf.WriteRune(r)
	}
	flush()
	return parts
}

// uniqueName returns base, or base with the smallest numeric suffix that is
// not yet in used.
func uniqueName(base string, used map[string]bool) string {
	name := base
	for i := 2; used[name]; i++ {
		name = base + strconv.Itoa(i)
	}
	used[name] = true
	return name
}
