// Package keyhash derives deterministic fingerprints from key mappings and
// converts between class and table names.
package keyhash

import (
	"cmp"
	"crypto/md5" //nolint:gosec // fingerprints must match existing hashed keys
	"encoding/hex"
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Size is the length of a hex encoded fingerprint.
const Size = 32

// Hash returns the hex encoded MD5 of the mapping's values, visited in key
// order. Key names do not contribute, only their ordering does.
func Hash[K cmp.Ordered, V any](mapping map[K]V) string {
	h := md5.New() //nolint:gosec
	for _, k := range slices.Sorted(maps.Keys(mapping)) {
		h.Write([]byte(Format(mapping[k])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Truncate shortens a fingerprint to n characters, clamped to [0, Size].
func Truncate(fingerprint string, n int) string {
	n = max(0, min(n, Size, len(fingerprint)))
	return fingerprint[:n]
}

// Format renders a single attribute value the way it contributes to Hash.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case time.Time:
		s := x.Format(time.DateTime)
		if us := x.Nanosecond() / int(time.Microsecond); us != 0 {
			s += fmt.Sprintf(".%06d", us)
		}
		return s
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

var (
	classNamePattern = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`)
	tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)
)

// FromCamelCase converts a class name such as "TableName" into its table
// name "table_name".
func FromCamelCase(s string) (string, error) {
	if !classNamePattern.MatchString(s) {
		return "", fmt.Errorf("class name %q must be alphanumeric in CamelCase, beginning with a capital letter", s)
	}
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// ToCamelCase converts a table name such as "table_name" into its class name
// "TableName".
func ToCamelCase(s string) (string, error) {
	if !tableNamePattern.MatchString(s) {
		return "", fmt.Errorf("table name %q must be lowercase words separated by underscores", s)
	}
	var b strings.Builder
	for _, part := range strings.Split(s, "_") {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String(), nil
}
