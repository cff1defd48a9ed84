package keyhash

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name    string
		mapping map[string]any
		want    string
	}{
		{"empty", map[string]any{}, "d41d8cd98f00b204e9800998ecf8427e"},
		{"single", map[string]any{"k": "abc"}, "900150983cd24fb0d6963f7d28e17f72"},
		{"sorted by key", map[string]any{"b": "x", "a": 1}, "38684612f0c6bb6dfa16da92f4a6878f"},
		{"timestamp", map[string]any{"ts": time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)}, "d23f98ad15dfef1aa935b58bc59c4da0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hash(tt.mapping); got != tt.want {
				t.Errorf("Hash() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashOrdersIntegerKeysNumerically(t *testing.T) {
	numeric := map[int]string{}
	lexical := map[string]string{}
	for i := range 12 {
		v := string(rune('a' + i))
		numeric[i] = v
		lexical[Format(i)] = v
	}
	if Hash(numeric) == Hash(lexical) {
		t.Fatal("integer keys 10 and 11 must sort after 9")
	}
	if got, want := Hash(numeric), Hash(map[string]string{"0": "abcdefghijkl"}); got != want {
		t.Errorf("Hash(numeric) = %q, want %q", got, want)
	}
}

func TestHashDeterministic(t *testing.T) {
	m := map[string]any{"subject": 12, "session": "s1", "scale": 0.5}
	first := Hash(m)
	for range 10 {
		if got := Hash(m); got != first {
			t.Fatalf("Hash() changed between calls: %q vs %q", got, first)
		}
	}
	if len(first) != Size {
		t.Fatalf("len(Hash()) = %d, want %d", len(first), Size)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "None"},
		{true, "True"},
		{false, "False"},
		{int64(42), "42"},
		{1.0, "1.0"},
		{0.5, "0.5"},
		{1234567.0, "1234567.0"},
		{1e16, "1e+16"},
		{1e-05, "1e-05"},
		{math.Inf(-1), "-inf"},
		{[]byte("raw"), "raw"},
		{decimal.RequireFromString("10.50"), "10.5"},
		{time.Date(2021, 6, 1, 0, 0, 0, 1500, time.UTC), "2021-06-01 00:00:00.000001"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	h := Hash(map[string]any{"k": "abc"})
	if got := Truncate(h, 8); got != h[:8] {
		t.Errorf("Truncate(8) = %q", got)
	}
	if got := Truncate(h, 99); got != h {
		t.Errorf("Truncate(99) = %q, want full hash", got)
	}
	if got := Truncate(h, -1); got != "" {
		t.Errorf("Truncate(-1) = %q, want empty", got)
	}
}

func TestCamelCase(t *testing.T) {
	tests := []struct {
		class string
		table string
	}{
		{"Subject", "subject"},
		{"TableName", "table_name"},
		{"ScanLink2", "scan_link2"},
		{"RawScanSet", "raw_scan_set"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			got, err := FromCamelCase(tt.class)
			if err != nil {
				t.Fatalf("FromCamelCase() error = %v", err)
			}
			if got != tt.table {
				t.Errorf("FromCamelCase() = %q, want %q", got, tt.table)
			}
			back, err := ToCamelCase(got)
			if err != nil {
				t.Fatalf("ToCamelCase() error = %v", err)
			}
			if back != tt.class {
				t.Errorf("ToCamelCase() = %q, want %q", back, tt.class)
			}
		})
	}

	for _, bad := range []string{"", "lower", "Has_Underscore", "9Lives"} {
		if _, err := FromCamelCase(bad); err == nil {
			t.Errorf("FromCamelCase(%q) expected error", bad)
		}
	}
	if _, err := ToCamelCase("Upper"); err == nil {
		t.Error("ToCamelCase(\"Upper\") expected error")
	}
}
