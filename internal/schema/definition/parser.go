// Package definition parses compact table definitions into model tables.
//
// A definition lists one attribute per line. Attributes above the "---"
// divider form the primary key; without a divider every attribute does.
//
//	# optional table comment
//	-> Subject
//	session_id            : int unsigned   # session number
//	---
//	note = ""             : varchar(1024)
//	raw                   : filepath@raw
//	session_ts = CURRENT_TIMESTAMP : timestamp
//
// A "-> Ref" line copies the primary key of the referenced table and adds a
// foreign key to it.
package definition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

//nolint:govet // Participle struct tags are DSL, not reflect tags
type file struct {
	Lines []*line `@@*`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type line struct {
	Pos     lexer.Position
	Divider bool       `(   @Divider`
	Foreign *foreign   `  | @@`
	Attr    *attribute `  | @@ )?`
	Comment string     `@Comment?`
	EOL     string     `@EOL`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type foreign struct {
	Ref []string `"->" @Ident ( "." @Ident )*`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type attribute struct {
	Name    string        `@Ident`
	Default *defaultValue `( "=" @@ )?`
	Type    *typeSpec     `":" @@`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type defaultValue struct {
	String  *string `  @String`
	Number  *string `| @Number`
	Keyword *string `| @Ident ( "(" ")" )?`
}

//nolint:govet // Participle struct tags are DSL, not reflect tags
type typeSpec struct {
	Words []string `@Ident+`
	Args  []string `( "(" @(Number | String | Ident) ( "," @(Number | String | Ident) )* ")" )?`
	Mods  []string `@Ident*`
	Store string   `( "@" @Ident )?`
}

//nolint:govet // Participle DSL uses unkeyed fields
var definitionLexer = lexer.MustSimple([]lexer.SimpleRule{
	{"Comment", `#[^\n]*`},
	{"EOL", `[\r\n]+`},
	{"Whitespace", `[ \t]+`},
	{"Divider", `-{3,}`},
	{"Arrow", `->`},
	{"String", `"(\\.|[^"\\\n])*"|'(\\.|[^'\\\n])*'`},
	{"Number", `[-+]?[0-9]+(\.[0-9]+)?([eE][-+]?[0-9]+)?`},
	{"Ident", `[A-Za-z_][A-Za-z0-9_]*`},
	{"Punct", `[=:(),.@]`},
})

var parser = participle.MustBuild[file](
	participle.Lexer(definitionLexer),
	participle.Elide("Whitespace"),
)

// Item is one attribute or reference line.
type Item struct {
	// Line is the 1-based source line.
	Line int
	// Attribute is set for attribute lines.
	Attribute *Attribute
	// Ref is the referenced class for "->" lines.
	Ref     string
	Comment string
}

// Attribute is a declared column.
type Attribute struct {
	Name     string
	Type     string
	Args     []string
	Unsigned bool
	Store    string
	// Default is nil when no default is given.
	Default *Default
}

// DefaultKind classifies a default literal.
type DefaultKind int

const (
	DefaultString DefaultKind = iota
	DefaultNumber
	DefaultKeyword
	DefaultNull
)

// Default is an attribute's default value.
type Default struct {
	Kind DefaultKind
	// Text is the unquoted string, the number, or the keyword in upper case.
	Text string
}

// Definition is a parsed table definition.
type Definition struct {
	Doc       string
	Primary   []Item
	Secondary []Item
}

// Parse parses definition text.
func Parse(src string) (*Definition, error) {
	if !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	f, err := parser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	def := &Definition{}
	divided := false
	var items []Item
	for _, ln := range f.Lines {
		comment := strings.TrimSpace(strings.TrimPrefix(ln.Comment, "#"))
		switch {
		case ln.Divider:
			if divided {
				return nil, fmt.Errorf("parse definition: line %d: second divider", ln.Pos.Line)
			}
			divided = true
			def.Primary = items
			items = nil
		case ln.Foreign != nil:
			items = append(items, Item{Line: ln.Pos.Line, Ref: strings.Join(ln.Foreign.Ref, "."), Comment: comment})
		case ln.Attr != nil:
			attr, err := convertAttribute(ln.Attr)
			if err != nil {
				return nil, fmt.Errorf("parse definition: line %d: %w", ln.Pos.Line, err)
			}
			items = append(items, Item{Line: ln.Pos.Line, Attribute: attr, Comment: comment})
		case comment != "" && def.Doc == "" && !divided && len(items) == 0:
			def.Doc = comment
		}
	}
	if divided {
		def.Secondary = items
	} else {
		def.Primary = items
	}
	return def, nil
}

func convertAttribute(a *attribute) (*Attribute, error) {
	words := make([]string, 0, len(a.Type.Words)+len(a.Type.Mods))
	for _, w := range append(slices.Clone(a.Type.Words), a.Type.Mods...) {
		words = append(words, strings.ToLower(w))
	}

	out := &Attribute{
		Name:  a.Name,
		Type:  words[0],
		Args:  a.Type.Args,
		Store: a.Type.Store,
	}
	for _, w := range words[1:] {
		switch w {
		case "unsigned":
			out.Unsigned = true
		case "precision":
			if out.Type != "double" {
				return nil, fmt.Errorf("attribute %q: %s does not take precision", a.Name, out.Type)
			}
		default:
			return nil, fmt.Errorf("attribute %q: unknown type modifier %q", a.Name, w)
		}
	}
	if out.Store != "" && out.Type != "filepath" && out.Type != "attach" {
		return nil, fmt.Errorf("attribute %q: store %q requires a filepath type", a.Name, out.Store)
	}
	if out.Type == "filepath" && out.Store == "" {
		return nil, fmt.Errorf("attribute %q: filepath requires a store", a.Name)
	}

	if d := a.Default; d != nil {
		switch {
		case d.String != nil:
			out.Default = &Default{Kind: DefaultString, Text: unquote(*d.String)}
		case d.Number != nil:
			out.Default = &Default{Kind: DefaultNumber, Text: *d.Number}
		case strings.EqualFold(*d.Keyword, "null"):
			out.Default = &Default{Kind: DefaultNull, Text: "NULL"}
		default:
			out.Default = &Default{Kind: DefaultKeyword, Text: strings.ToUpper(*d.Keyword)}
		}
	}
	return out, nil
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String()
}
