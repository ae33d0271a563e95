// Package uritemplate compiles, expands and matches the URI template
// syntax of spec.md §4.4: literal segments interleaved with typed,
// optionally-defaulted placeholders, e.g.
// `scheme://{user}/posts/{post_id:int}/settings/{setting:pattern:theme*=light}`.
//
// No repo in the retrieved pack implements typed, constrained URI
// routing templates. giantswarm-muster's internal/template/engine.go
// does `{{ var }}` substitution with text/template + sprig for service
// argument templating, a different problem (string interpolation, not
// URI matching); it was read only for the shape of a mutex-guarded
// compiled-pattern cache. The compiler/matcher below is built directly
// from spec.md §4.4's grammar.
package uritemplate

import (
	"strings"

	"mcpfabric/pkg/mcperr"
)

// PlaceholderType is the declared type of a template placeholder.
type PlaceholderType int

const (
	TypeString PlaceholderType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypePattern
)

// Segment is one compiled piece of a template: either a literal run of
// bytes or a placeholder.
type Segment struct {
	Literal     string
	IsLiteral   bool
	Name        string
	Type        PlaceholderType
	Optional    bool
	HasDefault  bool
	Default     string
	GlobPattern string // raw glob text, for pattern-typed placeholders
}

// Template is a compiled template: an ordered segment list plus the
// original string it was compiled from.
type Template struct {
	Source   string
	Segments []Segment
}

// Compile parses a template string into its segment list. Compilation
// fails with mcperr.InvalidParams on unbalanced braces, duplicate
// names, an unknown type keyword, a malformed glob, or a non-tail
// optional placeholder.
func Compile(source string) (*Template, error) {
	var segments []Segment
	seenNames := make(map[string]bool)
	seenOptional := false

	i := 0
	for i < len(source) {
		if source[i] != '{' {
			start := i
			for i < len(source) && source[i] != '{' {
				if source[i] == '}' {
					return nil, mcperr.New(mcperr.InvalidParams, "uritemplate: unbalanced brace in template")
				}
				i++
			}
			segments = append(segments, Segment{Literal: source[start:i], IsLiteral: true})
			continue
		}

		closeIdx := strings.IndexByte(source[i:], '}')
		if closeIdx == -1 {
			return nil, mcperr.New(mcperr.InvalidParams, "uritemplate: unbalanced brace in template")
		}
		body := source[i+1 : i+closeIdx]
		if strings.IndexByte(body, '{') != -1 {
			return nil, mcperr.New(mcperr.InvalidParams, "uritemplate: unbalanced brace in template")
		}
		i += closeIdx + 1

		seg, err := compilePlaceholder(body)
		if err != nil {
			return nil, err
		}
		if seenNames[seg.Name] {
			return nil, mcperr.Newf(mcperr.InvalidParams, "uritemplate: duplicate placeholder name %q", seg.Name)
		}
		seenNames[seg.Name] = true

		if seg.Optional {
			seenOptional = true
		} else if seenOptional {
			return nil, mcperr.New(mcperr.InvalidParams, "uritemplate: optional placeholders must be the tail of the template")
		}

		segments = append(segments, seg)
	}

	return &Template{Source: source, Segments: segments}, nil
}

// compilePlaceholder parses the body of `{...}`: name[:type][?|=default].
func compilePlaceholder(body string) (Segment, error) {
	if body == "" {
		return Segment{}, mcperr.New(mcperr.InvalidParams, "uritemplate: empty placeholder")
	}

	seg := Segment{}
	rest := body

	if idx := strings.IndexAny(rest, "?="); idx != -1 {
		flag := rest[idx]
		defaultVal := rest[idx+1:]
		rest = rest[:idx]
		if flag == '?' {
			seg.Optional = true
		} else {
			seg.Optional = true
			seg.HasDefault = true
			seg.Default = defaultVal
		}
	}

	typ := ""
	name := rest
	if idx := strings.IndexByte(rest, ':'); idx != -1 {
		name = rest[:idx]
		typ = rest[idx+1:]
	}

	if name == "" {
		return Segment{}, mcperr.New(mcperr.InvalidParams, "uritemplate: placeholder missing a name")
	}
	seg.Name = name

	switch {
	case typ == "":
		seg.Type = TypeString
	case typ == "int":
		seg.Type = TypeInt
	case typ == "float":
		seg.Type = TypeFloat
	case typ == "bool":
		seg.Type = TypeBool
	case strings.HasPrefix(typ, "pattern:"):
		glob := strings.TrimPrefix(typ, "pattern:")
		if err := validateGlob(glob); err != nil {
			return Segment{}, err
		}
		seg.Type = TypePattern
		seg.GlobPattern = glob
	default:
		return Segment{}, mcperr.Newf(mcperr.InvalidParams, "uritemplate: unknown placeholder type %q", typ)
	}

	return seg, nil
}

// validateGlob checks that glob only uses the restricted syntax
// spec.md §4.4 allows: literal characters and `*` (any run of
// non-`/` characters). Any other metacharacter is malformed.
func validateGlob(glob string) error {
	for _, r := range glob {
		switch r {
		case '*':
			continue
		case '?', '[', ']', '{', '}', '\\':
			return mcperr.Newf(mcperr.InvalidParams, "uritemplate: malformed glob %q", glob)
		}
	}
	return nil
}

func (t PlaceholderType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypePattern:
		return "pattern"
	default:
		return "string"
	}
}
