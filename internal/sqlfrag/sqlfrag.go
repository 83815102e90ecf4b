// Package sqlfrag builds parameterized SQL as a tree of fragments and flattens
// it into a single statement with an ordered argument list.
//
// Text elements use squirrel's conventions: a literal question mark inside SQL
// text must be written as "??" so positional placeholder rewriting leaves it
// alone.
package sqlfrag

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Kind identifies the variant held by an Element.
type Kind int

const (
	// KindText is literal SQL text.
	KindText Kind = iota
	// KindRaw is pre-validated SQL spliced verbatim (operators, directions).
	KindRaw
	// KindParam is a bound value rendered as a placeholder.
	KindParam
	// KindNested embeds another fragment.
	KindNested
)

// Element is one node of a fragment tree.
type Element struct {
	Kind   Kind
	Text   string
	Value  any
	Nested Fragment
}

// Fragment is an ordered sequence of elements.
type Fragment []Element

// RawSQL marks a string that SQL splices as text instead of binding it.
type RawSQL string

// Raw marks s as trusted SQL text.
func Raw(s string) RawSQL {
	return RawSQL(s)
}

// Text returns a fragment holding literal SQL text.
func Text(s string) Fragment {
	return Fragment{{Kind: KindText, Text: s}}
}

// Param returns a fragment holding a single bound value.
func Param(v any) Fragment {
	return Fragment{{Kind: KindParam, Value: v}}
}

// Query is a linearized fragment: SQL text plus ordered arguments.
type Query struct {
	SQL    string
	Params []any
}

// SQL builds a fragment from a format string in which every "?" consumes the
// next argument, the same way squirrel.Expr does. RawSQL arguments are spliced
// as text, Fragment and squirrel.Sqlizer arguments are embedded, anything else
// becomes a bound parameter. "??" in the format stays a literal escaped "??".
func SQL(format string, args ...any) Fragment {
	frag := make(Fragment, 0, 2*len(args)+1)
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			frag = append(frag, Element{Kind: KindText, Text: text.String()})
			text.Reset()
		}
	}

	argIdx := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '?' {
			text.WriteByte(c)
			continue
		}
		if i+1 < len(format) && format[i+1] == '?' {
			text.WriteString("??")
			i++
			continue
		}
		if argIdx >= len(args) {
			panic(fmt.Sprintf("sqlfrag: format %q has more placeholders than arguments (%d)", format, len(args)))
		}
		arg := args[argIdx]
		argIdx++
		flush()
		frag = append(frag, element(arg))
	}
	if argIdx != len(args) {
		panic(fmt.Sprintf("sqlfrag: format %q consumed %d of %d arguments", format, argIdx, len(args)))
	}
	flush()
	return frag
}

func element(arg any) Element {
	switch v := arg.(type) {
	case RawSQL:
		return Element{Kind: KindRaw, Text: string(v)}
	case Fragment:
		return Element{Kind: KindNested, Nested: v}
	case sq.Sqlizer:
		nested, err := FromSqlizer(v)
		if err != nil {
			panic(fmt.Sprintf("sqlfrag: embedding sqlizer: %v", err))
		}
		return Element{Kind: KindNested, Nested: nested}
	default:
		return Element{Kind: KindParam, Value: v}
	}
}

// Append concatenates fragments into one.
func Append(frags ...Fragment) Fragment {
	n := 0
	for _, f := range frags {
		n += len(f)
	}
	out := make(Fragment, 0, n)
	for _, f := range frags {
		out = append(out, f...)
	}
	return out
}

// Join concatenates fragments with a text separator between each pair.
func Join(sep string, frags ...Fragment) Fragment {
	out := make(Fragment, 0, 2*len(frags))
	for i, f := range frags {
		if i > 0 {
			out = append(out, Element{Kind: KindText, Text: sep})
		}
		out = append(out, Element{Kind: KindNested, Nested: f})
	}
	return out
}

// IsEmpty reports whether the fragment renders no SQL text.
func (f Fragment) IsEmpty() bool {
	for _, e := range f {
		switch e.Kind {
		case KindText, KindRaw:
			if e.Text != "" {
				return false
			}
		case KindParam:
			return false
		case KindNested:
			if !e.Nested.IsEmpty() {
				return false
			}
		}
	}
	return true
}

// ToSql implements squirrel.Sqlizer so fragments compose with squirrel builders.
func (f Fragment) ToSql() (string, []interface{}, error) {
	q := Linearize(f)
	return q.SQL, q.Params, nil
}

// Linearize flattens the tree depth-first into "?"-placeholder SQL and its
// arguments. The Nth placeholder always corresponds to the Nth argument. Question
// marks inside raw elements are written as "??" so they never count as
// placeholders.
func Linearize(f Fragment) Query {
	var sb strings.Builder
	params := make([]any, 0)
	linearize(f, &sb, &params)
	return Query{SQL: sb.String(), Params: params}
}

func linearize(f Fragment, sb *strings.Builder, params *[]any) {
	for _, e := range f {
		switch e.Kind {
		case KindText:
			sb.WriteString(e.Text)
		case KindRaw:
			sb.WriteString(strings.ReplaceAll(e.Text, "?", "??"))
		case KindParam:
			sb.WriteByte('?')
			*params = append(*params, e.Value)
		case KindNested:
			linearize(e.Nested, sb, params)
		}
	}
}

// WithPlaceholders rewrites "?" placeholders using a squirrel placeholder
// format, e.g. sq.Dollar for PostgreSQL.
func (q Query) WithPlaceholders(format sq.PlaceholderFormat) (Query, error) {
	if format == nil {
		return q, nil
	}
	rewritten, err := format.ReplacePlaceholders(q.SQL)
	if err != nil {
		return Query{}, fmt.Errorf("rewrite placeholders: %w", err)
	}
	return Query{SQL: rewritten, Params: q.Params}, nil
}

// FromSqlizer converts any squirrel.Sqlizer into a fragment, splitting its
// "?" placeholders back into parameter elements.
func FromSqlizer(s sq.Sqlizer) (Fragment, error) {
	if f, ok := s.(Fragment); ok {
		return f, nil
	}
	text, args, err := s.ToSql()
	if err != nil {
		return nil, err
	}

	frag := make(Fragment, 0, 2*len(args)+1)
	argIdx := 0
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] == '?' {
			i++
			continue
		}
		if argIdx >= len(args) {
			return nil, fmt.Errorf("sqlizer produced more placeholders than arguments (%d)", len(args))
		}
		if i > start {
			frag = append(frag, Element{Kind: KindText, Text: text[start:i]})
		}
		frag = append(frag, Element{Kind: KindParam, Value: args[argIdx]})
		argIdx++
		start = i + 1
	}
	if argIdx != len(args) {
		return nil, fmt.Errorf("sqlizer produced %d placeholders for %d arguments", argIdx, len(args))
	}
	if start < len(text) {
		frag = append(frag, Element{Kind: KindText, Text: text[start:]})
	}
	return frag, nil
}
