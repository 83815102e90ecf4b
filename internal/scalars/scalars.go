// Package scalars provides custom GraphQL scalars for values that arrive as
// decoded JSON from PostgreSQL's to_json: dates and timestamps are strings,
// jsonb columns are already structured.
package scalars

import (
	"math"
	"strconv"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

const dateLayout = "2006-01-02"

// NonNegativeInt is used for page sizes.
func NonNegativeInt() *graphql.Scalar {
	coerce := func(value any) any {
		if parsed, ok := coerceNonNegativeInt(value); ok {
			return parsed
		}
		return nil
	}
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "NonNegativeInt",
		Description: "An integer greater than or equal to zero.",
		Serialize:   coerce,
		ParseValue:  coerce,
		ParseLiteral: func(valueAST ast.Value) any {
			intValue, ok := valueAST.(*ast.IntValue)
			if !ok {
				return nil
			}
			parsed, err := strconv.Atoi(intValue.Value)
			if err != nil || parsed < 0 {
				return nil
			}
			return parsed
		},
	})
}

// JSON passes structured values through unchanged. Literals are converted
// into maps, slices and scalars.
func JSON() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "JSON",
		Description: "Arbitrary JSON value.",
		Serialize:   func(value any) any { return value },
		ParseValue:  func(value any) any { return value },
		ParseLiteral: func(valueAST ast.Value) any {
			return literalValue(valueAST)
		},
	})
}

func literalValue(v ast.Value) any {
	switch t := v.(type) {
	case *ast.StringValue:
		return t.Value
	case *ast.BooleanValue:
		return t.Value
	case *ast.IntValue:
		if n, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
			return n
		}
		return nil
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(t.Value, 64); err == nil {
			return f
		}
		return nil
	case *ast.EnumValue:
		return t.Value
	case *ast.ListValue:
		out := make([]any, len(t.Values))
		for i, item := range t.Values {
			out[i] = literalValue(item)
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			out[f.Name.Value] = literalValue(f.Value)
		}
		return out
	default:
		return nil
	}
}

// Date is serialized as YYYY-MM-DD. Parsed values are strings in the same
// form so they can be bound to a date parameter as is.
func Date() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Date",
		Description: "Date value serialized as YYYY-MM-DD.",
		Serialize: func(value any) any {
			switch v := value.(type) {
			case time.Time:
				return v.UTC().Format(dateLayout)
			case string:
				return parseDate(v)
			default:
				return nil
			}
		},
		ParseValue: func(value any) any {
			if s, ok := value.(string); ok {
				return parseDate(s)
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) any {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return parseDate(sv.Value)
			}
			return nil
		},
	})
}

// parseDate accepts a date or an RFC 3339 timestamp and returns the date
// part, or nil.
func parseDate(s string) any {
	if parsed, err := time.Parse(dateLayout, s); err == nil {
		return parsed.Format(dateLayout)
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		return parsed.Format(dateLayout)
	}
	return nil
}

// DateTime is serialized as RFC 3339 in UTC. PostgreSQL renders timestamptz
// in JSON with fractional seconds and a "+00:00" offset; both forms parse.
func DateTime() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "DateTime",
		Description: "Timestamp serialized as RFC 3339 in UTC.",
		Serialize: func(value any) any {
			switch v := value.(type) {
			case time.Time:
				return v.UTC().Format(time.RFC3339Nano)
			case string:
				if t, ok := parseDateTime(v); ok {
					return t.UTC().Format(time.RFC3339Nano)
				}
				return nil
			default:
				return nil
			}
		},
		ParseValue: func(value any) any {
			if s, ok := value.(string); ok {
				if t, ok := parseDateTime(s); ok {
					return t.UTC().Format(time.RFC3339Nano)
				}
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) any {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				if t, ok := parseDateTime(sv.Value); ok {
					return t.UTC().Format(time.RFC3339Nano)
				}
			}
			return nil
		},
	})
}

func parseDateTime(s string) (time.Time, bool) {
	// timestamp without time zone renders without an offset
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func coerceNonNegativeInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		if v < 0 {
			return 0, false
		}
		return v, true
	case int32:
		if v < 0 {
			return 0, false
		}
		return int(v), true
	case int64:
		if v < 0 || v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case float64:
		if v != math.Trunc(v) || v < 0 || v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
