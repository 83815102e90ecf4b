// Package cursor builds Relay-style connection queries over a caller supplied
// base relation. Cursors are opaque base64-encoded JSON arrays holding the
// ordering key of a row.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	sq "github.com/Masterminds/squirrel"

	"github.com/jzimmek/graphql-pg/internal/selects"
	"github.com/jzimmek/graphql-pg/internal/sqlfrag"
)

const (
	// CursorColumn must hold the row's ordering key as a JSON array,
	// e.g. json_build_array(id).
	CursorColumn = "$cursor"
	// RowNumberColumn must increase monotonically in connection order.
	RowNumberColumn = "$row_number"
	// DefaultLimit applies when neither first nor last is given.
	DefaultLimit = 10
)

var (
	// ErrInvalidCursor is returned for tokens that are not base64 JSON arrays.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrFirstAndLast is returned when both first and last are supplied.
	ErrFirstAndLast = errors.New("first and last cannot be combined")
	// ErrNegativeLimit is returned for a negative first or last.
	ErrNegativeLimit = errors.New("first and last must not be negative")
)

// PagingArgs are the standard connection arguments.
type PagingArgs struct {
	Before string
	After  string
	First  *int
	Last   *int
}

// RelationBuilder returns the base relation for a page. It must expose the
// CursorColumn and RowNumberColumn columns and apply the decoded keys.
type RelationBuilder func(before, after []any) sqlfrag.Fragment

// EncodeKeys builds an opaque cursor from ordering key values.
func EncodeKeys(keys []any) string {
	if keys == nil {
		keys = []any{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeKeys parses a cursor back into ordering key values. An empty token
// decodes to an empty list. Whole numbers decode as int64.
func DecodeKeys(token string) ([]any, error) {
	if token == "" {
		return []any{}, nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	var keys []any
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: expected JSON array: %w", ErrInvalidCursor, err)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: expected JSON array", ErrInvalidCursor)
	}
	for i, k := range keys {
		if f, ok := k.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			keys[i] = int64(f)
		}
	}
	return keys, nil
}

// PagingArgsFromMap reads first, last, before and after from resolved
// GraphQL arguments.
func PagingArgsFromMap(args map[string]any) (PagingArgs, error) {
	var p PagingArgs
	var err error
	if p.First, err = intArg(args, "first"); err != nil {
		return PagingArgs{}, err
	}
	if p.Last, err = intArg(args, "last"); err != nil {
		return PagingArgs{}, err
	}
	if p.Before, err = stringArg(args, "before"); err != nil {
		return PagingArgs{}, err
	}
	if p.After, err = stringArg(args, "after"); err != nil {
		return PagingArgs{}, err
	}
	return p, nil
}

// Limit returns max(first, last), or DefaultLimit when neither is positive.
func (p PagingArgs) Limit() int {
	limit := 0
	if p.First != nil && *p.First > limit {
		limit = *p.First
	}
	if p.Last != nil && *p.Last > limit {
		limit = *p.Last
	}
	if limit == 0 {
		return DefaultLimit
	}
	return limit
}

// Direction is the sequence order used to cut the window: ascending unless
// only last is given.
func (p PagingArgs) Direction() string {
	if p.First == nil && p.Last != nil {
		return "desc"
	}
	return "asc"
}

// Validate rejects argument combinations that have no defined window.
func (p PagingArgs) Validate() error {
	if p.First != nil && p.Last != nil {
		return ErrFirstAndLast
	}
	if (p.First != nil && *p.First < 0) || (p.Last != nil && *p.Last < 0) {
		return ErrNegativeLimit
	}
	return nil
}

// New builds the connection query for a page. The result projects a single
// json_build_object column shaped as {edges: [{id, cursor, node}], pageInfo}.
func New(args PagingArgs, build RelationBuilder) (selects.Cursor, error) {
	if err := args.Validate(); err != nil {
		return selects.Cursor{}, err
	}
	before, err := DecodeKeys(args.Before)
	if err != nil {
		return selects.Cursor{}, fmt.Errorf("before: %w", err)
	}
	after, err := DecodeKeys(args.After)
	if err != nil {
		return selects.Cursor{}, fmt.Errorf("after: %w", err)
	}

	rowNumber := `"` + RowNumberColumn + `"`
	limited, err := sqlfrag.FromSqlizer(sq.Select("*").From("query").
		OrderBy(rowNumber + " " + args.Direction()).
		Suffix("LIMIT ?", args.Limit()))
	if err != nil {
		return selects.Cursor{}, fmt.Errorf("build limited query: %w", err)
	}
	ordered, err := sqlfrag.FromSqlizer(sq.Select("*").From("limited_query").OrderBy(rowNumber + " asc"))
	if err != nil {
		return selects.Cursor{}, fmt.Errorf("build ordered query: %w", err)
	}

	encodedCursor := `encode(cast(cast("` + CursorColumn + `" as text) as bytea), 'base64')`
	node := `cast(to_json(q) as jsonb) - '` + CursorColumn + `' - '` + RowNumberColumn + `'`

	frag := sqlfrag.SQL(`with query as (?), limited_query as (?), ordered_query as (?), edges as (`+
		`select json_build_object('id', ?, 'cursor', ?, 'node', ?) from ordered_query q`+
		`), connection as (`+
		`select json_build_object(`+
		`'edges', coalesce((select json_agg(e.json_build_object) from edges e), cast('[]' as json)), `+
		`'pageInfo', json_build_object(`+
		`'hasPreviousPage', coalesce((select count(1) > cast(? as integer) from query), false), `+
		`'hasNextPage', coalesce((select count(1) > cast(? as integer) from query), false)`+
		`)) ) select json_build_object from connection`,
		build(before, after),
		limited,
		ordered,
		sqlfrag.Raw(encodedCursor),
		sqlfrag.Raw(encodedCursor),
		sqlfrag.Raw(node),
		optionalInt(args.Last),
		optionalInt(args.First),
	)
	return selects.Cursor{SQL: frag}, nil
}

func optionalInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intArg(args map[string]any, name string) (*int, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%s must be an integer, got %v", name, v)
		}
		n = int(v)
	default:
		return nil, fmt.Errorf("%s must be an integer, got %T", name, raw)
	}
	return &n, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string cursor, got %T", name, raw)
	}
	return s, nil
}
