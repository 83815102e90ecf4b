// Package selects defines the resolver table consulted by the transpiler: per
// (type, field) functions that return the SQL backing that field.
package selects

import (
	"fmt"
	"strings"

	"github.com/jzimmek/graphql-pg/internal/naming"
	"github.com/jzimmek/graphql-pg/internal/sqlfrag"
	"github.com/jzimmek/graphql-pg/internal/sqlutil"
)

// Context is handed to every select function.
type Context struct {
	// Table is the quoted alias of the enclosing relation, e.g. `"viewer"`.
	Table string
	// Values carries caller supplied request values (user id, tenant, ...).
	Values map[string]any
}

// Value returns a caller supplied value or nil.
func (c Context) Value(key string) any {
	if c.Values == nil {
		return nil
	}
	return c.Values[key]
}

// Column returns the quoted reference to a column of the enclosing relation.
func (c Context) Column(column string) sqlfrag.RawSQL {
	return sqlfrag.Raw(c.Table + "." + sqlutil.QuoteIdentifier(column))
}

// Result is the SQL a select function produces. It is one of Relation, Union
// or Cursor.
type Result interface {
	isResult()
}

// Relation is a base relation (sub-query) for composite fields, or a SQL
// expression for leaf fields.
type Relation struct {
	SQL sqlfrag.Fragment
}

// TypeRelation is one branch of a Union.
type TypeRelation struct {
	Type string
	SQL  sqlfrag.Fragment
}

// Union backs interface and union typed fields. Branches are compiled in
// PerType order. OrderAndLimit, when set, receives the compiled branches and
// returns the list that gets joined with "union all".
type Union struct {
	PerType       []TypeRelation
	OrderAndLimit func(branches []sqlfrag.Fragment) []sqlfrag.Fragment
}

// TypeTag is the key under which every union branch row carries its concrete
// GraphQL type name.
const TypeTag = "type"

// Cursor is a complete connection query built by the cursor package.
type Cursor struct {
	SQL sqlfrag.Fragment
}

func (Relation) isResult() {}
func (Union) isResult()    {}
func (Cursor) isResult()   {}

// Func produces the SQL for one field.
type Func func(args map[string]any, ctx Context) (Result, error)

// Table maps type name -> field name -> select function. A field mapped to a
// nil Func is disabled: leaf fields with a nil entry are never projected.
type Table map[string]map[string]Func

// Lookup returns the select function for a field and whether an entry exists.
func (t Table) Lookup(typeName, fieldName string) (Func, bool) {
	fields, ok := t[typeName]
	if !ok {
		return nil, false
	}
	fn, ok := fields[fieldName]
	return fn, ok
}

// Disabled reports whether the field is explicitly switched off.
func (t Table) Disabled(typeName, fieldName string) bool {
	fn, ok := t.Lookup(typeName, fieldName)
	return ok && fn == nil
}

// Rel is shorthand for a Relation built with sqlfrag.SQL.
func Rel(format string, args ...any) Relation {
	return Relation{SQL: sqlfrag.SQL(format, args...)}
}

// Static returns a select function that always yields the same relation.
func Static(format string, args ...any) Func {
	rel := Rel(format, args...)
	return func(map[string]any, Context) (Result, error) {
		return rel, nil
	}
}

// Expr returns a leaf select function projecting an expression over the
// enclosing relation. Every "%s" in format is replaced by the quoted table alias.
func Expr(format string) Func {
	return func(_ map[string]any, ctx Context) (Result, error) {
		return Relation{SQL: sqlfrag.Text(strings.ReplaceAll(format, "%s", ctx.Table))}, nil
	}
}

// HasMany returns a select function for a list of rows of childType whose
// foreignKey references the enclosing relation's id.
func HasMany(namer *naming.Namer, childType, foreignKey string) Func {
	table := sqlutil.QuoteIdentifier(namer.TableName(childType))
	fk := sqlutil.QuoteIdentifier(foreignKey)
	return func(_ map[string]any, ctx Context) (Result, error) {
		return Rel("select * from ? where ? = ?", sqlfrag.Raw(table), sqlfrag.Raw(fk), ctx.Column("id")), nil
	}
}

// BelongsTo returns a select function for the parentType row referenced by
// the enclosing relation's foreignKey column.
func BelongsTo(namer *naming.Namer, parentType, foreignKey string) Func {
	table := sqlutil.QuoteIdentifier(namer.TableName(parentType))
	return func(_ map[string]any, ctx Context) (Result, error) {
		return Rel("select * from ? where id = ?", sqlfrag.Raw(table), ctx.Column(foreignKey)), nil
	}
}

// OrderedUnion returns an OrderAndLimit function that applies a global order
// and optional limit across all union branches. orderBy is raw SQL over the
// tagged branch column to_json, e.g. `cast(to_json ->> 'id' as integer) desc`.
func OrderedUnion(orderBy string, limit int) func([]sqlfrag.Fragment) []sqlfrag.Fragment {
	return func(branches []sqlfrag.Fragment) []sqlfrag.Fragment {
		if len(branches) == 0 {
			return branches
		}
		inner := sqlfrag.Join(" union all ", branches...)
		wrapped := sqlfrag.SQL("select * from (?) x order by ?", inner, sqlfrag.Raw(orderBy))
		if limit > 0 {
			wrapped = sqlfrag.Append(wrapped, sqlfrag.Text(fmt.Sprintf(" limit %d", limit)))
		}
		return []sqlfrag.Fragment{wrapped}
	}
}
