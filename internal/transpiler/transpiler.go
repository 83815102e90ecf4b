// Package transpiler compiles a GraphQL selection set into one PostgreSQL
// query whose single row holds the whole response as JSON.
//
// Nested object and list fields become lateral joins aggregated with to_json
// or json_agg, interface and union fields become tagged "union all"
// branches, and connection fields embed a query built by the cursor package.
package transpiler

import (
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/jzimmek/graphql-pg/internal/naming"
	"github.com/jzimmek/graphql-pg/internal/reshape"
	"github.com/jzimmek/graphql-pg/internal/selects"
	"github.com/jzimmek/graphql-pg/internal/sqlfrag"
	"github.com/jzimmek/graphql-pg/internal/sqlutil"
)

// noFragment marks a projection made directly in its selection set.
const noFragment = -1

// Compile transpiles the context's operation against its root type.
func Compile(c *Context) (sqlfrag.Fragment, error) {
	return Transpile(c, c.RootTypeName(), c.Operation().SelectionSet, nil, "")
}

// Transpile compiles the selection set on typeName. When source is given the
// projections read from it under the alias table. It returns nil when no
// selection survives normalization.
func Transpile(c *Context, typeName string, set *ast.SelectionSet, source sqlfrag.Fragment, table string) (sqlfrag.Fragment, error) {
	obj, err := c.object(typeName)
	if err != nil {
		return nil, err
	}
	selections, err := c.normalize(obj, set, true)
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return nil, nil
	}

	s := &scope{c: c, obj: obj, table: table, root: c.isRoot(typeName)}
	for idx, sel := range selections {
		switch sel := sel.(type) {
		case *ast.Field:
			err = s.field(sel, noFragment)
		case *ast.InlineFragment:
			err = s.fragment(sel.SelectionSet, idx)
		case *ast.FragmentSpread:
			var def *ast.FragmentDefinition
			if def, err = c.fragment(typeName, sel.Name.Value); err == nil {
				err = s.fragment(def.SelectionSet, idx)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if len(s.columns) == 0 {
		return nil, nil
	}

	out := sqlfrag.SQL("select ?", sqlfrag.Join(", ", s.columns...))
	if source != nil {
		out = sqlfrag.Append(out, sqlfrag.SQL(" from (?) as ?", source, rawIdent(table)))
	}
	for _, join := range s.joins {
		out = sqlfrag.Append(out, sqlfrag.Text(" "), join)
	}
	return out, nil
}

// scope accumulates the projection list and lateral joins of one selection set.
type scope struct {
	c       *Context
	obj     *graphql.Object
	table   string
	root    bool
	columns []sqlfrag.Fragment
	joins   []sqlfrag.Fragment
}

// fragment splices a fragment's selections into the projection list. All of
// them carry the disambiguation suffix of the fragment's position idx.
func (s *scope) fragment(set *ast.SelectionSet, idx int) error {
	selections, err := s.c.normalize(s.obj, set, false)
	if err != nil {
		return err
	}
	for _, sel := range selections {
		switch sel := sel.(type) {
		case *ast.Field:
			err = s.field(sel, idx)
		case *ast.InlineFragment:
			err = s.fragment(sel.SelectionSet, idx)
		case *ast.FragmentSpread:
			var def *ast.FragmentDefinition
			if def, err = s.c.fragment(s.obj.Name(), sel.Name.Value); err == nil {
				err = s.fragment(def.SelectionSet, idx)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scope) field(f *ast.Field, fragmentIdx int) error {
	key := responseKey(f)
	if fragmentIdx != noFragment {
		key = reshape.SuffixedKey(key, fragmentIdx)
	}

	name := f.Name.Value
	if name == typenameField {
		s.columns = append(s.columns, sqlfrag.SQL("? as ?", sqlfrag.Raw(sqlutil.QuoteString(s.obj.Name())), rawIdent(key)))
		return nil
	}

	def, ok := s.obj.Fields()[name]
	if !ok {
		return newError(ErrSchemaMismatch, s.obj.Name(), name, "field not found")
	}

	if graphql.IsLeafType(def.Type) {
		if s.root {
			return &Error{Kind: ErrScalarNotAllowedAtRoot, Type: s.obj.Name(), Field: name}
		}
		return s.scalar(def, f, key)
	}
	if graphql.IsCompositeType(graphql.GetNamed(def.Type)) {
		return s.composite(def, f, key)
	}
	return newError(ErrUnsupportedFieldShape, s.obj.Name(), name, "type %s is neither leaf nor composite", def.Type)
}

func (s *scope) scalar(def *graphql.FieldDefinition, f *ast.Field, key string) error {
	fn, ok := s.c.selects.Lookup(s.obj.Name(), def.Name)
	if !ok || fn == nil {
		column := sqlutil.QuoteQualified(s.table, naming.ColumnName(def.Name))
		s.columns = append(s.columns, sqlfrag.SQL("? as ?", sqlfrag.Raw(column), rawIdent(key)))
		return nil
	}

	res, err := s.call(fn, def, f)
	if err != nil {
		return err
	}
	rel, ok := res.(selects.Relation)
	if !ok {
		return newError(ErrUnsupportedFieldShape, s.obj.Name(), def.Name, "leaf field select returned %T, want selects.Relation", res)
	}
	s.columns = append(s.columns, sqlfrag.SQL("? as ?", rel.SQL, rawIdent(key)))
	return nil
}

func (s *scope) composite(def *graphql.FieldDefinition, f *ast.Field, key string) error {
	fn, ok := s.c.selects.Lookup(s.obj.Name(), def.Name)
	if !ok || fn == nil {
		return &Error{Kind: ErrMissingRelation, Type: s.obj.Name(), Field: def.Name}
	}
	res, err := s.call(fn, def, f)
	if err != nil {
		return err
	}

	switch r := res.(type) {
	case selects.Relation:
		return s.relation(def, f, key, r)
	case selects.Cursor:
		return s.cursor(def, key, r)
	case selects.Union:
		return s.union(def, f, key, r)
	case nil:
		return newError(ErrMissingRelation, s.obj.Name(), def.Name, "select returned no result")
	default:
		return newError(ErrUnsupportedFieldShape, s.obj.Name(), def.Name, "unknown select result %T", res)
	}
}

func (s *scope) call(fn selects.Func, def *graphql.FieldDefinition, f *ast.Field) (selects.Result, error) {
	args, err := s.c.fieldArgs(s.obj.Name(), def, f)
	if err != nil {
		return nil, err
	}
	res, err := fn(args, s.c.selectContext(s.table))
	if err != nil {
		return nil, fmt.Errorf("select %s.%s: %w", s.obj.Name(), def.Name, err)
	}
	return res, nil
}

func (s *scope) relation(def *graphql.FieldDefinition, f *ast.Field, key string, r selects.Relation) error {
	list, err := s.shape(def)
	if err != nil {
		return err
	}
	target, ok := graphql.GetNamed(def.Type).(*graphql.Object)
	if !ok {
		return newError(ErrUnsupportedFieldShape, s.obj.Name(), def.Name, "abstract type %s needs a selects.Union", graphql.GetNamed(def.Type))
	}

	inner, err := Transpile(s.c, target.Name(), f.SelectionSet, r.SQL, key)
	if err != nil {
		return err
	}
	if inner == nil {
		inner = sqlfrag.SQL("select from (?) as ?", r.SQL, rawIdent(key))
	}

	alias := rawIdent(key)
	switch {
	case s.root && list:
		s.columns = append(s.columns, sqlfrag.SQL("coalesce((select json_agg(y) from (?) as y), '[]') as ?", inner, alias))
	case s.root:
		s.columns = append(s.columns, sqlfrag.SQL("(select to_json(y) from (?) as y) as ?", inner, alias))
	case list:
		s.joins = append(s.joins, sqlfrag.SQL("left join lateral (select json_agg(x) from (?) as x) as ? on true", inner, alias))
		s.columns = append(s.columns, sqlfrag.SQL("coalesce(?.json_agg, '[]') as ?", alias, alias))
	default:
		s.joins = append(s.joins, sqlfrag.SQL("left join lateral (select to_json(x) from (?) as x) as ? on true", inner, alias))
		s.columns = append(s.columns, sqlfrag.SQL("?.to_json as ?", alias, alias))
	}
	return nil
}

func (s *scope) cursor(def *graphql.FieldDefinition, key string, r selects.Cursor) error {
	list, err := s.shape(def)
	if err != nil {
		return err
	}
	if list {
		return newError(ErrUnsupportedFieldShape, s.obj.Name(), def.Name, "connection fields must be object typed")
	}
	s.columns = append(s.columns, sqlfrag.SQL("(select x.* from (?) x) as ?", r.SQL, rawIdent(key)))
	return nil
}

func (s *scope) union(def *graphql.FieldDefinition, f *ast.Field, key string, r selects.Union) error {
	list, err := s.shape(def)
	if err != nil {
		return err
	}

	branches := make([]sqlfrag.Fragment, 0, len(r.PerType))
	for _, branch := range r.PerType {
		inner, err := Transpile(s.c, branch.Type, f.SelectionSet, branch.SQL, key)
		if err != nil {
			return err
		}
		if inner == nil {
			inner = sqlfrag.SQL("select from (?) as ?", branch.SQL, rawIdent(key))
		}
		tag := sqlutil.QuoteString(fmt.Sprintf(`{%q:%q}`, selects.TypeTag, branch.Type))
		branches = append(branches, sqlfrag.SQL(
			"(select (cast(? as jsonb) || cast(to_json(x.*) as jsonb)) as to_json from (?) as x)",
			sqlfrag.Raw(tag), inner,
		))
	}
	if r.OrderAndLimit != nil {
		branches = r.OrderAndLimit(branches)
	}

	alias := rawIdent(key)
	switch {
	case len(branches) == 0 && list:
		s.columns = append(s.columns, sqlfrag.SQL("cast('[]' as json) as ?", alias))
	case len(branches) == 0:
		s.columns = append(s.columns, sqlfrag.SQL("cast(null as json) as ?", alias))
	case list:
		body := sqlfrag.Join(" union all ", branches...)
		s.columns = append(s.columns, sqlfrag.SQL("coalesce((select json_agg(y.to_json) from (?) as y), '[]') as ?", body, alias))
	default:
		body := sqlfrag.Join(" union all ", branches...)
		s.columns = append(s.columns, sqlfrag.SQL("(select to_json(y.to_json) from (?) as y limit 1) as ?", body, alias))
	}
	return nil
}

// shape reports whether the field is list typed. Anything other than a list
// or an object cannot be wrapped as JSON.
func (s *scope) shape(def *graphql.FieldDefinition) (bool, error) {
	switch t := graphql.GetNullable(def.Type).(type) {
	case *graphql.List:
		return true, nil
	case *graphql.Object, *graphql.Interface, *graphql.Union:
		return false, nil
	default:
		return false, newError(ErrUnsupportedFieldShape, s.obj.Name(), def.Name, "cannot wrap %v as JSON", t)
	}
}

func quote(name string) string {
	return sqlutil.QuoteIdentifier(name)
}

func rawIdent(name string) sqlfrag.RawSQL {
	return sqlfrag.Raw(quote(name))
}
