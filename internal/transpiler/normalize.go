package transpiler

import (
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

const (
	typenameField = "__typename"
	schemaField   = "__schema"
	idField       = "id"
)

// normalize prepares one selection set for compilation: a trailing synthetic
// id, no __schema, only fragments applying to obj, no disabled leaf fields.
func (c *Context) normalize(obj *graphql.Object, set *ast.SelectionSet, withID bool) ([]ast.Selection, error) {
	if set == nil {
		return nil, nil
	}
	selections := set.Selections
	if withID && c.needsSyntheticID(obj, selections) {
		selections = append(selections[:len(selections):len(selections)], syntheticID())
	}

	out := make([]ast.Selection, 0, len(selections))
	for _, sel := range selections {
		keep, err := c.keep(obj, sel)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, sel)
		}
	}
	return out, nil
}

func (c *Context) needsSyntheticID(obj *graphql.Object, selections []ast.Selection) bool {
	if len(selections) == 0 || c.isRoot(obj.Name()) || strings.HasSuffix(obj.Name(), "Connection") {
		return false
	}
	if _, ok := obj.Fields()[idField]; !ok {
		return false
	}
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && responseKey(f) == idField {
			return false
		}
	}
	return true
}

func syntheticID() *ast.Field {
	return ast.NewField(&ast.Field{
		Name: ast.NewName(&ast.Name{Value: idField}),
	})
}

func (c *Context) keep(obj *graphql.Object, sel ast.Selection) (bool, error) {
	switch s := sel.(type) {
	case *ast.Field:
		name := s.Name.Value
		if name == schemaField {
			return false, nil
		}
		if name == typenameField {
			return true, nil
		}
		def, ok := obj.Fields()[name]
		if !ok {
			// unknown fields fail with a schema mismatch when projected
			return true, nil
		}
		if graphql.IsLeafType(def.Type) {
			return !c.selects.Disabled(obj.Name(), name), nil
		}
		return true, nil
	case *ast.InlineFragment:
		if s.TypeCondition == nil {
			return true, nil
		}
		return c.applies(obj, s.TypeCondition.Name.Value)
	case *ast.FragmentSpread:
		def, err := c.fragment(obj.Name(), s.Name.Value)
		if err != nil {
			return false, err
		}
		return c.applies(obj, def.TypeCondition.Name.Value)
	default:
		return false, nil
	}
}

func (c *Context) applies(obj *graphql.Object, condition string) (bool, error) {
	t := c.schema.Type(condition)
	if t == nil {
		return false, newError(ErrSchemaMismatch, obj.Name(), "", "unknown type condition %q", condition)
	}
	return c.possible(t, obj), nil
}

func (c *Context) fragment(typeName, name string) (*ast.FragmentDefinition, error) {
	def, ok := c.fragments[name]
	if !ok {
		return nil, newError(ErrSchemaMismatch, typeName, "", "unknown fragment %q", name)
	}
	return def, nil
}
