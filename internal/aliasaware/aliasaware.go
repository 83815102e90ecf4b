// Package aliasaware adapts a graphql-go schema so it can execute over a
// value that is already keyed by response key (alias or field name), which is
// what the compiled SQL returns.
package aliasaware

import (
	"strings"

	"github.com/graphql-go/graphql"

	"github.com/jzimmek/graphql-pg/internal/selects"
)

// ResponseKey returns the key the current field occupies in the response: its
// alias when present, otherwise its name.
func ResponseKey(info graphql.ResolveInfo) string {
	if len(info.FieldASTs) > 0 {
		f := info.FieldASTs[0]
		if f.Alias != nil && f.Alias.Value != "" {
			return f.Alias.Value
		}
		if f.Name != nil {
			return f.Name.Value
		}
	}
	return info.FieldName
}

// Wrap returns a resolver that reads the field from a map source by response
// key. Sources that are not maps, or maps without the key, fall through to fn
// (or graphql.DefaultResolveFn when fn is nil).
func Wrap(fn graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		if src, ok := p.Source.(map[string]any); ok {
			if v, ok := src[ResponseKey(p.Info)]; ok {
				return v, nil
			}
		}
		if fn != nil {
			return fn(p)
		}
		return graphql.DefaultResolveFn(p)
	}
}

// Install wraps the resolver of every field on every object and interface of
// the schema, and gives abstract types without a ResolveType one that reads the
// type tag. Introspection types are left alone.
func Install(schema *graphql.Schema) {
	resolveType := ResolveByTag(schema)
	for name, t := range schema.TypeMap() {
		if strings.HasPrefix(name, "__") {
			continue
		}
		var fields graphql.FieldDefinitionMap
		switch t := t.(type) {
		case *graphql.Object:
			fields = t.Fields()
		case *graphql.Interface:
			if t.ResolveType == nil {
				t.ResolveType = resolveType
			}
			fields = t.Fields()
		case *graphql.Union:
			if t.ResolveType == nil {
				t.ResolveType = resolveType
			}
			continue
		default:
			continue
		}
		for _, def := range fields {
			def.Resolve = Wrap(def.Resolve)
		}
	}
}

// ResolveByTag resolves the concrete object type of a union or interface
// value from the type tag the compiled SQL adds to every branch row.
func ResolveByTag(schema *graphql.Schema) graphql.ResolveTypeFn {
	return func(p graphql.ResolveTypeParams) *graphql.Object {
		row, ok := p.Value.(map[string]any)
		if !ok {
			return nil
		}
		name, _ := row[selects.TypeTag].(string)
		obj, _ := schema.Type(name).(*graphql.Object)
		return obj
	}
}

// TaggedAs is an IsTypeOf function for object types that appear in unions:
// rows carrying a type tag must name this type, untagged rows always match.
func TaggedAs(typeName string) graphql.IsTypeOfFn {
	return func(p graphql.IsTypeOfParams) bool {
		row, ok := p.Value.(map[string]any)
		if !ok {
			return false
		}
		tag, ok := row[selects.TypeTag]
		return !ok || tag == typeName
	}
}
