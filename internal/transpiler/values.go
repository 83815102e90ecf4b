package transpiler

import (
	"fmt"
	"maps"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// coerceVariables applies declared types and defaults to the raw request
// variables. Undeclared variables are dropped.
func coerceVariables(schema *graphql.Schema, defs []*ast.VariableDefinition, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(defs))
	for _, def := range defs {
		name := def.Variable.Name.Value
		t, err := typeFromAST(schema, def.Type)
		if err != nil {
			return nil, &Error{Kind: ErrInvalidArgument, Type: "$" + name, Detail: err.Error()}
		}

		value, provided := raw[name]
		switch {
		case provided:
			coerced, err := coerceValue(value, t)
			if err != nil {
				return nil, &Error{Kind: ErrInvalidArgument, Type: "$" + name, Detail: err.Error()}
			}
			out[name] = coerced
		case def.DefaultValue != nil:
			coerced, err := valueFromAST(def.DefaultValue, t, nil)
			if err != nil {
				return nil, &Error{Kind: ErrInvalidArgument, Type: "$" + name, Detail: err.Error()}
			}
			out[name] = coerced
		default:
			if _, ok := t.(*graphql.NonNull); ok {
				return nil, newError(ErrInvalidArgument, "$"+name, "", "required variable of type %s was not provided", t)
			}
		}
	}
	return out, nil
}

// fieldArgs builds the argument map handed to a select function: the
// operation variables overlaid with the field's own arguments.
func (c *Context) fieldArgs(typeName string, def *graphql.FieldDefinition, field *ast.Field) (map[string]any, error) {
	args := maps.Clone(c.variables)
	if args == nil {
		args = map[string]any{}
	}

	given := make(map[string]*ast.Argument, len(field.Arguments))
	for _, arg := range field.Arguments {
		given[arg.Name.Value] = arg
	}

	for _, argDef := range def.Args {
		name := argDef.Name()
		astArg, ok := given[name]
		delete(given, name)
		if !ok {
			if argDef.DefaultValue != nil {
				args[name] = argDef.DefaultValue
			}
			continue
		}
		if v, isVar := astArg.Value.(*ast.Variable); isVar {
			if _, set := c.variables[v.Name.Value]; !set {
				if argDef.DefaultValue != nil {
					args[name] = argDef.DefaultValue
				}
				continue
			}
		}
		value, err := valueFromAST(astArg.Value, argDef.Type, c.variables)
		if err != nil {
			return nil, newError(ErrInvalidArgument, typeName, field.Name.Value, "argument %q: %v", name, err)
		}
		args[name] = value
	}

	for _, arg := range field.Arguments {
		if _, unknown := given[arg.Name.Value]; unknown {
			return nil, newError(ErrSchemaMismatch, typeName, field.Name.Value, "unknown argument %q", arg.Name.Value)
		}
	}
	return args, nil
}

func typeFromAST(schema *graphql.Schema, t ast.Type) (graphql.Input, error) {
	switch typ := t.(type) {
	case *ast.Named:
		switch named := schema.Type(typ.Name.Value).(type) {
		case *graphql.Scalar:
			return named, nil
		case *graphql.Enum:
			return named, nil
		case *graphql.InputObject:
			return named, nil
		case nil:
			return nil, fmt.Errorf("unknown type %q", typ.Name.Value)
		default:
			return nil, fmt.Errorf("%s is not an input type", typ.Name.Value)
		}
	case *ast.List:
		inner, err := typeFromAST(schema, typ.Type)
		if err != nil {
			return nil, err
		}
		return graphql.NewList(inner), nil
	case *ast.NonNull:
		inner, err := typeFromAST(schema, typ.Type)
		if err != nil {
			return nil, err
		}
		return graphql.NewNonNull(inner), nil
	default:
		return nil, fmt.Errorf("unsupported type node %T", t)
	}
}

// coerceValue converts a decoded JSON value to the Go value of an input type.
func coerceValue(value any, t graphql.Input) (any, error) {
	if nn, ok := t.(*graphql.NonNull); ok {
		if value == nil {
			return nil, fmt.Errorf("expected non-null %s", nn.OfType)
		}
		return coerceValue(value, nn.OfType.(graphql.Input))
	}
	if value == nil {
		return nil, nil
	}

	switch typ := t.(type) {
	case *graphql.List:
		itemType := typ.OfType.(graphql.Input)
		items, ok := value.([]any)
		if !ok {
			item, err := coerceValue(value, itemType)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			coerced, err := coerceValue(item, itemType)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil
	case *graphql.InputObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object for %s, got %T", typ.Name(), value)
		}
		fields := typ.Fields()
		out := make(map[string]any, len(fields))
		for name, field := range fields {
			raw, present := obj[name]
			if !present {
				if field.DefaultValue != nil {
					out[name] = field.DefaultValue
				} else if _, required := field.Type.(*graphql.NonNull); required {
					return nil, fmt.Errorf("field %s.%s is required", typ.Name(), name)
				}
				continue
			}
			coerced, err := coerceValue(raw, field.Type)
			if err != nil {
				return nil, err
			}
			out[name] = coerced
		}
		for name := range obj {
			if _, known := fields[name]; !known {
				return nil, fmt.Errorf("unknown field %s.%s", typ.Name(), name)
			}
		}
		return out, nil
	case *graphql.Scalar:
		parsed := typ.ParseValue(value)
		if parsed == nil {
			return nil, fmt.Errorf("invalid %s value %v", typ.Name(), value)
		}
		return parsed, nil
	case *graphql.Enum:
		parsed := typ.ParseValue(value)
		if parsed == nil {
			return nil, fmt.Errorf("invalid %s value %v", typ.Name(), value)
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported input type %s", t)
	}
}

// valueFromAST converts a literal argument value. Variables resolve against
// the already coerced operation variables.
func valueFromAST(value ast.Value, t graphql.Input, vars map[string]any) (any, error) {
	if v, ok := value.(*ast.Variable); ok {
		return vars[v.Name.Value], nil
	}
	if nn, ok := t.(*graphql.NonNull); ok {
		out, err := valueFromAST(value, nn.OfType.(graphql.Input), vars)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, fmt.Errorf("expected non-null %s", nn.OfType)
		}
		return out, nil
	}

	switch typ := t.(type) {
	case *graphql.List:
		itemType := typ.OfType.(graphql.Input)
		list, ok := value.(*ast.ListValue)
		if !ok {
			item, err := valueFromAST(value, itemType, vars)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(list.Values))
		for i, item := range list.Values {
			coerced, err := valueFromAST(item, itemType, vars)
			if err != nil {
				return nil, err
			}
			out[i] = coerced
		}
		return out, nil
	case *graphql.InputObject:
		obj, ok := value.(*ast.ObjectValue)
		if !ok {
			return nil, fmt.Errorf("expected object for %s", typ.Name())
		}
		fields := typ.Fields()
		given := make(map[string]ast.Value, len(obj.Fields))
		for _, f := range obj.Fields {
			if _, known := fields[f.Name.Value]; !known {
				return nil, fmt.Errorf("unknown field %s.%s", typ.Name(), f.Name.Value)
			}
			given[f.Name.Value] = f.Value
		}
		out := make(map[string]any, len(fields))
		for name, field := range fields {
			v, present := given[name]
			if !present {
				if field.DefaultValue != nil {
					out[name] = field.DefaultValue
				}
				continue
			}
			coerced, err := valueFromAST(v, field.Type, vars)
			if err != nil {
				return nil, err
			}
			out[name] = coerced
		}
		return out, nil
	case *graphql.Scalar:
		parsed := typ.ParseLiteral(value)
		if parsed == nil {
			return nil, fmt.Errorf("invalid %s literal", typ.Name())
		}
		return parsed, nil
	case *graphql.Enum:
		parsed := typ.ParseLiteral(value)
		if parsed == nil {
			return nil, fmt.Errorf("invalid %s literal", typ.Name())
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported input type %s", t)
	}
}
