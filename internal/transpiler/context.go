package transpiler

import (
	"errors"
	"fmt"
	"maps"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/jzimmek/graphql-pg/internal/selects"
)

// Options configures a compilation.
type Options struct {
	Schema  *graphql.Schema
	Selects selects.Table
	// OperationName picks the operation when the document holds several.
	OperationName string
	// Variables are the raw request variables, usually decoded JSON.
	Variables map[string]any
	// Values are caller context values handed to every select function.
	Values map[string]any
}

// Context is everything a compilation needs. It is built once per document
// and only read afterwards, so one Context can be shared by recursive calls.
type Context struct {
	schema     *graphql.Schema
	selects    selects.Table
	operation  *ast.OperationDefinition
	fragments  map[string]*ast.FragmentDefinition
	variables  map[string]any
	values     map[string]any
	rootTypes  map[string]bool
	rootTypeOf map[string]string
}

// NewContext resolves the operation to compile and coerces its variables.
func NewContext(doc *ast.Document, opts Options) (*Context, error) {
	if opts.Schema == nil {
		return nil, errors.New("transpiler: schema is required")
	}
	if doc == nil {
		return nil, errors.New("transpiler: document is required")
	}

	c := &Context{
		schema:     opts.Schema,
		selects:    opts.Selects,
		fragments:  make(map[string]*ast.FragmentDefinition),
		values:     maps.Clone(opts.Values),
		rootTypes:  make(map[string]bool),
		rootTypeOf: make(map[string]string),
	}
	if c.selects == nil {
		c.selects = selects.Table{}
	}
	if c.values == nil {
		c.values = map[string]any{}
	}

	var operations []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			operations = append(operations, d)
		case *ast.FragmentDefinition:
			c.fragments[d.Name.Value] = d
		}
	}
	op, err := pickOperation(operations, opts.OperationName)
	if err != nil {
		return nil, err
	}
	c.operation = op

	for opType, obj := range map[string]*graphql.Object{
		ast.OperationTypeQuery:        opts.Schema.QueryType(),
		ast.OperationTypeMutation:     opts.Schema.MutationType(),
		ast.OperationTypeSubscription: opts.Schema.SubscriptionType(),
	} {
		if obj != nil {
			c.rootTypes[obj.Name()] = true
			c.rootTypeOf[opType] = obj.Name()
		}
	}
	if _, ok := c.rootTypeOf[op.Operation]; !ok {
		return nil, &Error{Kind: ErrSchemaMismatch, Type: op.Operation, Field: operationName(op), Detail: "schema has no root type for operation"}
	}

	c.variables, err = coerceVariables(opts.Schema, op.VariableDefinitions, opts.Variables)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func pickOperation(operations []*ast.OperationDefinition, name string) (*ast.OperationDefinition, error) {
	if len(operations) == 0 {
		return nil, errors.New("transpiler: document contains no operation")
	}
	if name == "" {
		if len(operations) > 1 {
			return nil, errors.New("transpiler: operation name required when document has several operations")
		}
		return operations[0], nil
	}
	for _, op := range operations {
		if op.Name != nil && op.Name.Value == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("transpiler: unknown operation %q", name)
}

func operationName(op *ast.OperationDefinition) string {
	if op.Name == nil {
		return ""
	}
	return op.Name.Value
}

// Operation returns the operation being compiled.
func (c *Context) Operation() *ast.OperationDefinition {
	return c.operation
}

// IsMutation reports whether the compiled operation is a mutation.
func (c *Context) IsMutation() bool {
	return c.operation.Operation == ast.OperationTypeMutation
}

// RootTypeName returns the schema type backing the operation.
func (c *Context) RootTypeName() string {
	return c.rootTypeOf[c.operation.Operation]
}

// Variables returns the coerced operation variables.
func (c *Context) Variables() map[string]any {
	return c.variables
}

// FirstResponseKey returns the response key of the operation's first root
// field, the key a mutation result is unwrapped by.
func (c *Context) FirstResponseKey() string {
	for _, sel := range c.operation.SelectionSet.Selections {
		if f, ok := sel.(*ast.Field); ok {
			return responseKey(f)
		}
	}
	return ""
}

func (c *Context) isRoot(typeName string) bool {
	return c.rootTypes[typeName]
}

func (c *Context) object(typeName string) (*graphql.Object, error) {
	t := c.schema.Type(typeName)
	if t == nil {
		return nil, &Error{Kind: ErrSchemaMismatch, Type: typeName, Detail: "type not found"}
	}
	obj, ok := t.(*graphql.Object)
	if !ok {
		return nil, newError(ErrUnsupportedFieldShape, typeName, "", "%T is not an object type", t)
	}
	return obj, nil
}

// possible reports whether obj satisfies a fragment type condition.
// Schema.IsPossibleType fills a cache on first use; PossibleTypes only reads.
func (c *Context) possible(condition graphql.Type, obj *graphql.Object) bool {
	switch cond := condition.(type) {
	case *graphql.Object:
		return cond.Name() == obj.Name()
	case *graphql.Interface, *graphql.Union:
		for _, candidate := range c.schema.PossibleTypes(cond.(graphql.Abstract)) {
			if candidate.Name() == obj.Name() {
				return true
			}
		}
	}
	return false
}

func (c *Context) selectContext(table string) selects.Context {
	ctx := selects.Context{Values: c.values}
	if table != "" {
		ctx.Table = quote(table)
	}
	return ctx
}

func responseKey(f *ast.Field) string {
	if f.Alias != nil && f.Alias.Value != "" {
		return f.Alias.Value
	}
	return f.Name.Value
}
