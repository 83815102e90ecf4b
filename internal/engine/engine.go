// Package engine runs the one-query pipeline: parse a GraphQL document,
// compile it into a single PostgreSQL statement, execute it once and reshape
// the returned JSON value into the response tree.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jzimmek/graphql-pg/internal/aliasaware"
	"github.com/jzimmek/graphql-pg/internal/cursor"
	"github.com/jzimmek/graphql-pg/internal/dbexec"
	"github.com/jzimmek/graphql-pg/internal/logging"
	"github.com/jzimmek/graphql-pg/internal/observability"
	"github.com/jzimmek/graphql-pg/internal/reshape"
	"github.com/jzimmek/graphql-pg/internal/selects"
	"github.com/jzimmek/graphql-pg/internal/sqlfrag"
	"github.com/jzimmek/graphql-pg/internal/transpiler"
)

// MergeFunction is the database function used when merging happens in
// PostgreSQL instead of in Go.
const MergeFunction = "graphql_pg_merge"

var (
	// ErrParse wraps GraphQL syntax errors.
	ErrParse = errors.New("graphql parse error")
	// ErrExecute wraps every failure reported by the database. The driver
	// error is kept in the chain unchanged.
	ErrExecute = errors.New("execute compiled query")
)

// LogHook receives every statement right before it is executed.
type LogHook func(sql string, params []any)

// Options configures an Engine.
type Options struct {
	Schema   *graphql.Schema
	Selects  selects.Table
	Executor dbexec.QueryExecutor
	Logger   *logging.Logger
	Metrics  *observability.CompilerMetrics
	// DBMerge collapses disambiguated keys with MergeFunction in the
	// database and skips the reshape step.
	DBMerge bool
	LogHook LogHook
}

// Engine is safe for concurrent use once constructed.
type Engine struct {
	schema   *graphql.Schema
	selects  selects.Table
	executor dbexec.QueryExecutor
	logger   *logging.Logger
	metrics  *observability.CompilerMetrics
	dbMerge  bool
	logHook  LogHook
}

// New builds an engine. It installs alias-aware resolvers on the schema, so
// the schema must not be shared with code that expects the original resolvers.
func New(opts Options) (*Engine, error) {
	if opts.Schema == nil {
		return nil, errors.New("engine: schema is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	aliasaware.Install(opts.Schema)

	return &Engine{
		schema:   opts.Schema,
		selects:  opts.Selects,
		executor: opts.Executor,
		logger:   logger,
		metrics:  opts.Metrics,
		dbMerge:  opts.DBMerge,
		logHook:  opts.LogHook,
	}, nil
}

// Schema returns the alias-aware schema.
func (e *Engine) Schema() *graphql.Schema {
	return e.schema
}

// Metrics returns the metrics the engine records to, possibly nil.
func (e *Engine) Metrics() *observability.CompilerMetrics {
	return e.metrics
}

// Request is one GraphQL document to run.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	// Values are caller context values handed to every select function.
	Values map[string]any
}

// Compiled is the statement produced for a request.
type Compiled struct {
	// Query uses PostgreSQL placeholders ($1, $2, ...). It is empty when the
	// document selects nothing backed by SQL, e.g. only introspection.
	Query         sqlfrag.Query
	OperationType string
	// ResultKey is the response key of the first root field; mutation results
	// are unwrapped by it.
	ResultKey string
}

// Empty reports whether there is nothing to execute.
func (c *Compiled) Empty() bool {
	return c.Query.SQL == ""
}

// IsMutation reports whether the compiled operation is a mutation.
func (c *Compiled) IsMutation() bool {
	return c.OperationType == ast.OperationTypeMutation
}

// Compile parses and compiles req without touching the database.
func (e *Engine) Compile(ctx context.Context, req Request) (*Compiled, error) {
	doc, err := parse(req.Query)
	if err != nil {
		return nil, err
	}
	return e.compileDocument(ctx, doc, req)
}

func parse(query string) (*ast.Document, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return doc, nil
}

func (e *Engine) compileDocument(ctx context.Context, doc *ast.Document, req Request) (_ *Compiled, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanCompile)
	defer func() { observability.EndSpan(span, err) }()

	tc, err := transpiler.NewContext(doc, transpiler.Options{
		Schema:        e.schema,
		Selects:       e.selects,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Values:        req.Values,
	})
	if err != nil {
		return nil, err
	}
	compiled := &Compiled{
		OperationType: tc.Operation().Operation,
		ResultKey:     tc.FirstResponseKey(),
	}
	span.SetAttributes(attribute.String("graphql.operation.type", compiled.OperationType))

	frag, err := transpiler.Compile(tc)
	if err != nil {
		return nil, err
	}
	if frag == nil {
		e.metrics.RecordCompile(ctx, time.Since(start), compiled.OperationType, 0)
		return compiled, nil
	}

	wrapper := "select to_json(t) as to_json from (?) t"
	if e.dbMerge {
		wrapper = "select " + MergeFunction + "(cast(to_json(t) as jsonb)) as to_json from (?) t"
	}
	compiled.Query, err = sqlfrag.Linearize(sqlfrag.SQL(wrapper, frag)).WithPlaceholders(sq.Dollar)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.params", len(compiled.Query.Params)))
	e.metrics.RecordCompile(ctx, time.Since(start), compiled.OperationType, len(compiled.Query.Params))
	return compiled, nil
}

// Execute runs a compiled statement and returns the response value: the
// root object for queries, the unwrapped first root field for mutations.
func (e *Engine) Execute(ctx context.Context, compiled *Compiled) (any, error) {
	if compiled.Empty() {
		return map[string]any{}, nil
	}
	if e.executor == nil {
		return nil, fmt.Errorf("%w: no executor configured", ErrExecute)
	}

	logger := logging.FromContextOr(ctx, e.logger)
	logger.Debug("executing compiled query",
		slog.String("sql", compiled.Query.SQL),
		slog.Any("params", compiled.Query.Params),
	)
	if e.logHook != nil {
		e.logHook(compiled.Query.SQL, compiled.Query.Params)
	}

	value, err := e.execute(ctx, compiled)
	if err != nil {
		return nil, err
	}

	if compiled.IsMutation() {
		value = reshape.Unwrap(value, compiled.ResultKey)
	}
	if e.dbMerge {
		return value, nil
	}

	_, span := observability.StartSpan(ctx, observability.SpanReshape)
	for _, c := range reshape.Conflicts(value) {
		logger.Debug("conflicting fragment values",
			slog.String("path", c.Path),
			slog.String("key", c.Key),
			slog.Any("values", c.Values),
		)
	}
	value = reshape.Reshape(value)
	observability.EndSpan(span, nil)
	return value, nil
}

func (e *Engine) execute(ctx context.Context, compiled *Compiled) (_ any, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanExecute,
		attribute.String("db.system", "postgresql"),
		attribute.String("graphql.operation.type", compiled.OperationType),
	)
	defer func() {
		observability.EndSpan(span, err)
		e.metrics.RecordExecute(ctx, time.Since(start), compiled.OperationType, err != nil)
	}()

	value, err := dbexec.QueryJSON(ctx, e.executor, compiled.Query.SQL, compiled.Query.Params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecute, err)
	}
	return value, nil
}

// Resolve compiles and executes req.
func (e *Engine) Resolve(ctx context.Context, req Request) (any, error) {
	compiled, err := e.Compile(ctx, req)
	if err != nil {
		e.metrics.RecordRequest(ctx, "unknown", ErrorKind(err))
		return nil, err
	}
	value, err := e.Execute(ctx, compiled)
	e.metrics.RecordRequest(ctx, compiled.OperationType, ErrorKind(err))
	return value, err
}

// RootObject turns a value returned by Execute into the root object graphql
// execution starts from.
func RootObject(compiled *Compiled, value any) map[string]any {
	if compiled.IsMutation() {
		return map[string]any{compiled.ResultKey: value}
	}
	root, _ := value.(map[string]any)
	if root == nil {
		root = map[string]any{}
	}
	return root
}

// Validate parses query and validates it against the schema. It returns nil
// when the document can be compiled.
func (e *Engine) Validate(query string) []gqlerrors.FormattedError {
	doc, err := parse(query)
	if err != nil {
		return gqlerrors.FormatErrors(err)
	}
	if vr := graphql.ValidateDocument(e.schema, doc, nil); !vr.IsValid {
		return vr.Errors
	}
	return nil
}

// Do runs the full pipeline and projects the result through the schema, which
// applies field resolution, type resolution and serialization.
func (e *Engine) Do(ctx context.Context, req Request) *graphql.Result {
	doc, err := parse(req.Query)
	if err != nil {
		e.metrics.RecordRequest(ctx, "unknown", ErrorKind(err))
		return &graphql.Result{Errors: gqlerrors.FormatErrors(err)}
	}
	if vr := graphql.ValidateDocument(e.schema, doc, nil); !vr.IsValid {
		e.metrics.RecordRequest(ctx, "unknown", "validation")
		return &graphql.Result{Errors: vr.Errors}
	}

	compiled, err := e.compileDocument(ctx, doc, req)
	if err != nil {
		e.metrics.RecordRequest(ctx, "unknown", ErrorKind(err))
		return &graphql.Result{Errors: gqlerrors.FormatErrors(err)}
	}
	value, err := e.Execute(ctx, compiled)
	e.metrics.RecordRequest(ctx, compiled.OperationType, ErrorKind(err))
	if err != nil {
		return &graphql.Result{Errors: gqlerrors.FormatErrors(err)}
	}

	return graphql.Execute(graphql.ExecuteParams{
		Schema:        *e.schema,
		Root:          RootObject(compiled, value),
		AST:           doc,
		OperationName: req.OperationName,
		Args:          req.Variables,
		Context:       ctx,
	})
}

// ErrorKind classifies err for metrics. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExecute):
		return "execute"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, transpiler.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, transpiler.ErrMissingRelation):
		return "missing_relation"
	case errors.Is(err, transpiler.ErrUnsupportedFieldShape):
		return "unsupported_field_shape"
	case errors.Is(err, transpiler.ErrScalarNotAllowedAtRoot):
		return "scalar_at_root"
	case errors.Is(err, transpiler.ErrInvalidArgument),
		errors.Is(err, cursor.ErrFirstAndLast),
		errors.Is(err, cursor.ErrNegativeLimit):
		return "invalid_argument"
	case errors.Is(err, cursor.ErrInvalidCursor):
		return "invalid_cursor"
	default:
		return "compile"
	}
}
