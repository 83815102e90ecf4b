package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/handler"

	"github.com/jzimmek/graphql-pg/internal/engine"
	"github.com/jzimmek/graphql-pg/internal/logging"
	"github.com/jzimmek/graphql-pg/internal/observability"
)

const (
	// SQLHeader carries the compiled statement.
	SQLHeader = "X-Sql"
	// SQLParamsHeader carries the statement parameters as a JSON array.
	SQLParamsHeader = "X-Sql-Params"
)

// Runner is the part of engine.Engine the middleware drives.
type Runner interface {
	Validate(query string) []gqlerrors.FormattedError
	Compile(ctx context.Context, req engine.Request) (*engine.Compiled, error)
	Execute(ctx context.Context, compiled *engine.Compiled) (any, error)
}

// SQLHeadersConfig configures SQLHeadersMiddleware.
type SQLHeadersConfig struct {
	// ExposeSQL sets SQLHeader and SQLParamsHeader on GraphQL responses.
	ExposeSQL bool
	// Values returns the caller context values for a request. Optional.
	Values  func(*http.Request) map[string]any
	Metrics *observability.CompilerMetrics
}

type rootObjectKey struct{}

// WithRootObject stores the root object the GraphQL handler starts from.
func WithRootObject(ctx context.Context, root map[string]any) context.Context {
	return context.WithValue(ctx, rootObjectKey{}, root)
}

// RootObjectFromContext returns the root object stored by
// SQLHeadersMiddleware, or an empty object. Its signature matches
// handler.RootObjectFn once wrapped.
func RootObjectFromContext(ctx context.Context) map[string]any {
	if root, ok := ctx.Value(rootObjectKey{}).(map[string]any); ok {
		return root
	}
	return map[string]any{}
}

// SQLHeadersMiddleware compiles the GraphQL request into one statement,
// executes it and hands the result to the next handler as its root object.
// Requests the GraphQL handler must answer itself (GraphiQL page loads,
// documents that do not validate) pass through untouched.
func SQLHeadersMiddleware(runner Runner, cfg SQLHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readBody(r)
			if err != nil {
				writeErrors(w, http.StatusBadRequest, err)
				return
			}
			restoreBody(r, body)
			opts := handler.NewRequestOptions(r)
			restoreBody(r, body)
			if opts == nil || strings.TrimSpace(opts.Query) == "" {
				next.ServeHTTP(w, r)
				return
			}
			if errs := runner.Validate(opts.Query); len(errs) > 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			logger := logging.FromContext(ctx)
			req := engine.Request{
				Query:         opts.Query,
				OperationName: opts.OperationName,
				Variables:     opts.Variables,
			}
			if cfg.Values != nil {
				req.Values = cfg.Values(r)
			}

			compiled, err := runner.Compile(ctx, req)
			if err != nil {
				cfg.Metrics.RecordRequest(ctx, "unknown", engine.ErrorKind(err))
				logger.Warn("graphql compile failed", slog.String("error", err.Error()))
				writeErrors(w, http.StatusOK, err)
				return
			}
			if compiled.IsMutation() && r.Method == http.MethodGet {
				cfg.Metrics.RecordRequest(ctx, compiled.OperationType, "method_not_allowed")
				writeErrors(w, http.StatusMethodNotAllowed, errors.New("mutations require POST"))
				return
			}
			if cfg.ExposeSQL {
				setSQLHeaders(w.Header(), compiled)
			}

			value, err := runner.Execute(ctx, compiled)
			cfg.Metrics.RecordRequest(ctx, compiled.OperationType, engine.ErrorKind(err))
			if err != nil {
				logger.Error("graphql execution failed",
					slog.String("operation_type", compiled.OperationType),
					slog.String("error", err.Error()),
				)
				writeErrors(w, http.StatusOK, err)
				return
			}

			ctx = WithRootObject(ctx, engine.RootObject(compiled, value))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// restoreBody rewinds r so the next reader sees the original body again.
func restoreBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
}

func setSQLHeaders(h http.Header, compiled *engine.Compiled) {
	if compiled.Empty() {
		return
	}
	h.Set(SQLHeader, compiled.Query.SQL)
	params := compiled.Query.Params
	if params == nil {
		params = []any{}
	}
	if encoded, err := json.Marshal(params); err == nil {
		h.Set(SQLParamsHeader, string(encoded))
	}
}

func writeErrors(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   nil,
		"errors": gqlerrors.FormatErrors(err),
	})
}
