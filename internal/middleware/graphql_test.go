package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzimmek/graphql-pg/internal/dbexec"
	"github.com/jzimmek/graphql-pg/internal/engine"
	"github.com/jzimmek/graphql-pg/internal/selects"
)

func newTestEngine(t *testing.T) (*engine.Engine, sqlmock.Sqlmock) {
	t.Helper()

	viewer := graphql.NewObject(graphql.ObjectConfig{
		Name: "Viewer",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.ID},
			"name": &graphql.Field{Type: graphql.String},
		},
	})
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"viewer": &graphql.Field{
				Type: viewer,
				Args: graphql.FieldConfigArgument{"name": &graphql.ArgumentConfig{Type: graphql.String}},
			},
		},
	})
	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"rename": &graphql.Field{
				Type: viewer,
				Args: graphql.FieldConfigArgument{"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}},
			},
		},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
	require.NoError(t, err)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	eng, err := engine.New(engine.Options{
		Schema: &schema,
		Selects: selects.Table{
			"Query": {
				"viewer": func(args map[string]any, ctx selects.Context) (selects.Result, error) {
					return selects.Rel("select * from viewers where name = ? and tenant = ?", args["name"], ctx.Value("tenant")), nil
				},
			},
			"Mutation": {
				"rename": func(args map[string]any, _ selects.Context) (selects.Result, error) {
					return selects.Rel("select * from rename_viewer(?)", args["name"]), nil
				},
			},
		},
		Executor: dbexec.NewStandardExecutor(db),
	})
	require.NoError(t, err)
	return eng, mock
}

func newTestServer(eng *engine.Engine, cfg SQLHeadersConfig) http.Handler {
	gql := handler.New(&handler.Config{
		Schema: eng.Schema(),
		RootObjectFn: func(ctx context.Context, _ *http.Request) map[string]interface{} {
			return RootObjectFromContext(ctx)
		},
	})
	return SQLHeadersMiddleware(eng, cfg)(gql)
}

func postJSON(t *testing.T, h http.Handler, query string, variables map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type gqlResponse struct {
	Data   map[string]any   `json:"data"`
	Errors []map[string]any `json:"errors"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) gqlResponse {
	t.Helper()
	var resp gqlResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestSQLHeadersMiddleware_Query(t *testing.T) {
	eng, mock := newTestEngine(t)
	h := newTestServer(eng, SQLHeadersConfig{
		ExposeSQL: true,
		Values:    func(*http.Request) map[string]any { return map[string]any{"tenant": "acme"} },
	})

	mock.ExpectQuery(regexp.QuoteMeta(`where name = $1 and tenant = $2`)).
		WithArgs("joe", "acme").
		WillReturnRows(sqlmock.NewRows([]string{"to_json"}).AddRow(`{"me":{"id":"1","name":"joe"}}`))

	rr := postJSON(t, h, `query ($n: String) { me: viewer(name: $n) { id name } }`, map[string]any{"n": "joe"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, mock.ExpectationsWereMet())

	resp := decode(t, rr)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{"me": map[string]any{"id": "1", "name": "joe"}}, resp.Data)

	assert.True(t, strings.HasPrefix(rr.Header().Get(SQLHeader), "select to_json(t) as to_json from ("))
	assert.JSONEq(t, `["joe","acme"]`, rr.Header().Get(SQLParamsHeader))
}

func TestSQLHeadersMiddleware_ExecutesPostedDocumentAndKeepsBody(t *testing.T) {
	eng, mock := newTestEngine(t)

	mock.ExpectQuery(regexp.QuoteMeta(`where name = $1`)).
		WithArgs("joe", nil).
		WillReturnRows(sqlmock.NewRows([]string{"to_json"}).AddRow(`{"me":{"id":"1","name":"joe"}}`))

	var seen []byte
	var root map[string]any
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		seen, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		root = RootObjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := SQLHeadersMiddleware(eng, SQLHeadersConfig{ExposeSQL: true})(next)

	rr := postJSON(t, h, `{ me: viewer(name: "joe") { id name } }`, nil)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Contains(t, rr.Header().Get(SQLHeader), "where name = $1")
	assert.Contains(t, string(seen), `viewer(name: \"joe\")`)
	assert.Equal(t, map[string]any{"me": map[string]any{"id": "1", "name": "joe"}}, root)
}

func TestSQLHeadersMiddleware_HeadersDisabled(t *testing.T) {
	eng, mock := newTestEngine(t)
	h := newTestServer(eng, SQLHeadersConfig{})

	mock.ExpectQuery("select to_json").
		WillReturnRows(sqlmock.NewRows([]string{"to_json"}).AddRow(`{"viewer":{"id":"1"}}`))

	rr := postJSON(t, h, `{ viewer { id } }`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, rr.Header().Get(SQLHeader))
	assert.Empty(t, rr.Header().Get(SQLParamsHeader))
}

func TestSQLHeadersMiddleware_Mutation(t *testing.T) {
	eng, mock := newTestEngine(t)
	h := newTestServer(eng, SQLHeadersConfig{ExposeSQL: true})

	mock.ExpectQuery(regexp.QuoteMeta(`rename_viewer($1)`)).
		WithArgs("ann").
		WillReturnRows(sqlmock.NewRows([]string{"to_json"}).AddRow(`{"rename":{"name":"ann"}}`))

	rr := postJSON(t, h, `mutation { rename(name: "ann") { name } }`, nil)
	resp := decode(t, rr)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{"rename": map[string]any{"name": "ann"}}, resp.Data)
}

func TestSQLHeadersMiddleware_MutationOverGET(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := newTestServer(eng, SQLHeadersConfig{})

	q := url.Values{"query": {`mutation { rename(name: "ann") { name } }`}}
	req := httptest.NewRequest(http.MethodGet, "/graphql?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	resp := decode(t, rr)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "mutations require POST", resp.Errors[0]["message"])
}

func TestSQLHeadersMiddleware_InvalidDocumentPassesThrough(t *testing.T) {
	eng, mock := newTestEngine(t)
	h := newTestServer(eng, SQLHeadersConfig{ExposeSQL: true})

	rr := postJSON(t, h, `{ viewer { shoeSize } }`, nil)
	require.NoError(t, mock.ExpectationsWereMet())

	resp := decode(t, rr)
	require.NotEmpty(t, resp.Errors)
	assert.Contains(t, resp.Errors[0]["message"], "shoeSize")
	assert.Empty(t, rr.Header().Get(SQLHeader))
}

func TestSQLHeadersMiddleware_DatabaseError(t *testing.T) {
	eng, mock := newTestEngine(t)
	h := newTestServer(eng, SQLHeadersConfig{ExposeSQL: true})

	mock.ExpectQuery("select to_json").WillReturnError(errors.New("connection refused"))

	rr := postJSON(t, h, `{ viewer { id } }`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(SQLHeader))

	resp := decode(t, rr)
	assert.Nil(t, resp.Data)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0]["message"], "connection refused")
}

func TestSQLHeadersMiddleware_IntrospectionSkipsDatabase(t *testing.T) {
	eng, mock := newTestEngine(t)
	h := newTestServer(eng, SQLHeadersConfig{ExposeSQL: true})

	rr := postJSON(t, h, `{ __schema { queryType { name } } }`, nil)
	require.NoError(t, mock.ExpectationsWereMet())

	resp := decode(t, rr)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{
		"__schema": map[string]any{"queryType": map[string]any{"name": "Query"}},
	}, resp.Data)
	assert.Empty(t, rr.Header().Get(SQLHeader))
}

func TestSQLHeadersMiddleware_PassesThrough(t *testing.T) {
	eng, _ := newTestEngine(t)

	var called int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		assert.Empty(t, RootObjectFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	h := SQLHeadersMiddleware(eng, SQLHeadersConfig{})(next)

	page := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	page.Header.Set("Accept", "text/html")
	h.ServeHTTP(httptest.NewRecorder(), page)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodOptions, "/graphql", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/graphql", nil))

	assert.Equal(t, 3, called)
}
