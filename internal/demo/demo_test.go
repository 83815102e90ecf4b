package demo

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzimmek/graphql-pg/internal/cursor"
	"github.com/jzimmek/graphql-pg/internal/engine"
	"github.com/jzimmek/graphql-pg/internal/naming"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	schema, err := NewSchema()
	require.NoError(t, err)
	eng, err := engine.New(engine.Options{Schema: schema, Selects: Selects(naming.Default())})
	require.NoError(t, err)
	return eng
}

func TestSchema_Compiles(t *testing.T) {
	eng := newEngine(t)

	tests := []struct {
		name     string
		query    string
		vars     map[string]any
		contains []string
		params   []any
	}{
		{
			name:     "viewer with nested relations",
			query:    `{ viewer(name: "jan") { id camelCase profile { url } awards { name } } }`,
			contains: []string{`select * from viewers where name = $1`, `"viewer"."camel_case"`, `select * from profiles where viewer_id = "viewer"."id"`, `select * from "awards" where "viewer_id" = "viewer"."id"`},
			params:   []any{"jan"},
		},
		{
			name:     "interface list",
			query:    `{ viewer(name: "jan") { languages { name ... on LanguageA { languageAField } } } }`,
			contains: []string{`kind = 'a'`, `kind = 'b'`, "union all"},
			params:   []any{"jan"},
		},
		{
			name:     "ordered union",
			query:    `{ feedDesc { ... on Person { id name } ... on Event { id location } } }`,
			contains: []string{`select * from people`, `select * from events`, `order by cast(to_json ->> 'id' as integer) desc`},
		},
		{
			name:     "union ordered by numeric id",
			query:    `{ viewer(name: "jan") { languagesUnion { ... on LanguageB { languageBField } } } }`,
			contains: []string{`order by cast(to_json ->> 'id' as integer) asc`},
			params:   []any{"jan"},
		},
		{
			name:     "latest feed item",
			query:    `{ latestFeedItem { __typename ... on Event { location } } }`,
			contains: []string{`order by cast(to_json ->> 'id' as integer) desc limit 1`},
		},
		{
			name:     "people connection",
			query:    `query ($after: String) { people(first: 2, after: $after) { edges { cursor node { name } } pageInfo { hasNextPage } } }`,
			vars:     map[string]any{"after": cursor.EncodeKeys([]any{3})},
			contains: []string{`from people where true and id > cast($1 as integer)`, `with query as (`},
			params:   []any{int64(3), 2, nil, 2},
		},
		{
			name:     "date argument",
			query:    `{ eventsSince(date: "2024-05-01T08:00:00Z") { location startsOn } }`,
			contains: []string{`where starts_on >= cast($1 as date)`},
			params:   []any{"2024-05-01"},
		},
		{
			name:     "mutation",
			query:    `mutation { renamePerson(id: "1", name: "ann") { id name } }`,
			contains: []string{`select * from rename_person(cast($1 as integer), $2)`},
			params:   []any{"1", "ann"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := eng.Compile(context.Background(), engine.Request{Query: tt.query, Variables: tt.vars})
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, compiled.Query.SQL, s)
			}
			if tt.params != nil {
				assert.Equal(t, tt.params, compiled.Query.Params)
			}
		})
	}
}

func TestSelects_ViewerFallsBackToRequestValue(t *testing.T) {
	eng := newEngine(t)

	req := httptest.NewRequest("GET", "/graphql", nil)
	req.Header.Set(ViewerHeader, "kim")

	compiled, err := eng.Compile(context.Background(), engine.Request{
		Query:  `{ viewer { name } }`,
		Values: Values(req),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"kim"}, compiled.Query.Params)
}

func TestValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/graphql", nil)
	assert.Empty(t, Values(req))

	req.Header.Set(ViewerHeader, "jan")
	assert.Equal(t, map[string]any{"viewer": "jan"}, Values(req))
}

func TestSeed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	total := len(dropStatements) + 1 + len(schemaStatements) + len(dataStatements) + 2
	for i := 0; i < total; i++ {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Seed(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_StopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("drop function if exists rename_person").WillReturnError(errors.New("permission denied"))

	err = Seed(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed demo schema")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchema_RejectsNegativePageSize(t *testing.T) {
	eng := newEngine(t)
	errs := eng.Validate(`{ people(first: -1) { edges { cursor } } }`)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "first")
}
