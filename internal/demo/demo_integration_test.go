//go:build integration

package demo

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzimmek/graphql-pg/internal/dbexec"
	"github.com/jzimmek/graphql-pg/internal/engine"
	"github.com/jzimmek/graphql-pg/internal/naming"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("GQLPG_TEST_DSN")
	if dsn == "" {
		t.Skip("GQLPG_TEST_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if err := db.PingContext(context.Background()); err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	require.NoError(t, Seed(context.Background(), db))
	return db
}

func newDBEngine(t *testing.T, db *sql.DB, dbMerge bool) *engine.Engine {
	t.Helper()
	schema, err := NewSchema()
	require.NoError(t, err)
	eng, err := engine.New(engine.Options{
		Schema:   schema,
		Selects:  Selects(naming.Default()),
		Executor: dbexec.NewStandardExecutor(db),
		DBMerge:  dbMerge,
	})
	require.NoError(t, err)
	return eng
}

func run(t *testing.T, eng *engine.Engine, query string, vars map[string]any) map[string]any {
	t.Helper()
	res := eng.Do(context.Background(), engine.Request{Query: query, Variables: vars})
	require.Empty(t, res.Errors)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	return data
}

const feedSelection = `{
	... on Person { id __typename name }
	... on Event { id __typename location }
}`

func TestIntegration_Feed(t *testing.T) {
	eng := newDBEngine(t, openTestDB(t), false)

	data := run(t, eng, `{ feed `+feedSelection+` }`, nil)
	feed := data["feed"].([]any)
	require.Len(t, feed, 6)
	assert.Contains(t, feed, map[string]any{"id": "1", "__typename": "Person", "name": "name1"})
	assert.Contains(t, feed, map[string]any{"id": "2", "__typename": "Event", "location": "location1"})

	data = run(t, eng, `{ latestFeedItem `+feedSelection+` }`, nil)
	assert.Equal(t, map[string]any{"id": "6", "__typename": "Person", "name": "name5"}, data["latestFeedItem"])

	data = run(t, eng, `{ feedDesc { ... on Event { id } } }`, nil)
	desc := data["feedDesc"].([]any)
	require.Len(t, desc, 6)
	assert.Equal(t, map[string]any{"id": "2"}, desc[4])
}

func TestIntegration_FragmentSpreads(t *testing.T) {
	eng := newDBEngine(t, openTestDB(t), false)

	data := run(t, eng, `
		{ latestFeedItem { ...WithPerson ...WithEvent } }
		fragment WithPerson on Person { id __typename ...WithName }
		fragment WithName on Person { name }
		fragment WithEvent on Event { id __typename location }
	`, nil)
	assert.Equal(t, map[string]any{"id": "6", "__typename": "Person", "name": "name5"}, data["latestFeedItem"])
}

func TestIntegration_Viewer(t *testing.T) {
	eng := newDBEngine(t, openTestDB(t), false)

	data := run(t, eng, `{
		viewer(name: "jan") {
			name
			camelCase
			settings
			profile { url }
			awards { name }
			languages { name ... on LanguageA { languageAField } ... on LanguageB { languageBField } }
			favoriteLanguage { name }
		}
	}`, nil)

	viewer := data["viewer"].(map[string]any)
	assert.Equal(t, "jan", viewer["name"])
	assert.Equal(t, "camel", viewer["camelCase"])
	assert.Equal(t, map[string]any{"theme": "dark"}, viewer["settings"])
	assert.Equal(t, map[string]any{"url": "https://example.com/jan"}, viewer["profile"])
	assert.ElementsMatch(t, []any{map[string]any{"name": "gold"}, map[string]any{"name": "silver"}}, viewer["awards"])
	assert.ElementsMatch(t, []any{
		map[string]any{"name": "go", "languageAField": "gc"},
		map[string]any{"name": "c", "languageAField": "cc"},
		map[string]any{"name": "sql", "languageBField": "plpgsql"},
	}, viewer["languages"])
	assert.Equal(t, map[string]any{"name": "go"}, viewer["favoriteLanguage"])

	data = run(t, eng, `{ viewer(name: "nobody") { name awards { name } } }`, nil)
	assert.Nil(t, data["viewer"])

	data = run(t, eng, `{ viewer(name: "kim") { profile { url } awards { name } } }`, nil)
	assert.Equal(t, map[string]any{"profile": nil, "awards": []any{map[string]any{"name": "bronze"}}}, data["viewer"])
}

func TestIntegration_PeopleConnection(t *testing.T) {
	eng := newDBEngine(t, openTestDB(t), false)

	query := `query ($after: String) {
		people(first: 2, after: $after) {
			edges { cursor node { name } }
			pageInfo { hasNextPage hasPreviousPage }
		}
	}`

	var names []any
	var after any
	for page := 0; page < 5; page++ {
		data := run(t, eng, query, map[string]any{"after": after})
		conn := data["people"].(map[string]any)
		edges := conn["edges"].([]any)
		for _, e := range edges {
			edge := e.(map[string]any)
			names = append(names, edge["node"].(map[string]any)["name"])
			after = edge["cursor"]
		}
		if !conn["pageInfo"].(map[string]any)["hasNextPage"].(bool) {
			break
		}
	}
	assert.Equal(t, []any{"name1", "name2", "name3", "name4", "name5"}, names)

	data := run(t, eng, `{ people(last: 2) { edges { node { name } } } }`, nil)
	assert.Equal(t, []any{
		map[string]any{"node": map[string]any{"name": "name4"}},
		map[string]any{"node": map[string]any{"name": "name5"}},
	}, data["people"].(map[string]any)["edges"])
}

func TestIntegration_Mutation(t *testing.T) {
	eng := newDBEngine(t, openTestDB(t), false)

	data := run(t, eng, `mutation { renamed: renamePerson(id: "1", name: "ann") { id name } }`, nil)
	assert.Equal(t, map[string]any{"id": "1", "name": "ann"}, data["renamed"])

	data = run(t, eng, `{ latestFeedItem { ... on Person { name } } }`, nil)
	assert.Equal(t, map[string]any{"name": "name5"}, data["latestFeedItem"])
}

func TestIntegration_DBMergeMatchesReshape(t *testing.T) {
	db := openTestDB(t)
	query := `{
		viewer(name: "jan") {
			... on Viewer { name awards { id } }
			... on Viewer { camelCase awards { id name } }
		}
	}`

	local := run(t, newDBEngine(t, db, false), query, nil)
	merged := run(t, newDBEngine(t, db, true), query, nil)
	assert.Equal(t, local, merged)

	viewer := merged["viewer"].(map[string]any)
	assert.Equal(t, "jan", viewer["name"])
	assert.Equal(t, "camel", viewer["camelCase"])
	assert.Len(t, viewer["awards"], 2)
}

func TestIntegration_EventsSince(t *testing.T) {
	eng := newDBEngine(t, openTestDB(t), false)

	data := run(t, eng, `{ eventsSince(date: "2024-04-30") { location startsOn createdAt } }`, nil)
	events := data["eventsSince"].([]any)
	require.Len(t, events, 1)
	event := events[0].(map[string]any)
	assert.Equal(t, "location1", event["location"])
	assert.Equal(t, "2024-05-01", event["startsOn"])
	assert.NotEmpty(t, event["createdAt"])

	data = run(t, eng, `{ eventsSince(date: "2024-05-02") { location } }`, nil)
	assert.Empty(t, data["eventsSince"])
}
