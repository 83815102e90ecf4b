package transpiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/graphql-go/graphql/language/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzimmek/graphql-pg/internal/cursor"
)

func TestCompile_ViewerProfile(t *testing.T) {
	q, err := compileQuery(t, `{ viewer(name: "joe") { id profile { url } } }`, nil)
	require.NoError(t, err)

	expected := `select (select to_json(y) from (` +
		`select "viewer"."id" as "id", "profile".to_json as "profile" ` +
		`from (select * from organisations where id = ?) as "viewer" ` +
		`left join lateral (select to_json(x) from (` +
		`select "profile"."url" as "url" from (select * from profile where viewer_id = "viewer"."id") as "profile"` +
		`) as x) as "profile" on true` +
		`) as y) as "viewer"`
	assert.Equal(t, expected, q.SQL)
	assert.Equal(t, []any{"joe"}, q.Params)
}

func TestCompile_ColumnOrderFollowsSelection(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { name camelCase id } }`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `select "viewer"."name" as "name", "viewer".camel_case as "camelCase", "viewer"."id" as "id" from`)
	assert.Equal(t, []any{nil}, q.Params)
}

func TestCompile_SyntheticIDAppended(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { name } }`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `select "viewer"."name" as "name", "viewer"."id" as "id" from`)
}

func TestCompile_SyntheticIDSkippedWhenKeyTaken(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { id: name } }`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `select "viewer"."name" as "id" from`)
	assert.Equal(t, 1, strings.Count(q.SQL, `as "id"`), q.SQL)
}

func TestCompile_AliasFidelity(t *testing.T) {
	q, err := compileQuery(t, `{ boss: viewer(name: "joe") { ident: id page: profile { link: url } } }`, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(q.SQL, `) as y) as "boss"`), q.SQL)
	assert.Contains(t, q.SQL, `"boss"."id" as "ident"`)
	assert.Contains(t, q.SQL, `"page".to_json as "page"`)
	assert.Contains(t, q.SQL, `"page"."url" as "link"`)
	assert.Contains(t, q.SQL, `as "boss" left join lateral`)
	// aliased id still needs the identity column
	assert.Contains(t, q.SQL, `"boss"."id" as "id"`)
}

func TestCompile_ListFieldUsesLateralAggregate(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { awards { name } } }`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `coalesce("awards".json_agg, '[]') as "awards"`)
	assert.Contains(t, q.SQL, `left join lateral (select json_agg(x) from (select "awards"."name" as "name", "awards"."id" as "id" from (select * from awards where viewer_id = "viewer"."id") as "awards") as x) as "awards" on true`)
}

func TestCompile_RootListDefaultsArgument(t *testing.T) {
	q, err := compileQuery(t, `{ viewers { id } }`, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(q.SQL, `select coalesce((select json_agg(y) from (select "viewers"."id" as "id" from (select * from organisations limit ?) as "viewers") as y), '[]') as "viewers"`), q.SQL)
	assert.Equal(t, []any{5}, q.Params)
}

func TestCompile_DisabledScalarDropped(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { name secret } }`, nil)
	require.NoError(t, err)

	assert.NotContains(t, q.SQL, "secret")
}

func TestCompile_Variables(t *testing.T) {
	q, err := compileQuery(t, `query ($who: ID = "fallback") { viewer(name: $who) { id } }`, map[string]any{"who": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, []any{"42"}, q.Params)

	q, err = compileQuery(t, `query ($who: ID = "fallback") { viewer(name: $who) { id } }`, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"fallback"}, q.Params)
}

func TestCompile_FragmentsAreSuffixed(t *testing.T) {
	q, err := compileQuery(t, `
		{ viewer { ...Names ... on Viewer { name __typename } profile { url } } }
		fragment Names on Viewer { name camelCase }
	`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `select "viewer"."name" as "name§0", "viewer".camel_case as "camelCase§0", "viewer"."name" as "name§1", 'Viewer' as "__typename§1", "profile".to_json as "profile", "viewer"."id" as "id" from`)
}

func TestCompile_FragmentTypeConditionFiltering(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { id ... on Profile { url } ... on Viewer { name } } }`, nil)
	require.NoError(t, err)

	assert.NotContains(t, q.SQL, "url")
	// positions count after filtering
	assert.Contains(t, q.SQL, `"viewer"."name" as "name§1"`)
}

func TestCompile_InterfaceUnion(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { languages { name ... on LanguageA { languageAField } } } }`, nil)
	require.NoError(t, err)

	branchA := `(select (cast('{"type":"LanguageA"}' as jsonb) || cast(to_json(x.*) as jsonb)) as to_json from (` +
		`select "languages"."name" as "name", "languages"."language_a_field" as "languageAField§1", "languages"."id" as "id" ` +
		`from (select * from languages_a) as "languages") as x)`
	branchB := `(select (cast('{"type":"LanguageB"}' as jsonb) || cast(to_json(x.*) as jsonb)) as to_json from (` +
		`select "languages"."name" as "name", "languages"."id" as "id" ` +
		`from (select * from languages_b) as "languages") as x)`

	assert.Contains(t, q.SQL, `coalesce((select json_agg(y.to_json) from (`+branchA+` union all `+branchB+`) as y), '[]') as "languages"`)
}

func TestCompile_UnionTypenameIsConcrete(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { languagesUnion { __typename ... on LanguageB { languageBField } } } }`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `'LanguageA' as "__typename"`)
	assert.Contains(t, q.SQL, `'LanguageB' as "__typename"`)
	assert.Contains(t, q.SQL, `"languagesUnion"."language_b_field" as "languageBField§1"`)
	assert.Contains(t, q.SQL, `select * from ((select`)
	assert.Contains(t, q.SQL, `) x order by to_json ->> 'id' desc) as y), '[]') as "languagesUnion"`)
}

func TestCompile_SingleValuedUnion(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { latestLanguage { ... on LanguageA { name } } } }`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `order by to_json ->> 'id' desc limit 1) as y limit 1) as "latestLanguage"`)
	assert.Contains(t, q.SQL, `(select to_json(y.to_json) from (select * from (`)
}

func TestCompile_CursorField(t *testing.T) {
	q, err := compileQuery(t, `{ viewer { awardConnection(first: 2, after: "WzFd") { edges { cursor } } } }`, nil)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, `(select x.* from (with query as (select *, json_build_array(id) as "$cursor", id as "$row_number" from awards where viewer_id = "viewer"."id")`)
	assert.Contains(t, q.SQL, `select json_build_object from connection) x) as "awardConnection"`)
	// limit, last, first from the projection, then the viewer name from the source
	assert.Equal(t, []any{2, nil, 2, nil}, q.Params)
}

func TestCompile_Mutation(t *testing.T) {
	doc, err := parser.Parse(parser.ParseParams{Source: `mutation { renamed: renameViewer(name: "1", to: "jane") { name } }`})
	require.NoError(t, err)

	c, err := NewContext(doc, Options{Schema: newTestSchema(t), Selects: newTestSelects()})
	require.NoError(t, err)
	assert.True(t, c.IsMutation())
	assert.Equal(t, "Mutation", c.RootTypeName())
	assert.Equal(t, "renamed", c.FirstResponseKey())

	frag, err := Compile(c)
	require.NoError(t, err)
	assert.NotNil(t, frag)
}

func TestCompile_OnlyMetaSelectionsYieldNothing(t *testing.T) {
	doc, err := parser.Parse(parser.ParseParams{Source: `{ __schema { queryType { name } } }`})
	require.NoError(t, err)

	c, err := NewContext(doc, Options{Schema: newTestSchema(t), Selects: newTestSelects()})
	require.NoError(t, err)

	frag, err := Compile(c)
	require.NoError(t, err)
	assert.Nil(t, frag)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		vars  map[string]any
		kind  error
		field string
	}{
		{"unknown field", `{ viewer { nope } }`, nil, ErrSchemaMismatch, "nope"},
		{"unknown fragment", `{ viewer { ...Missing } }`, nil, ErrSchemaMismatch, ""},
		{"missing relation", `{ viewer { unwired { url } } }`, nil, ErrMissingRelation, "unwired"},
		{"scalar at root", `{ version }`, nil, ErrScalarNotAllowedAtRoot, "version"},
		{"relation for interface", `{ viewer { favoriteLanguage { name } } }`, nil, ErrUnsupportedFieldShape, "favoriteLanguage"},
		{"unknown argument", `{ viewer(nick: "x") { id } }`, nil, ErrSchemaMismatch, "viewer"},
		{"missing required variable", `query ($n: ID!) { viewer(name: $n) { id } }`, nil, ErrInvalidArgument, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileQuery(t, tt.query, tt.vars)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var compileErr *Error
			require.True(t, errors.As(err, &compileErr))
			assert.Equal(t, tt.field, compileErr.Field)
		})
	}
}

func TestCompile_SelectErrorsPropagate(t *testing.T) {
	_, err := compileQuery(t, `{ viewer { awardConnection(first: 1, after: "!!") { edges { cursor } } } }`, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cursor.ErrInvalidCursor)
	assert.Contains(t, err.Error(), "select Viewer.awardConnection")
}

func TestNewContext_OperationSelection(t *testing.T) {
	doc, err := parser.Parse(parser.ParseParams{Source: `query A { viewer { id } } query B { viewers { id } }`})
	require.NoError(t, err)
	schema := newTestSchema(t)

	_, err = NewContext(doc, Options{Schema: schema})
	assert.Error(t, err)

	c, err := NewContext(doc, Options{Schema: schema, OperationName: "B"})
	require.NoError(t, err)
	assert.Equal(t, "viewers", c.FirstResponseKey())

	_, err = NewContext(doc, Options{Schema: schema, OperationName: "C"})
	assert.Error(t, err)
}
