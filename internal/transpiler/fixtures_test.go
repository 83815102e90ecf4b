package transpiler

import (
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/stretchr/testify/require"

	"github.com/jzimmek/graphql-pg/internal/cursor"
	"github.com/jzimmek/graphql-pg/internal/selects"
	"github.com/jzimmek/graphql-pg/internal/sqlfrag"
)

func newTestSchema(t *testing.T) *graphql.Schema {
	t.Helper()

	var languageA, languageB *graphql.Object
	resolveLanguage := func(p graphql.ResolveTypeParams) *graphql.Object {
		row, _ := p.Value.(map[string]any)
		if row["type"] == "LanguageB" {
			return languageB
		}
		return languageA
	}

	language := graphql.NewInterface(graphql.InterfaceConfig{
		Name: "Language",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.ID},
			"name": &graphql.Field{Type: graphql.String},
		},
		ResolveType: resolveLanguage,
	})
	languageA = graphql.NewObject(graphql.ObjectConfig{
		Name:       "LanguageA",
		Interfaces: []*graphql.Interface{language},
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.ID},
			"name":           &graphql.Field{Type: graphql.String},
			"languageAField": &graphql.Field{Type: graphql.String},
		},
	})
	languageB = graphql.NewObject(graphql.ObjectConfig{
		Name:       "LanguageB",
		Interfaces: []*graphql.Interface{language},
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.ID},
			"name":           &graphql.Field{Type: graphql.String},
			"languageBField": &graphql.Field{Type: graphql.String},
		},
	})
	languageUnion := graphql.NewUnion(graphql.UnionConfig{
		Name:        "LanguageUnion",
		Types:       []*graphql.Object{languageA, languageB},
		ResolveType: resolveLanguage,
	})

	profile := graphql.NewObject(graphql.ObjectConfig{
		Name: "Profile",
		Fields: graphql.Fields{
			"url": &graphql.Field{Type: graphql.String},
		},
	})
	award := graphql.NewObject(graphql.ObjectConfig{
		Name: "Award",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.ID},
			"name": &graphql.Field{Type: graphql.String},
		},
	})
	awardEdge := graphql.NewObject(graphql.ObjectConfig{
		Name: "AwardEdge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{Type: graphql.String},
			"node":   &graphql.Field{Type: award},
		},
	})
	awardConnection := graphql.NewObject(graphql.ObjectConfig{
		Name: "AwardConnection",
		Fields: graphql.Fields{
			"edges": &graphql.Field{Type: graphql.NewList(awardEdge)},
		},
	})

	viewer := graphql.NewObject(graphql.ObjectConfig{
		Name: "Viewer",
		Fields: graphql.Fields{
			"id":               &graphql.Field{Type: graphql.ID},
			"name":             &graphql.Field{Type: graphql.String},
			"camelCase":        &graphql.Field{Type: graphql.String},
			"secret":           &graphql.Field{Type: graphql.String},
			"profile":          &graphql.Field{Type: profile},
			"unwired":          &graphql.Field{Type: profile},
			"awards":           &graphql.Field{Type: graphql.NewList(award)},
			"languages":        &graphql.Field{Type: graphql.NewList(language)},
			"languagesUnion":   &graphql.Field{Type: graphql.NewList(languageUnion)},
			"favoriteLanguage": &graphql.Field{Type: language},
			"latestLanguage":   &graphql.Field{Type: languageUnion},
			"awardConnection": &graphql.Field{
				Type: awardConnection,
				Args: graphql.FieldConfigArgument{
					"first": &graphql.ArgumentConfig{Type: graphql.Int},
					"after": &graphql.ArgumentConfig{Type: graphql.String},
				},
			},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"viewer": &graphql.Field{
				Type: viewer,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.ID},
				},
			},
			"viewers": &graphql.Field{
				Type: graphql.NewList(viewer),
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 5},
				},
			},
			"version": &graphql.Field{Type: graphql.String},
		},
	})
	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"renameViewer": &graphql.Field{
				Type: viewer,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"to":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    query,
		Mutation: mutation,
		Types:    []graphql.Type{languageA, languageB},
	})
	require.NoError(t, err)
	return &schema
}

func newTestSelects() selects.Table {
	languages := selects.Union{
		PerType: []selects.TypeRelation{
			{Type: "LanguageA", SQL: sqlfrag.Text("select * from languages_a")},
			{Type: "LanguageB", SQL: sqlfrag.Text("select * from languages_b")},
		},
	}
	return selects.Table{
		"Query": {
			"viewer": func(args map[string]any, _ selects.Context) (selects.Result, error) {
				return selects.Rel("select * from organisations where id = ?", args["name"]), nil
			},
			"viewers": func(args map[string]any, _ selects.Context) (selects.Result, error) {
				return selects.Rel("select * from organisations limit ?", args["limit"]), nil
			},
		},
		"Mutation": {
			"renameViewer": func(args map[string]any, _ selects.Context) (selects.Result, error) {
				return selects.Rel("update organisations set name = ? where id = ? returning *", args["to"], args["name"]), nil
			},
		},
		"Viewer": {
			"camelCase": selects.Expr("%s.camel_case"),
			"secret":    nil,
			"profile": func(_ map[string]any, ctx selects.Context) (selects.Result, error) {
				return selects.Rel("select * from profile where viewer_id = ?", ctx.Column("id")), nil
			},
			"awards": func(_ map[string]any, ctx selects.Context) (selects.Result, error) {
				return selects.Rel("select * from awards where viewer_id = ?", ctx.Column("id")), nil
			},
			"languages": func(map[string]any, selects.Context) (selects.Result, error) {
				return languages, nil
			},
			"languagesUnion": func(map[string]any, selects.Context) (selects.Result, error) {
				ordered := languages
				ordered.OrderAndLimit = selects.OrderedUnion("to_json ->> 'id' desc", 0)
				return ordered, nil
			},
			"latestLanguage": func(map[string]any, selects.Context) (selects.Result, error) {
				latest := languages
				latest.OrderAndLimit = selects.OrderedUnion("to_json ->> 'id' desc", 1)
				return latest, nil
			},
			"favoriteLanguage": selects.Static("select * from languages_a limit 1"),
			"awardConnection": func(args map[string]any, ctx selects.Context) (selects.Result, error) {
				paging, err := cursor.PagingArgsFromMap(args)
				if err != nil {
					return nil, err
				}
				return cursor.New(paging, func(before, after []any) sqlfrag.Fragment {
					return sqlfrag.SQL(`select *, json_build_array(id) as "$cursor", id as "$row_number" from awards where viewer_id = ?`, ctx.Column("id"))
				})
			},
		},
	}
}

func compileQuery(t *testing.T, query string, variables map[string]any) (sqlfrag.Query, error) {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	require.NoError(t, err)

	c, err := NewContext(doc, Options{
		Schema:    newTestSchema(t),
		Selects:   newTestSelects(),
		Variables: variables,
		Values:    map[string]any{"tenant": "acme"},
	})
	if err != nil {
		return sqlfrag.Query{}, err
	}
	frag, err := Compile(c)
	if err != nil {
		return sqlfrag.Query{}, err
	}
	return sqlfrag.Linearize(frag), nil
}
