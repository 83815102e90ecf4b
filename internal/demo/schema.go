// Package demo is the sample schema served by cmd/server and compiled by
// cmd/graphql-pg-sql. It covers every shape the transpiler supports: nested
// objects and lists, interface and union lists, ordered and limited unions,
// a cursor connection and a mutation backed by a SQL function.
package demo

import (
	"fmt"
	"net/http"

	"github.com/graphql-go/graphql"

	"github.com/jzimmek/graphql-pg/internal/aliasaware"
	"github.com/jzimmek/graphql-pg/internal/cursor"
	"github.com/jzimmek/graphql-pg/internal/naming"
	"github.com/jzimmek/graphql-pg/internal/scalars"
	"github.com/jzimmek/graphql-pg/internal/selects"
	"github.com/jzimmek/graphql-pg/internal/sqlfrag"
)

// ViewerHeader selects the default viewer when the viewer field is queried
// without a name argument.
const ViewerHeader = "X-Viewer"

// Values exposes request scoped values to select functions.
func Values(r *http.Request) map[string]any {
	values := map[string]any{}
	if v := r.Header.Get(ViewerHeader); v != "" {
		values["viewer"] = v
	}
	return values
}

// NewSchema builds the demo GraphQL schema.
func NewSchema() (*graphql.Schema, error) {
	objects := map[string]*graphql.Object{}
	pageSize := scalars.NonNegativeInt()
	date := scalars.Date()
	resolveType := func(p graphql.ResolveTypeParams) *graphql.Object {
		row, _ := p.Value.(map[string]any)
		name, _ := row[selects.TypeTag].(string)
		return objects[name]
	}

	language := graphql.NewInterface(graphql.InterfaceConfig{
		Name: "Language",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.ID},
			"name": &graphql.Field{Type: graphql.String},
		},
		ResolveType: resolveType,
	})
	objects["LanguageA"] = graphql.NewObject(graphql.ObjectConfig{
		Name:       "LanguageA",
		Interfaces: []*graphql.Interface{language},
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.ID},
			"name":           &graphql.Field{Type: graphql.String},
			"languageAField": &graphql.Field{Type: graphql.String},
		},
	})
	objects["LanguageB"] = graphql.NewObject(graphql.ObjectConfig{
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
		Types:       []*graphql.Object{objects["LanguageA"], objects["LanguageB"]},
		ResolveType: resolveType,
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
	viewer := graphql.NewObject(graphql.ObjectConfig{
		Name: "Viewer",
		Fields: graphql.Fields{
			"id":               &graphql.Field{Type: graphql.ID},
			"name":             &graphql.Field{Type: graphql.String},
			"camelCase":        &graphql.Field{Type: graphql.String},
			"settings":         &graphql.Field{Type: scalars.JSON()},
			"profile":          &graphql.Field{Type: profile},
			"awards":           &graphql.Field{Type: graphql.NewList(award)},
			"languages":        &graphql.Field{Type: graphql.NewList(language)},
			"languagesUnion":   &graphql.Field{Type: graphql.NewList(languageUnion)},
			"favoriteLanguage": &graphql.Field{Type: language},
		},
	})

	// Feed items are discriminated by IsTypeOf instead of a union ResolveType.
	objects["Person"] = graphql.NewObject(graphql.ObjectConfig{
		Name:     "Person",
		IsTypeOf: aliasaware.TaggedAs("Person"),
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"name": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})
	objects["Event"] = graphql.NewObject(graphql.ObjectConfig{
		Name:     "Event",
		IsTypeOf: aliasaware.TaggedAs("Event"),
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
			"location":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"startsOn":  &graphql.Field{Type: date},
			"createdAt": &graphql.Field{Type: scalars.DateTime()},
		},
	})
	feedItem := graphql.NewUnion(graphql.UnionConfig{
		Name:  "FeedItem",
		Types: []*graphql.Object{objects["Person"], objects["Event"]},
	})

	pageInfo := graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"hasNextPage":     &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"hasPreviousPage": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})
	personEdge := graphql.NewObject(graphql.ObjectConfig{
		Name: "PersonEdge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"node":   &graphql.Field{Type: objects["Person"]},
		},
	})
	personConnection := graphql.NewObject(graphql.ObjectConfig{
		Name: "PersonConnection",
		Fields: graphql.Fields{
			"edges":    &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(personEdge))},
			"pageInfo": &graphql.Field{Type: graphql.NewNonNull(pageInfo)},
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
			"feed":           &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(feedItem))},
			"feedDesc":       &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(feedItem))},
			"latestFeedItem": &graphql.Field{Type: feedItem},
			"eventsSince": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(objects["Event"]))),
				Args: graphql.FieldConfigArgument{
					"date": &graphql.ArgumentConfig{Type: graphql.NewNonNull(date)},
				},
			},
			"people": &graphql.Field{
				Type: personConnection,
				Args: graphql.FieldConfigArgument{
					"first":  &graphql.ArgumentConfig{Type: pageSize},
					"after":  &graphql.ArgumentConfig{Type: graphql.String},
					"last":   &graphql.ArgumentConfig{Type: pageSize},
					"before": &graphql.ArgumentConfig{Type: graphql.String},
				},
			},
		},
	})
	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"renamePerson": &graphql.Field{
				Type: objects["Person"],
				Args: graphql.FieldConfigArgument{
					"id":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    query,
		Mutation: mutation,
		Types:    []graphql.Type{objects["LanguageA"], objects["LanguageB"]},
	})
	if err != nil {
		return nil, fmt.Errorf("build demo schema: %w", err)
	}
	return &schema, nil
}

// Selects returns the resolver table backing NewSchema. Table names of plain
// relations are derived with namer.
func Selects(namer *naming.Namer) selects.Table {
	languages := func(_ map[string]any, ctx selects.Context) selects.Union {
		return selects.Union{
			PerType: []selects.TypeRelation{
				{Type: "LanguageA", SQL: sqlfrag.SQL("select * from languages where kind = 'a' and viewer_id = ?", ctx.Column("id"))},
				{Type: "LanguageB", SQL: sqlfrag.SQL("select * from languages where kind = 'b' and viewer_id = ?", ctx.Column("id"))},
			},
		}
	}
	feed := selects.Union{
		PerType: []selects.TypeRelation{
			{Type: "Person", SQL: sqlfrag.Text("select * from people")},
			{Type: "Event", SQL: sqlfrag.Text("select * from events")},
		},
	}

	return selects.Table{
		"Query": {
			"viewer": func(args map[string]any, ctx selects.Context) (selects.Result, error) {
				name := args["name"]
				if name == nil {
					name = ctx.Value("viewer")
				}
				return selects.Rel("select * from viewers where name = ?", name), nil
			},
			"feed": func(map[string]any, selects.Context) (selects.Result, error) {
				return feed, nil
			},
			"feedDesc": func(map[string]any, selects.Context) (selects.Result, error) {
				ordered := feed
				ordered.OrderAndLimit = selects.OrderedUnion("cast(to_json ->> 'id' as integer) desc", 0)
				return ordered, nil
			},
			"latestFeedItem": func(map[string]any, selects.Context) (selects.Result, error) {
				latest := feed
				latest.OrderAndLimit = selects.OrderedUnion("cast(to_json ->> 'id' as integer) desc", 1)
				return latest, nil
			},
			"eventsSince": func(args map[string]any, _ selects.Context) (selects.Result, error) {
				return selects.Rel("select * from events where starts_on >= cast(? as date) order by starts_on", args["date"]), nil
			},
			"people": people,
		},
		"Mutation": {
			"renamePerson": func(args map[string]any, _ selects.Context) (selects.Result, error) {
				return selects.Rel("select * from rename_person(cast(? as integer), ?)", args["id"], args["name"]), nil
			},
		},
		"Viewer": {
			"camelCase": selects.Expr(`%s."camel_case"`),
			"profile": func(_ map[string]any, ctx selects.Context) (selects.Result, error) {
				return selects.Rel("select * from profiles where viewer_id = ?", ctx.Column("id")), nil
			},
			"awards": selects.HasMany(namer, "Award", "viewer_id"),
			"languages": func(args map[string]any, ctx selects.Context) (selects.Result, error) {
				return languages(args, ctx), nil
			},
			"languagesUnion": func(args map[string]any, ctx selects.Context) (selects.Result, error) {
				u := languages(args, ctx)
				u.OrderAndLimit = selects.OrderedUnion("cast(to_json ->> 'id' as integer) asc", 0)
				return u, nil
			},
			"favoriteLanguage": func(args map[string]any, ctx selects.Context) (selects.Result, error) {
				u := languages(args, ctx)
				u.OrderAndLimit = selects.OrderedUnion("cast(to_json ->> 'id' as integer) asc", 1)
				return u, nil
			},
		},
	}
}

// people pages through people ordered by id.
func people(args map[string]any, _ selects.Context) (selects.Result, error) {
	paging, err := cursor.PagingArgsFromMap(args)
	if err != nil {
		return nil, err
	}
	return cursor.New(paging, func(before, after []any) sqlfrag.Fragment {
		frag := sqlfrag.Text(`select *, json_build_array(id) as "$cursor", row_number() over (order by id) as "$row_number" from people where true`)
		if len(after) > 0 {
			frag = sqlfrag.Append(frag, sqlfrag.SQL(" and id > cast(? as integer)", after[0]))
		}
		if len(before) > 0 {
			frag = sqlfrag.Append(frag, sqlfrag.SQL(" and id < cast(? as integer)", before[0]))
		}
		return frag
	})
}
