package demo

import (
	"context"
	"database/sql"
	"fmt"
)

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// dropStatements remove every object created by schemaStatements.
var dropStatements = []string{
	`drop function if exists rename_person(integer, text)`,
	`drop table if exists languages`,
	`drop table if exists awards`,
	`drop table if exists profiles`,
	`drop table if exists viewers`,
	`drop table if exists events`,
	`drop table if exists people`,
	`drop sequence if exists feed_seq`,
}

// schemaStatements create the demo relations. People and events share a
// sequence so feed ordering by id interleaves both types.
var schemaStatements = []string{
	`create sequence feed_seq`,
	`create table people (
		id integer not null default nextval('feed_seq') primary key,
		name text not null
	)`,
	`create table events (
		id integer not null default nextval('feed_seq') primary key,
		location text not null,
		starts_on date,
		created_at timestamptz not null default now()
	)`,
	`create table viewers (
		id serial primary key,
		name text not null unique,
		camel_case text,
		settings jsonb
	)`,
	`create table profiles (
		viewer_id integer not null references viewers (id),
		url text not null
	)`,
	`create table awards (
		id serial primary key,
		viewer_id integer not null references viewers (id),
		name text not null
	)`,
	`create table languages (
		id serial primary key,
		viewer_id integer not null references viewers (id),
		kind text not null check (kind in ('a', 'b')),
		name text not null,
		language_a_field text,
		language_b_field text
	)`,
	`create function rename_person(person_id integer, new_name text) returns setof people
	language sql volatile as $$
		update people set name = new_name where id = person_id returning *
	$$`,
}

var dataStatements = []string{
	`insert into people (name) values ('name1')`,
	`insert into events (location, starts_on) values ('location1', date '2024-05-01')`,
	`insert into people (name) select 'name' || g from generate_series(2, 5) g`,
	`insert into viewers (name, camel_case, settings) values ('jan', 'camel', '{"theme": "dark"}'), ('kim', null, null)`,
	`insert into profiles (viewer_id, url) values (1, 'https://example.com/jan')`,
	`insert into awards (viewer_id, name) values (1, 'gold'), (1, 'silver'), (2, 'bronze')`,
	`insert into languages (viewer_id, kind, name, language_a_field, language_b_field) values
		(1, 'a', 'go', 'gc', null),
		(1, 'b', 'sql', null, 'plpgsql'),
		(1, 'a', 'c', 'cc', null)`,
}

// Seed drops and recreates the demo schema and data, and installs the
// database side merge function.
func Seed(ctx context.Context, db Execer) error {
	groups := [][]string{dropStatements, {dropMergeFunctions}, schemaStatements, dataStatements}
	for _, group := range groups {
		for _, stmt := range group {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("seed demo schema: %w", err)
			}
		}
	}
	return InstallMergeFunction(ctx, db)
}
