package demo

import (
	"context"
	"fmt"
)

const dropMergeFunctions = `drop function if exists graphql_pg_merge(jsonb), graphql_pg_merge_values(jsonb, jsonb)`

// InstallMergeFunction installs graphql_pg_merge, the database side
// counterpart of reshape.Reshape used when the server runs with db_merge
// enabled. Keys suffixed with "§<n>" fold into their base key in index order:
// the first non-null scalar wins, objects merge key by key and lists of
// objects merge by id and type tag.
func InstallMergeFunction(ctx context.Context, db Execer) error {
	for _, stmt := range []string{mergeValuesFunction, mergeFunction} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("install merge function: %w", err)
		}
	}
	return nil
}

const mergeValuesFunction = `
create or replace function graphql_pg_merge_values(a jsonb, b jsonb) returns jsonb
language plpgsql immutable as $$
declare
	k text;
	v jsonb;
	result jsonb;
	i integer;
	j integer;
	matched boolean;
begin
	if a is null or jsonb_typeof(a) = 'null' then
		return b;
	end if;
	if b is null or jsonb_typeof(b) = 'null' then
		return a;
	end if;

	if jsonb_typeof(a) = 'object' and jsonb_typeof(b) = 'object' then
		result := a;
		for k, v in select key, value from jsonb_each(b) loop
			if result ? k then
				result := jsonb_set(result, array[k], graphql_pg_merge_values(result -> k, v));
			else
				result := result || jsonb_build_object(k, v);
			end if;
		end loop;
		return result;
	end if;

	if jsonb_typeof(a) = 'array' and jsonb_typeof(b) = 'array' then
		result := a;
		for j in 0 .. jsonb_array_length(b) - 1 loop
			matched := false;
			if jsonb_typeof(b -> j) = 'object' and (b -> j) ? 'id' then
				for i in 0 .. jsonb_array_length(result) - 1 loop
					if jsonb_typeof(result -> i) = 'object'
						and (result -> i -> 'id') = (b -> j -> 'id')
						and (result -> i -> 'type') is not distinct from (b -> j -> 'type') then
						result := jsonb_set(result, array[i::text], graphql_pg_merge_values(result -> i, b -> j));
						matched := true;
						exit;
					end if;
				end loop;
			elsif j < jsonb_array_length(result) then
				result := jsonb_set(result, array[j::text], graphql_pg_merge_values(result -> j, b -> j));
				matched := true;
			end if;
			if not matched then
				result := result || jsonb_build_array(b -> j);
			end if;
		end loop;
		return result;
	end if;

	return a;
end
$$`

const mergeFunction = `
create or replace function graphql_pg_merge(v jsonb) returns jsonb
language plpgsql immutable as $$
declare
	k text;
	item jsonb;
	base text;
	result jsonb;
begin
	if v is null then
		return v;
	end if;

	if jsonb_typeof(v) = 'array' then
		return coalesce(
			(select jsonb_agg(graphql_pg_merge(e) order by n) from jsonb_array_elements(v) with ordinality as t(e, n)),
			'[]'::jsonb);
	end if;

	if jsonb_typeof(v) <> 'object' then
		return v;
	end if;

	result := '{}'::jsonb;
	for k, item in
		select key, value from jsonb_each(v)
		order by
			case when key ~ '.§[0-9]+$' then 1 else 0 end,
			coalesce(substring(key from '§([0-9]+)$')::integer, 0)
	loop
		base := k;
		if k ~ '.§[0-9]+$' then
			base := regexp_replace(k, '§[0-9]+$', '');
		end if;
		item := graphql_pg_merge(item);
		if result ? base then
			result := jsonb_set(result, array[base], graphql_pg_merge_values(result -> base, item));
		else
			result := result || jsonb_build_object(base, item);
		end if;
	end loop;
	return result;
end
$$`
