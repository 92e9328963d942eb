package sqlinline

const QSelectIntegrationToken = `--sql 265e7113-747f-4cb2-8ca8-935658bcdd86
select token
from integration_tokens
where provider = $1
order by updated_at desc
limit 1;
`

const QUpsertIntegrationToken = `--sql 7d4e0e5f-33c4-4837-8fe0-819320c515a8
insert into integration_tokens (provider, token, properties, updated_at)
values ($1, $2, $3, now())
on conflict (provider)
do update set token = excluded.token, properties = excluded.properties, updated_at = now();
`
