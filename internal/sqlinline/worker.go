package sqlinline

const QWorkerClaimSwapJob = `--sql fd916971-b639-4527-9e08-3df40b9b5401
with next_job as (
    select id
    from swap_jobs
    where status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update swap_jobs
    set status = 'processing', updated_at = now()
    where id in (select id from next_job)
    returning id
)
select id from claimed;
`

const QWorkerReleaseStaleJobs = `--sql 6f5b6863-aaae-45e2-9904-de6da2db1435
update swap_jobs
set status = 'queued', updated_at = now()
where status = 'processing'
  and vendor_task_id = ''
  and updated_at < now() - $1::interval;
`
