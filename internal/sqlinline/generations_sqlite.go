package sqlinline

// SQLite dialect of the generation queries. The marker line is a plain SQL
// comment there, so these run unmodified.

const QSQLiteCreateGenerationRequestsTable = `--sql 4ff9d634-6ef1-4703-8ef4-fc5fefcd60bb
create table if not exists generation_requests (
  id                      text primary key,
  user_id                 text not null,
  project_id              text not null,
  input_prompt            text not null,
  style_guidance          text not null default '',
  input_parameters        text not null default '{}',
  status                  text not null,
  sample_assets           text not null default '[]',
  selected_sample_id      text not null default '',
  desired_resolution      text not null default '',
  final_asset             text,
  credits_cost_sample     real not null default 0,
  credits_cost_final      real not null default 0,
  credits_refunded_sample real not null default 0,
  credits_refunded_final  real not null default 0,
  regeneration_count      integer not null default 0,
  error_message           text not null default '',
  error_details           text,
  version                 integer not null default 1,
  created_at              text not null,
  updated_at              text not null
);
create index if not exists generation_requests_status_updated_idx
  on generation_requests (status, updated_at);
`

const QSQLiteInsertGenerationRequest = `--sql a5282a94-c339-47ae-99aa-1f66ec155a32
insert into generation_requests(
  id, user_id, project_id, input_prompt, style_guidance, input_parameters, status,
  sample_assets, selected_sample_id, desired_resolution, final_asset,
  credits_cost_sample, credits_cost_final, credits_refunded_sample, credits_refunded_final,
  regeneration_count, error_message, error_details, version, created_at, updated_at
)
values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const QSQLiteSelectGenerationRequestByID = `--sql df0f2810-7314-49aa-85fe-f2824a77c3ba
select
  id, user_id, project_id, input_prompt, style_guidance, input_parameters, status,
  sample_assets, selected_sample_id, desired_resolution, final_asset,
  credits_cost_sample, credits_cost_final, credits_refunded_sample, credits_refunded_final,
  regeneration_count, error_message, error_details, version, created_at, updated_at
from generation_requests
where id = ?
limit 1;
`

const QSQLiteUpdateGenerationRequest = `--sql 389f8143-c5b7-4560-9221-8fa5afb76bdb
update generation_requests
set
  user_id = ?,
  project_id = ?,
  input_prompt = ?,
  style_guidance = ?,
  input_parameters = ?,
  status = ?,
  sample_assets = ?,
  selected_sample_id = ?,
  desired_resolution = ?,
  final_asset = ?,
  credits_cost_sample = ?,
  credits_cost_final = ?,
  credits_refunded_sample = ?,
  credits_refunded_final = ?,
  regeneration_count = ?,
  error_message = ?,
  error_details = ?,
  version = version + 1,
  updated_at = ?
where id = ?
  and version = ?;
`

const QSQLiteGenerationRequestExists = `--sql 0a562cea-8123-4161-ad41-9cb46b4c8367
select count(1) from generation_requests where id = ?;
`

// The status list is expanded into the placeholder group at runtime.
const QSQLiteListStalledGenerationRequests = `--sql a57d4e7b-521e-432c-8d37-b7fed1634c01
select
  id, user_id, project_id, input_prompt, style_guidance, input_parameters, status,
  sample_assets, selected_sample_id, desired_resolution, final_asset,
  credits_cost_sample, credits_cost_final, credits_refunded_sample, credits_refunded_final,
  regeneration_count, error_message, error_details, version, created_at, updated_at
from generation_requests
where status in (%s)
  and updated_at < ?
order by updated_at asc
limit ?;
`
