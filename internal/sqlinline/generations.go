package sqlinline

const QCreateGenerationRequestsTable = `--sql 4f7572ef-a7f1-4c44-ae5c-6670720f1e2e
create table if not exists generation_requests (
  id                      uuid primary key,
  user_id                 text not null,
  project_id              text not null,
  input_prompt            text not null,
  style_guidance          text not null default '',
  input_parameters        jsonb not null default '{}'::jsonb,
  status                  text not null,
  sample_assets           jsonb not null default '[]'::jsonb,
  selected_sample_id      text not null default '',
  desired_resolution      text not null default '',
  final_asset             jsonb,
  credits_cost_sample     double precision not null default 0,
  credits_cost_final      double precision not null default 0,
  credits_refunded_sample double precision not null default 0,
  credits_refunded_final  double precision not null default 0,
  regeneration_count      int not null default 0,
  error_message           text not null default '',
  error_details           jsonb,
  version                 bigint not null default 1,
  created_at              timestamptz not null,
  updated_at              timestamptz not null
);
create index if not exists generation_requests_status_updated_idx
  on generation_requests (status, updated_at);
`

const QInsertGenerationRequest = `--sql e59f748f-08a9-47e2-94da-b0873eddb659
insert into generation_requests(
  id,
  user_id,
  project_id,
  input_prompt,
  style_guidance,
  input_parameters,
  status,
  sample_assets,
  selected_sample_id,
  desired_resolution,
  final_asset,
  credits_cost_sample,
  credits_cost_final,
  credits_refunded_sample,
  credits_refunded_final,
  regeneration_count,
  error_message,
  error_details,
  version,
  created_at,
  updated_at
)
values (
  $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::jsonb, $7::text, $8::jsonb,
  $9::text, $10::text, $11::jsonb, $12::float8, $13::float8, $14::float8, $15::float8,
  $16::int, $17::text, $18::jsonb, $19::bigint, $20::timestamptz, $21::timestamptz
);
`

const QSelectGenerationRequestByID = `--sql 7ae439eb-8729-41e5-8d8d-6b5c1e78ac66
select
  id::text,
  user_id,
  project_id,
  input_prompt,
  style_guidance,
  input_parameters,
  status,
  sample_assets,
  selected_sample_id,
  desired_resolution,
  final_asset,
  credits_cost_sample,
  credits_cost_final,
  credits_refunded_sample,
  credits_refunded_final,
  regeneration_count,
  error_message,
  error_details,
  version,
  created_at,
  updated_at
from generation_requests
where id = $1::uuid
limit 1;
`

// QUpdateGenerationRequest only matches when the stored version equals $19.
const QUpdateGenerationRequest = `--sql d1d45127-eff4-42e3-bd81-d8f6d8c1f7ad
update generation_requests
set
  user_id = $2::text,
  project_id = $3::text,
  input_prompt = $4::text,
  style_guidance = $5::text,
  input_parameters = $6::jsonb,
  status = $7::text,
  sample_assets = $8::jsonb,
  selected_sample_id = $9::text,
  desired_resolution = $10::text,
  final_asset = $11::jsonb,
  credits_cost_sample = $12::float8,
  credits_cost_final = $13::float8,
  credits_refunded_sample = $14::float8,
  credits_refunded_final = $15::float8,
  regeneration_count = $16::int,
  error_message = $17::text,
  error_details = $18::jsonb,
  version = version + 1,
  updated_at = $20::timestamptz
where id = $1::uuid
  and version = $19::bigint
returning version;
`

const QGenerationRequestExists = `--sql e23b0c2d-af8b-4617-84d6-789c2d403b97
select exists(select 1 from generation_requests where id = $1::uuid);
`

const QListStalledGenerationRequests = `--sql ee93ac2f-711c-47c8-b98c-b9993acd018a
select
  id::text,
  user_id,
  project_id,
  input_prompt,
  style_guidance,
  input_parameters,
  status,
  sample_assets,
  selected_sample_id,
  desired_resolution,
  final_asset,
  credits_cost_sample,
  credits_cost_final,
  credits_refunded_sample,
  credits_refunded_final,
  regeneration_count,
  error_message,
  error_details,
  version,
  created_at,
  updated_at
from generation_requests
where status = any($1::text[])
  and updated_at < $2::timestamptz
order by updated_at asc
limit $3::int;
`
