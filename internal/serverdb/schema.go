package serverdb

// replicaSchema creates the replica tables. server_seq is drawn from a shared
// sequence so every accepted write, insert or update, lands at the tail of
// the change feed.
const replicaSchema = `
CREATE SEQUENCE IF NOT EXISTS record_seq;

CREATE TABLE IF NOT EXISTS records (
	record_type  TEXT NOT NULL,
	record_id    TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	deleted_at   TIMESTAMPTZ,
	fields       JSONB,
	server_seq   BIGINT NOT NULL DEFAULT nextval('record_seq'),
	received_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (record_type, record_id)
);

CREATE INDEX IF NOT EXISTS idx_records_seq ON records(server_seq);

CREATE TABLE IF NOT EXISTS devices (
	device_id    TEXT PRIMARY KEY,
	device_name  TEXT NOT NULL DEFAULT '',
	linked_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
