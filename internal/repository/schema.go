package repository

import "strings"

// Schema definitions for the Blockaid database.
// The statements are written once and specialised per driver through the
// {{serial}} and {{float}} placeholders.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    disaster_type TEXT NOT NULL,
    location TEXT NOT NULL,
    location_key TEXT NOT NULL,
    image_hash TEXT NOT NULL,
    predictions TEXT NOT NULL,
    measurements TEXT NOT NULL,
    component_scores TEXT NOT NULL,
    weights TEXT NOT NULL,
    severity_score {{float}} NOT NULL,
    severity_level TEXT NOT NULL,
    confidence {{float}} NOT NULL,
    is_verified INTEGER NOT NULL DEFAULT 0,
    reported_by TEXT NOT NULL,
    verified_by TEXT,
    verified_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    CONSTRAINT uq_events_image_hash UNIQUE (image_hash)
);

CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at, id);
CREATE INDEX IF NOT EXISTS idx_events_location ON events(location_key, created_at);
`

// Amounts are stored as decimal text so neither driver rounds them.
const schemaFunds = `
CREATE TABLE IF NOT EXISTS funds (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL REFERENCES events(id),
    total_amount TEXT NOT NULL,
    distributed_amount TEXT NOT NULL DEFAULT '0',
    status TEXT NOT NULL,
    approved_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_funds_event ON funds(event_id, created_at);
`

const schemaAuditLogs = `
CREATE TABLE IF NOT EXISTS audit_logs (
    seq {{serial}},
    id TEXT NOT NULL UNIQUE,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    actor TEXT NOT NULL,
    details TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_order ON audit_logs(occurred_at, seq);
CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity_type, entity_id);
`

const schemaAuditGuardSQLite = `
CREATE TRIGGER IF NOT EXISTS audit_logs_no_update
BEFORE UPDATE ON audit_logs
BEGIN
    SELECT RAISE(ABORT, 'audit_logs is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_logs_no_delete
BEFORE DELETE ON audit_logs
BEGIN
    SELECT RAISE(ABORT, 'audit_logs is append-only');
END;
`

const schemaAuditGuardPostgres = `
CREATE OR REPLACE FUNCTION audit_logs_append_only() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'audit_logs is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_logs_no_mutation ON audit_logs;
CREATE TRIGGER audit_logs_no_mutation
BEFORE UPDATE OR DELETE ON audit_logs
FOR EACH ROW EXECUTE FUNCTION audit_logs_append_only();
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight {{float}} NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements for driver, in order.
func AllSchemas(driver string) []string {
	var r *strings.Replacer
	guard := schemaAuditGuardSQLite
	if driver == "postgres" {
		r = strings.NewReplacer("{{serial}}", "BIGSERIAL PRIMARY KEY", "{{float}}", "DOUBLE PRECISION")
		guard = schemaAuditGuardPostgres
	} else {
		r = strings.NewReplacer("{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{float}}", "REAL")
	}

	return []string{
		r.Replace(schemaEvents),
		r.Replace(schemaFunds),
		r.Replace(schemaAuditLogs),
		guard,
		r.Replace(schemaRuleConfigs),
	}
}
