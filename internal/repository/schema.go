package repository

// Schema definitions for the Ladder database.
// Compatible with both SQLite and PostgreSQL.

// schemaPrograms stores one program document per (merchant, program).
// The document column holds the persisted JSON; the other columns are
// copies used for listing and ordering.
const schemaPrograms = `
CREATE TABLE IF NOT EXISTS programs (
    merchant_id TEXT NOT NULL,
    program_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    document TEXT NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    total_rewards INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (merchant_id, program_id)
);

CREATE INDEX IF NOT EXISTS idx_programs_merchant ON programs(merchant_id);
CREATE INDEX IF NOT EXISTS idx_programs_created ON programs(merchant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaPrograms,
	}
}
