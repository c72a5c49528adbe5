package repository

// Schema statements are written to the SQLite/PostgreSQL common subset:
// TEXT keys, REAL scores, INTEGER flags, JSON blobs as TEXT. Composite
// uniques back the upsert paths.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		channel TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		user_id TEXT NOT NULL,
		merchant_id TEXT,
		device_id TEXT,
		ip_address TEXT,
		instrument_id TEXT,
		email TEXT,
		country TEXT,
		city TEXT,
		payment_method TEXT,
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		details TEXT,
		metadata TEXT,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions (tenant_id, user_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_device
		ON transactions (tenant_id, device_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_ip
		ON transactions (tenant_id, ip_address, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_instrument
		ON transactions (tenant_id, instrument_id, timestamp)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		condition TEXT NOT NULL,
		action TEXT NOT NULL,
		risk_score REAL NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		channels TEXT,
		merchant_allow TEXT,
		merchant_deny TEXT,
		hit_count INTEGER NOT NULL DEFAULT 0,
		last_triggered TIMESTAMP,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_active
		ON rules (tenant_id, active)`,

	`CREATE TABLE IF NOT EXISTS rule_executions (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		triggered INTEGER NOT NULL,
		value TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rule_executions_tx
		ON rule_executions (tenant_id, tx_id)`,

	`CREATE TABLE IF NOT EXISTS patterns (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		entity_key TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		sub_key TEXT NOT NULL DEFAULT '',
		first_detected TIMESTAMP NOT NULL,
		last_detected TIMESTAMP NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 1,
		risk_score REAL NOT NULL DEFAULT 0,
		suspicious INTEGER NOT NULL DEFAULT 0,
		tx_samples TEXT,
		PRIMARY KEY (tenant_id, id),
		UNIQUE (tenant_id, entity_key, pattern_type, sub_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patterns_entity
		ON patterns (tenant_id, entity_key)`,

	`CREATE TABLE IF NOT EXISTS decisions (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		score REAL NOT NULL,
		decision TEXT NOT NULL,
		flagged INTEGER NOT NULL DEFAULT 0,
		flag_reason TEXT,
		sub_scores TEXT,
		triggered_rules TEXT,
		velocity_hits TEXT,
		process_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, id),
		UNIQUE (tenant_id, tx_id)
	)`,

	`CREATE TABLE IF NOT EXISTS blocklist_entries (
		tenant_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		value TEXT NOT NULL,
		reason TEXT,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, entity_type, value)
	)`,
}
