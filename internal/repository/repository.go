// Package repository implements domain.Repository over database/sql, with
// SQLite (Community tier) and PostgreSQL (Pro tier) drivers. Queries are
// written with ? placeholders and rebound to $n for PostgreSQL. Every
// query is tenant-scoped.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SQLRepository is the database/sql implementation of domain.Repository.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// NewRepository opens the configured database, applies the schema, and
// returns the repository.
func NewRepository(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unknown repository driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	r := &SQLRepository{db: db, driver: driverName(cfg.Driver)}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return r, nil
}

func driverName(d string) string {
	if d == "" {
		return "sqlite"
	}
	return d
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: %s", err, firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// rebind converts ? placeholders to PostgreSQL's $n form when needed.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// --- transactions ---

type txDetails struct {
	POS       *domain.POSDetails       `json:"pos,omitempty"`
	Ecommerce *domain.EcommerceDetails `json:"ecommerce,omitempty"`
	Wallet    *domain.WalletDetails    `json:"wallet,omitempty"`
}

func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" || tx == nil || tx.ID == "" {
		return domain.ErrInvalidInput
	}
	details, err := json.Marshal(txDetails{POS: tx.POS, Ecommerce: tx.Ecommerce, Wallet: tx.Wallet})
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := r.rebind(`INSERT INTO transactions
		(id, tenant_id, type, channel, amount, currency, user_id, merchant_id,
		 device_id, ip_address, instrument_id, email, country, city,
		 payment_method, timestamp, created_at, details, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO NOTHING`)
	_, err = r.db.ExecContext(ctx, query,
		tx.ID, tenantID, tx.Type, string(tx.Channel), tx.Amount, tx.Currency,
		tx.UserID, tx.MerchantID, tx.DeviceID, tx.IPAddress, tx.InstrumentID,
		tx.Email, tx.Country, tx.City, tx.PaymentMethod,
		tx.Timestamp.UTC(), createdAt.UTC(), string(details), string(metadata))
	return err
}

const txColumns = `id, tenant_id, type, channel, amount, currency, user_id,
	merchant_id, device_id, ip_address, instrument_id, email, country, city,
	payment_method, timestamp, created_at, details, metadata`

func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	query := r.rebind(`SELECT ` + txColumns + ` FROM transactions
		WHERE tenant_id = ? AND id = ?`)
	row := r.db.QueryRowContext(ctx, query, tenantID, txID)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, tenantID string, userID string, since time.Time) ([]*domain.Transaction, error) {
	query := r.rebind(`SELECT ` + txColumns + ` FROM transactions
		WHERE tenant_id = ? AND user_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`)
	return r.queryTransactions(ctx, query, tenantID, userID, since.UTC())
}

func (r *SQLRepository) GetTransactionsByEntity(ctx context.Context, tenantID string, entityID string, since time.Time) ([]*domain.Transaction, error) {
	query := r.rebind(`SELECT ` + txColumns + ` FROM transactions
		WHERE tenant_id = ? AND timestamp >= ?
		  AND (user_id = ? OR merchant_id = ? OR device_id = ?
		       OR ip_address = ? OR instrument_id = ?)
		ORDER BY timestamp ASC`)
	return r.queryTransactions(ctx, query, tenantID, since.UTC(),
		entityID, entityID, entityID, entityID, entityID)
}

func (r *SQLRepository) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		tx               domain.Transaction
		channel          string
		details, meta    sql.NullString
		merchant, device sql.NullString
		ip, instrument   sql.NullString
		email, country   sql.NullString
		city, payMethod  sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.TenantID, &tx.Type, &channel, &tx.Amount,
		&tx.Currency, &tx.UserID, &merchant, &device, &ip, &instrument,
		&email, &country, &city, &payMethod, &tx.Timestamp, &tx.CreatedAt,
		&details, &meta)
	if err != nil {
		return nil, err
	}
	tx.Channel = domain.Channel(channel)
	tx.MerchantID = merchant.String
	tx.DeviceID = device.String
	tx.IPAddress = ip.String
	tx.InstrumentID = instrument.String
	tx.Email = email.String
	tx.Country = country.String
	tx.City = city.String
	tx.PaymentMethod = payMethod.String
	if details.Valid && details.String != "" {
		var d txDetails
		if err := json.Unmarshal([]byte(details.String), &d); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
		tx.POS, tx.Ecommerce, tx.Wallet = d.POS, d.Ecommerce, d.Wallet
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &tx, nil
}

// --- rules ---

func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if tenantID == "" || rule == nil || rule.ID == "" || rule.Condition == "" {
		return domain.ErrInvalidInput
	}
	channels, _ := json.Marshal(rule.Channels)
	allow, _ := json.Marshal(rule.MerchantAllow)
	deny, _ := json.Marshal(rule.MerchantDeny)

	query := r.rebind(`INSERT INTO rules
		(id, tenant_id, name, description, condition, action, risk_score,
		 priority, active, channels, merchant_allow, merchant_deny, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			condition = excluded.condition,
			action = excluded.action,
			risk_score = excluded.risk_score,
			priority = excluded.priority,
			active = excluded.active,
			channels = excluded.channels,
			merchant_allow = excluded.merchant_allow,
			merchant_deny = excluded.merchant_deny`)
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, tenantID, rule.Name, rule.Description, rule.Condition,
		string(rule.Action), rule.RiskScore, rule.Priority, boolInt(rule.Active),
		string(channels), string(allow), string(deny))
	return err
}

const ruleColumns = `id, tenant_id, name, description, condition, action,
	risk_score, priority, active, channels, merchant_allow, merchant_deny,
	hit_count, last_triggered`

func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	query := r.rebind(`SELECT ` + ruleColumns + ` FROM rules
		WHERE tenant_id = ? AND id = ?`)
	rule, err := scanRule(r.db.QueryRowContext(ctx, query, tenantID, ruleID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	query := r.rebind(`SELECT ` + ruleColumns + ` FROM rules
		WHERE tenant_id = ? AND active = 1
		ORDER BY priority DESC, name ASC`)
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row scanner) (*domain.Rule, error) {
	var (
		rule                  domain.Rule
		action                string
		active                int
		desc                  sql.NullString
		channels, allow, deny sql.NullString
		lastTriggered         sql.NullTime
	)
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &desc, &rule.Condition,
		&action, &rule.RiskScore, &rule.Priority, &active, &channels, &allow,
		&deny, &rule.HitCount, &lastTriggered)
	if err != nil {
		return nil, err
	}
	rule.Description = desc.String
	rule.Action = domain.RuleAction(action)
	rule.Active = active != 0
	if err := unmarshalList(channels, &rule.Channels); err != nil {
		return nil, err
	}
	if err := unmarshalList(allow, &rule.MerchantAllow); err != nil {
		return nil, err
	}
	if err := unmarshalList(deny, &rule.MerchantDeny); err != nil {
		return nil, err
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggered = &t
	}
	return &rule, nil
}

func unmarshalList(col sql.NullString, dst interface{}) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func (r *SQLRepository) RecordRuleHit(ctx context.Context, tenantID string, ruleID string, at time.Time) error {
	query := r.rebind(`UPDATE rules
		SET hit_count = hit_count + 1, last_triggered = ?
		WHERE tenant_id = ? AND id = ?`)
	res, err := r.db.ExecContext(ctx, query, at.UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) AppendRuleExecutions(ctx context.Context, tenantID string, execs []domain.RuleExecution) error {
	if len(execs) == 0 {
		return nil
	}
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`INSERT INTO rule_executions
		(id, tenant_id, tx_id, rule_id, triggered, value, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	stmt, err := dbTx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range execs {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		value, _ := json.Marshal(e.Value)
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, id, tenantID, e.TxID, e.RuleID,
			boolInt(e.Triggered), string(value), e.Error, e.DurationMs,
			createdAt.UTC()); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// --- patterns ---

func (r *SQLRepository) UpsertPattern(ctx context.Context, tenantID string, p *domain.Pattern) error {
	if tenantID == "" || p == nil || p.EntityKey == "" || p.Type == "" {
		return domain.ErrInvalidInput
	}
	samples, _ := json.Marshal(p.TxSamples)
	threshold := domain.SuspiciousThreshold(p.Type)
	now := p.LastDetected
	if now.IsZero() {
		now = time.Now().UTC()
	}
	first := p.FirstDetected
	if first.IsZero() {
		first = now
	}

	// On conflict the row's counters advance in SQL, so concurrent
	// detections never lose an increment. The risk score only ever rises,
	// and the suspicious flag flips once the type threshold is crossed.
	query := r.rebind(`INSERT INTO patterns
		(id, tenant_id, entity_key, pattern_type, sub_key, first_detected,
		 last_detected, occurrence_count, risk_score, suspicious, tx_samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_key, pattern_type, sub_key) DO UPDATE SET
			last_detected = excluded.last_detected,
			occurrence_count = patterns.occurrence_count + 1,
			risk_score = CASE
				WHEN patterns.risk_score >= excluded.risk_score
				THEN patterns.risk_score ELSE excluded.risk_score END,
			suspicious = CASE
				WHEN patterns.occurrence_count + 1 >= ? THEN 1
				ELSE patterns.suspicious END,
			tx_samples = excluded.tx_samples`)
	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(), tenantID, p.EntityKey, string(p.Type), p.SubKey,
		first.UTC(), now.UTC(), p.RiskScore,
		boolInt(1 >= threshold), string(samples), threshold)
	return err
}

const patternColumns = `id, tenant_id, entity_key, pattern_type, sub_key,
	first_detected, last_detected, occurrence_count, risk_score, suspicious,
	tx_samples`

func (r *SQLRepository) GetPattern(ctx context.Context, tenantID string, entityKey string, pt domain.PatternType, subKey string) (*domain.Pattern, error) {
	query := r.rebind(`SELECT ` + patternColumns + ` FROM patterns
		WHERE tenant_id = ? AND entity_key = ? AND pattern_type = ? AND sub_key = ?`)
	p, err := scanPattern(r.db.QueryRowContext(ctx, query, tenantID, entityKey, string(pt), subKey))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return p, err
}

func (r *SQLRepository) ListPatternsByEntity(ctx context.Context, tenantID string, entityKey string) ([]*domain.Pattern, error) {
	query := r.rebind(`SELECT ` + patternColumns + ` FROM patterns
		WHERE tenant_id = ? AND entity_key = ?
		ORDER BY last_detected DESC`)
	rows, err := r.db.QueryContext(ctx, query, tenantID, entityKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func scanPattern(row scanner) (*domain.Pattern, error) {
	var (
		p          domain.Pattern
		pt         string
		suspicious int
		samples    sql.NullString
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.EntityKey, &pt, &p.SubKey,
		&p.FirstDetected, &p.LastDetected, &p.OccurrenceCount, &p.RiskScore,
		&suspicious, &samples)
	if err != nil {
		return nil, err
	}
	p.Type = domain.PatternType(pt)
	p.Suspicious = suspicious != 0
	if err := unmarshalList(samples, &p.TxSamples); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- decisions ---

func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, d *domain.DecisionResult) error {
	if tenantID == "" || d == nil || d.ID == "" || d.TxID == "" {
		return domain.ErrInvalidInput
	}
	subScores, _ := json.Marshal(d.SubScores)
	triggered, _ := json.Marshal(d.TriggeredRules)
	hits, _ := json.Marshal(d.VelocityHits)
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := r.rebind(`INSERT INTO decisions
		(id, tenant_id, tx_id, score, decision, flagged, flag_reason,
		 sub_scores, triggered_rules, velocity_hits, process_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, tx_id) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query,
		d.ID, tenantID, d.TxID, d.Score, string(d.Decision), boolInt(d.Flagged),
		d.FlagReason, string(subScores), string(triggered), string(hits),
		d.ProcessMs, createdAt.UTC())
	if err != nil {
		return err
	}
	// Decisions are write-once per transaction.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrConflict
	}
	return nil
}

const decisionColumns = `id, tenant_id, tx_id, score, decision, flagged,
	flag_reason, sub_scores, triggered_rules, velocity_hits, process_ms,
	created_at`

func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, id string) (*domain.DecisionResult, error) {
	query := r.rebind(`SELECT ` + decisionColumns + ` FROM decisions
		WHERE tenant_id = ? AND id = ?`)
	d, err := scanDecision(r.db.QueryRowContext(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func (r *SQLRepository) GetDecisionByTx(ctx context.Context, tenantID string, txID string) (*domain.DecisionResult, error) {
	query := r.rebind(`SELECT ` + decisionColumns + ` FROM decisions
		WHERE tenant_id = ? AND tx_id = ?`)
	d, err := scanDecision(r.db.QueryRowContext(ctx, query, tenantID, txID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func scanDecision(row scanner) (*domain.DecisionResult, error) {
	var (
		d                      domain.DecisionResult
		decision               string
		flagged                int
		reason                 sql.NullString
		subScores, trig, hitsJ sql.NullString
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.TxID, &d.Score, &decision, &flagged,
		&reason, &subScores, &trig, &hitsJ, &d.ProcessMs, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Decision = domain.Decision(decision)
	d.Flagged = flagged != 0
	d.FlagReason = reason.String
	if subScores.Valid && subScores.String != "" {
		if err := json.Unmarshal([]byte(subScores.String), &d.SubScores); err != nil {
			return nil, err
		}
	}
	if err := unmarshalList(trig, &d.TriggeredRules); err != nil {
		return nil, err
	}
	if err := unmarshalList(hitsJ, &d.VelocityHits); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- blocklist ---

func (r *SQLRepository) SaveBlocklistEntry(ctx context.Context, tenantID string, e *domain.BlocklistEntry) error {
	if tenantID == "" || e == nil || e.EntityType == "" || e.Value == "" {
		return domain.ErrInvalidInput
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := r.rebind(`INSERT INTO blocklist_entries
		(tenant_id, entity_type, value, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_type, value) DO UPDATE SET
			reason = excluded.reason`)
	_, err := r.db.ExecContext(ctx, query, tenantID, e.EntityType, e.Value,
		e.Reason, createdAt.UTC())
	return err
}

func (r *SQLRepository) DeleteBlocklistEntry(ctx context.Context, tenantID string, entityType, value string) error {
	query := r.rebind(`DELETE FROM blocklist_entries
		WHERE tenant_id = ? AND entity_type = ? AND value = ?`)
	res, err := r.db.ExecContext(ctx, query, tenantID, entityType, value)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) LookupBlocklist(ctx context.Context, tenantID string, entityType, value string) (*domain.BlocklistEntry, error) {
	query := r.rebind(`SELECT tenant_id, entity_type, value, reason, created_at
		FROM blocklist_entries
		WHERE tenant_id = ? AND entity_type = ? AND value = ?`)
	var (
		e      domain.BlocklistEntry
		reason sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, tenantID, entityType, value).
		Scan(&e.TenantID, &e.EntityType, &e.Value, &reason, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Reason = reason.String
	return &e, nil
}

// --- lifecycle ---

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
