// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// History windows for graph construction. Entity matching covers both
	// the user and counterparty sides of a transaction.
	GetTransactionsByUser(ctx context.Context, tenantID string, userID string, since time.Time) ([]*Transaction, error)
	GetTransactionsByEntity(ctx context.Context, tenantID string, entityID string, since time.Time) ([]*Transaction, error)

	// Rule operations. ListActiveRules returns only rules with the active
	// flag set; scope filtering (channel, merchant) is the evaluator's job.
	SaveRule(ctx context.Context, tenantID string, rule *Rule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*Rule, error)
	ListActiveRules(ctx context.Context, tenantID string) ([]*Rule, error)

	// RecordRuleHit atomically increments the rule's hit counter and sets
	// last-triggered (last-writer-wins on the timestamp, no lost increments).
	RecordRuleHit(ctx context.Context, tenantID string, ruleID string, at time.Time) error

	// AppendRuleExecutions appends audit rows; the table is append-only.
	AppendRuleExecutions(ctx context.Context, tenantID string, execs []RuleExecution) error

	// Pattern operations. UpsertPattern creates the row on first detection
	// and otherwise increments occurrence count, max's the risk score, and
	// flips the suspicious flag once the type threshold is crossed.
	UpsertPattern(ctx context.Context, tenantID string, p *Pattern) error
	GetPattern(ctx context.Context, tenantID string, entityKey string, pt PatternType, subKey string) (*Pattern, error)
	ListPatternsByEntity(ctx context.Context, tenantID string, entityKey string) ([]*Pattern, error)

	// Decision results, write-once.
	SaveDecision(ctx context.Context, tenantID string, d *DecisionResult) error
	GetDecision(ctx context.Context, tenantID string, id string) (*DecisionResult, error)
	GetDecisionByTx(ctx context.Context, tenantID string, txID string) (*DecisionResult, error)

	// Blocklist entries.
	SaveBlocklistEntry(ctx context.Context, tenantID string, e *BlocklistEntry) error
	DeleteBlocklistEntry(ctx context.Context, tenantID string, entityType, value string) error
	LookupBlocklist(ctx context.Context, tenantID string, entityType, value string) (*BlocklistEntry, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
