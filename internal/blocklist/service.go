// Package blocklist performs the ordered deny-list check that gates the
// decision pipeline. Lookups fail closed: a storage error surfaces as a
// hard error instead of letting the transaction through unchecked.
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Store is the persistence surface the checker needs.
type Store interface {
	LookupBlocklist(ctx context.Context, tenantID string, entityType, value string) (*domain.BlocklistEntry, error)
}

const verdictTTL = 30 * time.Second

// Checker runs the ordered lookup, with a short-lived cached verdict per
// (entity type, value) pair in front of the store.
type Checker struct {
	store  Store
	cache  domain.Cache // nil disables verdict caching
	logger *slog.Logger
}

// NewChecker creates a checker. The cache may be nil.
func NewChecker(store Store, cache domain.Cache, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: store, cache: cache, logger: logger.With("component", "blocklist")}
}

// Check tests the transaction's identifiers against the blocklist in fixed
// priority order and returns the first hit. Any lookup error aborts the
// check; the caller must treat that as fatal for the transaction.
func (c *Checker) Check(ctx context.Context, tx *domain.Transaction) (*domain.BlocklistResult, error) {
	for _, entityType := range domain.BlocklistPriority {
		value := identifierFor(tx, entityType)
		if value == "" {
			continue
		}
		res, err := c.lookup(ctx, tx.TenantID, entityType, value)
		if err != nil {
			return nil, fmt.Errorf("blocklist lookup %s %q: %w", entityType, value, err)
		}
		if res.Blocked {
			return res, nil
		}
	}
	return &domain.BlocklistResult{Blocked: false}, nil
}

func (c *Checker) lookup(ctx context.Context, tenantID, entityType, value string) (*domain.BlocklistResult, error) {
	if c.cache != nil {
		cached, err := c.cache.GetBlocklistVerdict(ctx, tenantID, entityType, value)
		if err != nil {
			// Cache trouble is not a reason to fail the check; the
			// store below remains authoritative.
			c.logger.Warn("verdict cache read failed",
				"tenant_id", tenantID, "entity_type", entityType, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	entry, err := c.store.LookupBlocklist(ctx, tenantID, entityType, value)
	var res *domain.BlocklistResult
	switch {
	case errors.Is(err, domain.ErrNotFound):
		res = &domain.BlocklistResult{Blocked: false}
	case err != nil:
		return nil, err
	default:
		res = &domain.BlocklistResult{
			Blocked:    true,
			EntityType: entry.EntityType,
			Value:      entry.Value,
			Reason:     entry.Reason,
		}
	}

	if c.cache != nil {
		if err := c.cache.SetBlocklistVerdict(ctx, tenantID, entityType, value, res, verdictTTL); err != nil {
			c.logger.Warn("verdict cache write failed",
				"tenant_id", tenantID, "entity_type", entityType, "error", err)
		}
	}
	return res, nil
}

func identifierFor(tx *domain.Transaction, entityType string) string {
	switch entityType {
	case domain.BlockEntityUser:
		return tx.UserID
	case domain.BlockEntityDevice:
		return tx.DeviceID
	case domain.BlockEntityIP:
		return tx.IPAddress
	case domain.BlockEntityMerchant:
		return tx.MerchantID
	case domain.BlockEntityInstrument:
		return tx.InstrumentID
	case domain.BlockEntityEmail:
		return tx.Email
	default:
		return ""
	}
}
