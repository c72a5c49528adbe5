package domain

import "time"

// Blocklist entity types, in lookup priority order.
const (
	BlockEntityUser       = "user"
	BlockEntityDevice     = "device"
	BlockEntityIP         = "ip"
	BlockEntityMerchant   = "merchant"
	BlockEntityInstrument = "instrument"
	BlockEntityEmail      = "email"
)

// BlocklistPriority is the fixed order in which transaction identifiers are
// checked against the blocklist; the first match wins.
var BlocklistPriority = []string{
	BlockEntityUser,
	BlockEntityDevice,
	BlockEntityIP,
	BlockEntityMerchant,
	BlockEntityInstrument,
	BlockEntityEmail,
}

// BlocklistEntry is one deny-listed identifier.
type BlocklistEntry struct {
	TenantID   string    `json:"tenantId"`
	EntityType string    `json:"entityType"`
	Value      string    `json:"value"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}
