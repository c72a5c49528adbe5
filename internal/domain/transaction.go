package domain

import (
	"time"
)

// Channel identifies the acquisition channel of a transaction.
type Channel string

const (
	ChannelPOS       Channel = "pos"
	ChannelEcommerce Channel = "ecommerce"
	ChannelWallet    Channel = "wallet"
)

// Transaction is the input record to the decision pipeline.
// It is produced by the surrounding application before decisioning starts
// and is never mutated by the pipeline.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Transaction type (e.g., "purchase", "transfer", "withdrawal", "refund", "deposit")
	Type    string  `json:"type"`
	Channel Channel `json:"channel"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Parties and devices
	UserID       string `json:"userId"`
	MerchantID   string `json:"merchantId,omitempty"`
	DeviceID     string `json:"deviceId,omitempty"`
	IPAddress    string `json:"ipAddress,omitempty"`
	InstrumentID string `json:"instrumentId,omitempty"` // hashed payment instrument
	Email        string `json:"email,omitempty"`

	// Free-form location and payment-method attributes
	Country       string `json:"country,omitempty"`
	City          string `json:"city,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Channel-specific extras (at most one set, tagged by Channel)
	POS       *POSDetails       `json:"pos,omitempty"`
	Ecommerce *EcommerceDetails `json:"ecommerce,omitempty"`
	Wallet    *WalletDetails    `json:"wallet,omitempty"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// POSDetails carries fields specific to card-present transactions.
type POSDetails struct {
	TerminalID  string `json:"terminalId"`
	EntryMode   string `json:"entryMode"` // chip, swipe, contactless, manual
	CardPresent bool   `json:"cardPresent"`
}

// EcommerceDetails carries fields specific to card-not-present transactions.
type EcommerceDetails struct {
	WebsiteURL  string `json:"websiteUrl,omitempty"`
	Is3DSecure  bool   `json:"is3dSecure"`
	BrowserInfo string `json:"browserInfo,omitempty"`
}

// WalletDetails carries fields specific to wallet-to-wallet movements.
type WalletDetails struct {
	WalletType     string `json:"walletType,omitempty"`
	CounterpartyID string `json:"counterpartyId,omitempty"`
}

// CounterpartyKind classifies the non-user party of a transaction.
type CounterpartyKind string

const (
	CounterpartyMerchant CounterpartyKind = "merchant"
	CounterpartyWallet   CounterpartyKind = "wallet"
	CounterpartyBank     CounterpartyKind = "bank"
)

// MetaCounterpartyAccount is the metadata key carrying the external bank
// account on bank transfers, which have no merchant or wallet party.
const MetaCounterpartyAccount = "counterparty_account"

// Counterparty returns the kind and identifier of the non-user party, if any.
func (t *Transaction) Counterparty() (CounterpartyKind, string, bool) {
	if t.MerchantID != "" {
		return CounterpartyMerchant, t.MerchantID, true
	}
	if t.Wallet != nil && t.Wallet.CounterpartyID != "" {
		return CounterpartyWallet, t.Wallet.CounterpartyID, true
	}
	if acct, ok := t.Metadata[MetaCounterpartyAccount].(string); ok && acct != "" {
		return CounterpartyBank, acct, true
	}
	return "", "", false
}

// Outbound reports whether funds move away from the user.
func (t *Transaction) Outbound() bool {
	switch t.Type {
	case "deposit", "refund", "payout":
		return false
	default:
		return true
	}
}
