package rules

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// Project flattens a transaction into the record rule conditions evaluate
// against. The field set is deterministic per channel: every channel gets
// the base fields; channel-specific extras are added under fixed names.
// Metadata entries are merged last under their own keys and cannot shadow
// base fields.
func Project(tx *domain.Transaction) map[string]interface{} {
	record := map[string]interface{}{
		"id":             tx.ID,
		"type":           tx.Type,
		"channel":        string(tx.Channel),
		"amount":         tx.Amount,
		"currency":       tx.Currency,
		"timestamp":      tx.Timestamp.Unix(),
		"hour":           tx.Timestamp.UTC().Hour(),
		"weekday":        int(tx.Timestamp.UTC().Weekday()),
		"user_id":        tx.UserID,
		"merchant_id":    tx.MerchantID,
		"device_id":      tx.DeviceID,
		"ip_address":     tx.IPAddress,
		"instrument_id":  tx.InstrumentID,
		"email":          tx.Email,
		"country":        tx.Country,
		"city":           tx.City,
		"payment_method": tx.PaymentMethod,
	}

	switch tx.Channel {
	case domain.ChannelPOS:
		record["terminal_id"] = ""
		record["entry_mode"] = ""
		record["card_present"] = false
		if tx.POS != nil {
			record["terminal_id"] = tx.POS.TerminalID
			record["entry_mode"] = tx.POS.EntryMode
			record["card_present"] = tx.POS.CardPresent
		}
	case domain.ChannelEcommerce:
		record["website_url"] = ""
		record["is_3d_secure"] = false
		record["browser_info"] = ""
		if tx.Ecommerce != nil {
			record["website_url"] = tx.Ecommerce.WebsiteURL
			record["is_3d_secure"] = tx.Ecommerce.Is3DSecure
			record["browser_info"] = tx.Ecommerce.BrowserInfo
		}
	case domain.ChannelWallet:
		record["wallet_type"] = ""
		record["counterparty_id"] = ""
		if tx.Wallet != nil {
			record["wallet_type"] = tx.Wallet.WalletType
			record["counterparty_id"] = tx.Wallet.CounterpartyID
		}
	}

	for k, v := range tx.Metadata {
		if _, exists := record[k]; !exists {
			record[k] = v
		}
	}

	return record
}
