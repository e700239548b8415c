package domain

import "time"

// SpendRecord is one row of the spend ledger: the cost of one service on one
// UTC day for one account. Unique per (organization, account, date, service);
// re-syncing the same day overwrites instead of duplicating.
type SpendRecord struct {
	OrganizationID string    `json:"organization_id"`
	AccountID      string    `json:"account_id"`
	Date           time.Time `json:"date"`
	Provider       Provider  `json:"provider"`
	ServiceName    string    `json:"service_name"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
}

// ProviderSpendRow is the normalized row a provider adapter returns for one
// service on one day, before it is attached to an account.
type ProviderSpendRow struct {
	Date        time.Time
	ServiceName string
	AmountCents int64
	Currency    string
}

// NormalizeSpendRow converts an adapter row into a ledger record: the date is
// truncated to UTC midnight and a missing currency defaults to USD.
func NormalizeSpendRow(acct *Account, row ProviderSpendRow) SpendRecord {
	currency := row.Currency
	if currency == "" {
		currency = "USD"
	}
	return SpendRecord{
		OrganizationID: acct.OrganizationID,
		AccountID:      acct.ID,
		Date:           StartOfDayUTC(row.Date),
		Provider:       acct.Provider,
		ServiceName:    row.ServiceName,
		AmountCents:    row.AmountCents,
		Currency:       currency,
	}
}

// DailySpend is an aggregated ledger view used by the spend endpoint.
type DailySpend struct {
	Date        time.Time `json:"date"`
	Provider    Provider  `json:"provider"`
	ServiceName string    `json:"service_name"`
	AmountCents int64     `json:"amount_cents"`
}
