package model

import "time"

const (
	ReasonHighAmount     = "High transaction amount"
	ReasonHighDailyCount = "High transactions count in a day"
	ReasonSimultaneous   = "Simultaneous transactions"
)

type FlaggedTransaction struct {
	ID int64 `json:"id"`
}

type FraudEntry struct {
	Reason       string               `json:"reason"`
	Transactions []FlaggedTransaction `json:"transactions"`
}

type FraudReport struct {
	PossibleFraudalentTransactions []FraudEntry `json:"possibleFraudalentTransactions"`
}

// NewFraudEntry never yields a nil list so an empty entry encodes as [].
func NewFraudEntry(reason string, ids []int64) FraudEntry {
	txs := make([]FlaggedTransaction, 0, len(ids))
	for _, id := range ids {
		txs = append(txs, FlaggedTransaction{ID: id})
	}
	return FraudEntry{Reason: reason, Transactions: txs}
}

// TransactionActivity is the slice of a transaction the time based
// detectors need.
type TransactionActivity struct {
	ID     int64
	UserID string
	Date   time.Time
}
