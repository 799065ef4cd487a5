package model

type VolumeByPeriod struct {
	TransactionsLastDay   int64 `json:"transactionsLastDay"`
	TransactionsLastWeek  int64 `json:"transactionsLastWeek"`
	TransactionsLastMonth int64 `json:"transactionsLastMonth"`
}

type MerchantVolume struct {
	Merchant string
	Count    int64
}
