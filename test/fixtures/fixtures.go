package fixtures

import (
	"fmt"
	"strings"
	"time"
)

const Header = "transaction_id,date,amount,merchant,user_id"

// Row is one line of an uploaded transactions file.
type Row struct {
	ID       int64
	Date     time.Time
	Amount   string
	Merchant string
	UserID   string
}

func (r Row) String() string {
	return fmt.Sprintf("%d,%s,%s,%s,%s", r.ID, r.Date.UTC().Format(time.RFC3339), r.Amount, r.Merchant, r.UserID)
}

// CSV renders rows under the standard header.
func CSV(rows ...Row) []byte {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

var Base = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// FraudScenario holds one transaction for each detector plus quiet noise:
//
//	1       amount above the default threshold
//	2, 3    one user twice within the same minute
//	10..20  eleven transactions of one user on one day
//	4       an ordinary transaction
func FraudScenario() []Row {
	rows := []Row{
		{ID: 1, Date: Base, Amount: "15000.00", Merchant: "Jewelry Hub", UserID: "u1"},
		{ID: 2, Date: Base.Add(2 * time.Hour), Amount: "20.00", Merchant: "Coffee Corner", UserID: "u2"},
		{ID: 3, Date: Base.Add(2*time.Hour + 30*time.Second), Amount: "35.50", Merchant: "Book Nook", UserID: "u2"},
		{ID: 4, Date: Base.Add(-48 * time.Hour), Amount: "12.00", Merchant: "Coffee Corner", UserID: "u5"},
	}
	for i := 0; i < 11; i++ {
		rows = append(rows, Row{
			ID:       int64(10 + i),
			Date:     Base.Add(4*time.Hour + time.Duration(i)*5*time.Minute),
			Amount:   "9.99",
			Merchant: "Game Store",
			UserID:   "u3",
		})
	}
	return rows
}

var MalformedCSV = []byte(Header + "\n1,2024-03-10T09:00:00Z,not-a-number,Shop,u1\n")

var MissingColumnCSV = []byte("transaction_id,date,amount,merchant\n1,2024-03-10T09:00:00Z,10.00,Shop\n")
