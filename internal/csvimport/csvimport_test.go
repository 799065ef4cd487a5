package csvimport

import (
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("header order does not matter", func(t *testing.T) {
		data := []byte("user_id,amount,transaction_id,merchant,date\n" +
			"u1,12.50,1,Amazon,2024-03-01T10:00:00Z\n" +
			"u2, 7 ,2,\"Ebay, Inc\",2024-03-02\n")

		rows, err := Parse(data)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, 2, rows[0].Line)
		assert.Equal(t, model.TransactionCreateRequest{
			ID: "1", Date: "2024-03-01T10:00:00Z", Amount: "12.50", Merchant: "Amazon", UserID: "u1",
		}, rows[0].Request)
		assert.Equal(t, "Ebay, Inc", rows[1].Request.Merchant)
		assert.Equal(t, "7", rows[1].Request.Amount)
	})

	t.Run("extra columns and BOM", func(t *testing.T) {
		data := []byte("\ufeffTransaction_ID,date,amount,merchant,user_id,note\n1,2024-03-01,1,A,u1,hello\n")
		rows, err := Parse(data)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "1", rows[0].Request.ID)
	})

	t.Run("header only", func(t *testing.T) {
		rows, err := Parse([]byte("transaction_id,date,amount,merchant,user_id\n"))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := Parse(nil)
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := Parse([]byte("transaction_id,date,amount,merchant\n1,2024-03-01,1,A\n"))
		assert.ErrorIs(t, err, ErrMissingColumn)
		assert.Contains(t, err.Error(), "user_id")
	})

	t.Run("wrong number of fields", func(t *testing.T) {
		_, err := Parse([]byte("transaction_id,date,amount,merchant,user_id\n1,2024-03-01,1,A\n"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRecord)

		var rerr *RecordError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, 2, rerr.Line)
	})
}

func TestValidate(t *testing.T) {
	valid := func(id string) Row {
		return Row{Line: 2, Request: model.TransactionCreateRequest{
			ID: id, Date: "2024-03-01T10:00:00Z", Amount: "10.005", Merchant: "A", UserID: "u1",
		}}
	}

	t.Run("converts valid rows", func(t *testing.T) {
		txs, err := Validate([]Row{valid("1"), valid("2")})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, int64(1), txs[0].ID)
		assert.Equal(t, "10.01", txs[0].Amount.StringFixed(2))
		assert.True(t, txs[0].Date.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	})

	t.Run("accepts signed ids", func(t *testing.T) {
		txs, err := Validate([]Row{valid("-5"), valid("+7")})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, int64(-5), txs[0].ID)
		assert.Equal(t, int64(7), txs[1].ID)
	})

	cases := []struct {
		name   string
		mutate func(r *model.TransactionCreateRequest)
		column string
	}{
		{"non numeric id", func(r *model.TransactionCreateRequest) { r.ID = "abc" }, ColumnTransactionID},
		{"fractional id", func(r *model.TransactionCreateRequest) { r.ID = "1.5" }, ColumnTransactionID},
		{"id overflows", func(r *model.TransactionCreateRequest) { r.ID = "99999999999999999999" }, ColumnTransactionID},
		{"bad date", func(r *model.TransactionCreateRequest) { r.Date = "yesterday" }, ColumnDate},
		{"non numeric amount", func(r *model.TransactionCreateRequest) { r.Amount = "12,5" }, ColumnAmount},
		{"empty merchant", func(r *model.TransactionCreateRequest) { r.Merchant = "" }, ColumnMerchant},
		{"empty user", func(r *model.TransactionCreateRequest) { r.UserID = "" }, ColumnUserID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bad := valid("9")
			bad.Line = 5
			tc.mutate(&bad.Request)

			txs, err := Validate([]Row{valid("1"), bad})
			require.Error(t, err)
			assert.Nil(t, txs)
			assert.ErrorIs(t, err, ErrInvalidRecord)

			var rerr *RecordError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, 5, rerr.Line)
			assert.Equal(t, tc.column, rerr.Field)
		})
	}
}

func TestParseAndValidate_WholeFileRejected(t *testing.T) {
	data := []byte("transaction_id,date,amount,merchant,user_id\n" +
		"1,2024-03-01T10:00:00Z,10,A,u1\n" +
		"2,2024-03-01T10:01:00Z,20,B,u1\n" +
		"3,2024-03-01T10:02:00Z,30,C,u1\n" +
		"4,2024-03-01T10:03:00Z,lots,D,u1\n")

	rows, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	txs, err := Validate(rows)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Empty(t, txs)

	var rerr *RecordError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 5, rerr.Line)
	assert.Equal(t, ColumnAmount, rerr.Field)
}
