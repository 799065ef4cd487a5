package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txn(id int64, user, merchant, amount string, date time.Time) *model.Transaction {
	return &model.Transaction{
		ID:       id,
		Date:     date,
		Amount:   decimal.RequireFromString(amount),
		Merchant: merchant,
		UserID:   user,
	}
}

func TestTransactionRepository_InsertOrIgnore(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("inserts new rows", func(t *testing.T) {
		n, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
			txn(1, "u1", "Amazon", "10.00", day),
			txn(2, "u1", "Ebay", "20.00", day),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("duplicate id keeps the first row", func(t *testing.T) {
		n, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
			txn(1, "u2", "Other", "999.00", day.Add(time.Hour)),
			txn(3, "u1", "Shop", "30.00", day),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := repo.Find(ctx, model.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)

		first := all[0]
		assert.Equal(t, int64(1), first.ID)
		assert.Equal(t, "u1", first.UserID)
		assert.Equal(t, "Amazon", first.Merchant)
		assert.Equal(t, "10.00", first.Amount.StringFixed(2))
	})

	t.Run("replaying the same batch inserts nothing", func(t *testing.T) {
		batch := []*model.Transaction{
			txn(1, "u1", "Amazon", "10.00", day),
			txn(2, "u1", "Ebay", "20.00", day),
		}
		n, err := repo.InsertOrIgnore(ctx, batch)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("duplicate ids inside one batch", func(t *testing.T) {
		n, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
			txn(10, "u3", "First", "1.00", day),
			txn(10, "u3", "Second", "2.00", day),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		u := "u3"
		rows, err := repo.Find(ctx, model.TransactionFilter{UserID: &u})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "First", rows[0].Merchant)
	})

	t.Run("empty input", func(t *testing.T) {
		n, err := repo.InsertOrIgnore(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestTransactionRepository_AmountPrecision(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
		txn(1, "u1", "A", "12.345", day),
		txn(2, "u1", "A", "7", day),
		txn(3, "u1", "A", "0.1", day),
	})
	require.NoError(t, err)

	rows, err := repo.Find(ctx, model.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	got := map[int64]string{}
	for _, r := range rows {
		got[r.ID] = r.Amount.StringFixed(2)
	}
	assert.Equal(t, map[int64]string{1: "12.35", 2: "7.00", 3: "0.10"}, got)
}

func TestTransactionRepository_Find(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
		txn(3, "u1", "Amazon", "1", base.Add(2*time.Hour)),
		txn(1, "u1", "Ebay", "1", base),
		txn(2, "u2", "Amazon", "1", base.Add(time.Hour)),
		txn(4, "u2", "Ebay", "1", base.AddDate(0, 0, 2)),
	})
	require.NoError(t, err)

	t.Run("ordered by date", func(t *testing.T) {
		rows, err := repo.Find(ctx, model.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, []int64{1, 2, 3, 4}, ids(rows))
	})

	t.Run("by user and merchant", func(t *testing.T) {
		u, m := "u2", "Amazon"
		rows, err := repo.Find(ctx, model.TransactionFilter{UserID: &u, Merchant: &m})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, ids(rows))
	})

	t.Run("by date range", func(t *testing.T) {
		from := base.Add(time.Hour)
		to := base.AddDate(0, 0, 1)
		rows, err := repo.Find(ctx, model.TransactionFilter{From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, ids(rows))
	})
}

func TestTransactionRepository_SoftDelete(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
		txn(1, "u1", "A", "20000", day),
		txn(2, "u1", "A", "1", day),
	})
	require.NoError(t, err)

	require.NoError(t, repo.SoftDelete(ctx, 1))
	assert.ErrorIs(t, repo.SoftDelete(ctx, 1), ErrNotFound)
	assert.ErrorIs(t, repo.SoftDelete(ctx, 99), ErrNotFound)

	rows, err := repo.Find(ctx, model.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(rows))

	high, err := repo.HighAmountIDs(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Empty(t, high)

	// the id stays taken after deletion
	n, err := repo.InsertOrIgnore(ctx, []*model.Transaction{txn(1, "u9", "B", "5", day)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransactionRepository_VolumeByPeriod(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

	_, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
		txn(1, "u1", "A", "1", now.Add(-time.Hour)),
		txn(2, "u1", "A", "1", now.Add(-3*24*time.Hour)),
		txn(3, "u1", "A", "1", now.AddDate(0, 0, -20)),
		txn(4, "u1", "A", "1", now.AddDate(0, -2, 0)),
	})
	require.NoError(t, err)

	v, err := repo.VolumeByPeriod(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, model.VolumeByPeriod{
		TransactionsLastDay:   1,
		TransactionsLastWeek:  2,
		TransactionsLastMonth: 3,
	}, v)
}

func TestTransactionRepository_TopMerchants(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	var batch []*model.Transaction
	id := int64(1)
	// merchant m00 has 12 rows, m01 has 11, ... m11 has 1
	for m := 0; m < 12; m++ {
		for i := 0; i < 12-m; i++ {
			batch = append(batch, txn(id, "u1", merchantName(m), "1", day))
			id++
		}
	}
	// tie with m02 (10 rows), broken by name
	for i := 0; i < 10; i++ {
		batch = append(batch, txn(id, "u1", "a-tie", "1", day))
		id++
	}
	_, err := repo.InsertOrIgnore(ctx, batch)
	require.NoError(t, err)

	top, err := repo.TopMerchants(ctx)
	require.NoError(t, err)
	require.Len(t, top, 10)
	assert.Equal(t, "m00", top[0].Merchant)
	assert.Equal(t, int64(12), top[0].Count)
	assert.Equal(t, "m01", top[1].Merchant)
	assert.Equal(t, "a-tie", top[2].Merchant)
	assert.Equal(t, "m02", top[3].Merchant)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Count, top[i].Count)
	}
}

func TestTransactionRepository_HighAmountAndActivity(t *testing.T) {
	repo := NewTransactionRepository(NewTestDB(t))
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.InsertOrIgnore(ctx, []*model.Transaction{
		txn(1, "u1", "A", "15000", day),
		txn(2, "u1", "A", "50", day.Add(time.Minute)),
		txn(3, "u2", "A", "10000", day),
		txn(4, "u2", "A", "10000.01", day),
	})
	require.NoError(t, err)

	high, err := repo.HighAmountIDs(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, high)

	acts, err := repo.Activity(ctx)
	require.NoError(t, err)
	require.Len(t, acts, 4)
	assert.Equal(t, "u1", acts[0].UserID)
	assert.Equal(t, int64(1), acts[0].ID)
	assert.True(t, acts[1].Date.Equal(day.Add(time.Minute)))
}

func ids(rows []*model.Transaction) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func merchantName(i int) string {
	return "m" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}
