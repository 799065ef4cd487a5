package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/pkg/pg"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a transaction does not exist or was deleted.
	ErrNotFound = errors.New("transaction not found")
)

const insertBatchSize = 500

const topMerchantsLimit = 10

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

// InsertOrIgnore stores all transactions in one database transaction. Rows
// whose id is already taken, soft deleted ones included, are skipped and the
// stored row is left untouched. It returns the number of rows inserted.
func (r *TransactionRepository) InsertOrIgnore(ctx context.Context, txns []*model.Transaction) (int64, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	entities := make([]*TransactionEntity, len(txns))
	for i, t := range txns {
		entities[i] = toTransactionEntity(t)
	}

	var inserted int64
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		res := r.Write(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
			CreateInBatches(entities, insertBatchSize)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *TransactionRepository) Find(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	q := r.Read(ctx).Model(&TransactionEntity{})

	if f.UserID != nil && *f.UserID != "" {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Merchant != nil && *f.Merchant != "" {
		q = q.Where("merchant = ?", *f.Merchant)
	}
	if f.From != nil {
		q = q.Where("date >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("date < ?", f.To.UTC())
	}

	var entities []*TransactionEntity
	if err := q.Order("date ASC").Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// SoftDelete hides the transaction from every read path. The id stays taken.
func (r *TransactionRepository) SoftDelete(ctx context.Context, id int64) error {
	res := r.Write(ctx).Delete(&TransactionEntity{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// VolumeByPeriod counts transactions dated within the last day, week and
// calendar month before now.
func (r *TransactionRepository) VolumeByPeriod(ctx context.Context, now time.Time) (model.VolumeByPeriod, error) {
	now = now.UTC()
	var row struct {
		LastDay   int64
		LastWeek  int64
		LastMonth int64
	}
	err := r.Read(ctx).Model(&TransactionEntity{}).
		Select(
			"COUNT(CASE WHEN date >= ? THEN 1 END) AS last_day, "+
				"COUNT(CASE WHEN date >= ? THEN 1 END) AS last_week, "+
				"COUNT(CASE WHEN date >= ? THEN 1 END) AS last_month",
			now.Add(-24*time.Hour), now.AddDate(0, 0, -7), now.AddDate(0, -1, 0),
		).
		Scan(&row).Error
	if err != nil {
		return model.VolumeByPeriod{}, err
	}
	return model.VolumeByPeriod{
		TransactionsLastDay:   row.LastDay,
		TransactionsLastWeek:  row.LastWeek,
		TransactionsLastMonth: row.LastMonth,
	}, nil
}

// TopMerchants returns up to ten merchants by transaction count. Ties are
// ordered by merchant name.
func (r *TransactionRepository) TopMerchants(ctx context.Context) ([]model.MerchantVolume, error) {
	var rows []model.MerchantVolume
	err := r.Read(ctx).Model(&TransactionEntity{}).
		Select("merchant, COUNT(*) AS count").
		Group("merchant").
		Order("count DESC").
		Order("merchant ASC").
		Limit(topMerchantsLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// HighAmountIDs returns the ids of transactions with amount strictly above threshold.
func (r *TransactionRepository) HighAmountIDs(ctx context.Context, threshold decimal.Decimal) ([]int64, error) {
	var ids []int64
	err := r.Read(ctx).Model(&TransactionEntity{}).
		Where("amount > ?", threshold).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Activity returns id, user and date of every stored transaction.
func (r *TransactionRepository) Activity(ctx context.Context) ([]model.TransactionActivity, error) {
	var rows []model.TransactionActivity
	err := r.Read(ctx).Model(&TransactionEntity{}).
		Select("id, user_id, date").
		Order("user_id ASC").
		Order("date ASC").
		Order("id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
