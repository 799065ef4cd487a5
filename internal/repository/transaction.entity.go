package repository

import (
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionEntity struct {
	ID        int64           `db:"id"         gorm:"primaryKey;autoIncrement:false;column:id"`
	Date      time.Time       `db:"date"       gorm:"column:date;not null;index:idx_transactions_user_date,priority:2"`
	Amount    decimal.Decimal `db:"amount"     gorm:"column:amount;type:numeric(10,2);not null"`
	Merchant  string          `db:"merchant"   gorm:"column:merchant;type:varchar(255);not null;index"`
	UserID    string          `db:"user_id"    gorm:"column:user_id;type:varchar(255);not null;index:idx_transactions_user_date,priority:1"`
	CreatedAt time.Time       `db:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time       `db:"updated_at" gorm:"column:updated_at"`
	DeletedAt gorm.DeletedAt  `db:"deleted_at" gorm:"column:deleted_at;index"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:       m.ID,
		Date:     m.Date.UTC(),
		Amount:   m.Amount.Round(model.AmountScale),
		Merchant: m.Merchant,
		UserID:   m.UserID,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:        e.ID,
		Date:      e.Date,
		Amount:    e.Amount.Round(model.AmountScale),
		Merchant:  e.Merchant,
		UserID:    e.UserID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
