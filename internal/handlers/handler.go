package handlers

import (
	"strconv"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	xhttp "github.com/nimasrn/transaction-guard/pkg/http"
)

var (
	writeJSON  = xhttp.WriteJSON
	writeError = xhttp.WriteError
)

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type transactionResponse struct {
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	Amount    string    `json:"amount"`
	Merchant  string    `json:"merchant"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		Date:      t.Date,
		Amount:    t.Amount.StringFixed(model.AmountScale),
		Merchant:  t.Merchant,
		UserID:    t.UserID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
