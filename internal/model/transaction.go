package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal digits amounts are stored with.
const AmountScale = 2

type Transaction struct {
	ID        int64           `json:"id"`
	Date      time.Time       `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
	Merchant  string          `json:"merchant"`
	UserID    string          `json:"userId"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// TransactionCreateRequest is one raw CSV row before validation. All fields
// are kept as text so validation can report exactly what was wrong.
type TransactionCreateRequest struct {
	ID       string `validate:"required,numeric"`
	Date     string `validate:"required,isodate"`
	Amount   string `validate:"required,numeric"`
	Merchant string `validate:"required,max=255"`
	UserID   string `validate:"required,max=255"`
}

// ValidationError names the first field of a request that failed a rule.
type ValidationError struct {
	Field string
	Rule  string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s failed %q rule (value %q)", e.Field, e.Rule, e.Value)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := ParseISODate(fl.Field().String())
		return err == nil
	})
	return v
}

func (r TransactionCreateRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Value: fmt.Sprint(fe.Value()),
		}
	}
	return err
}

// ToTransaction converts an already validated request. It still fails on
// values that pass the text rules but do not fit the stored types.
func (r TransactionCreateRequest) ToTransaction() (*Transaction, error) {
	id, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return nil, &ValidationError{Field: "ID", Rule: "int64", Value: r.ID}
	}
	date, err := ParseISODate(r.Date)
	if err != nil {
		return nil, &ValidationError{Field: "Date", Rule: "isodate", Value: r.Date}
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, &ValidationError{Field: "Amount", Rule: "numeric", Value: r.Amount}
	}

	return &Transaction{
		ID:       id,
		Date:     date,
		Amount:   amount.Round(AmountScale),
		Merchant: r.Merchant,
		UserID:   r.UserID,
	}, nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISODate accepts the ISO 8601 shapes found in exported CSV files.
// Values without an offset are read as UTC.
func ParseISODate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO 8601 date: %q", s)
}

// TransactionFilter controls Find queries. Nil fields are not applied.
type TransactionFilter struct {
	UserID   *string
	Merchant *string
	From     *time.Time // inclusive
	To       *time.Time // exclusive
}
