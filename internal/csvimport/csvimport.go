// Package csvimport turns uploaded CSV files into validated transactions.
//
// A file is accepted only as a whole: the first malformed row fails the
// entire file and no transaction of it is returned.
package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nimasrn/transaction-guard/internal/model"
)

const (
	ColumnTransactionID = "transaction_id"
	ColumnDate          = "date"
	ColumnAmount        = "amount"
	ColumnMerchant      = "merchant"
	ColumnUserID        = "user_id"
)

var requiredColumns = []string{ColumnTransactionID, ColumnDate, ColumnAmount, ColumnMerchant, ColumnUserID}

var (
	ErrEmptyFile     = errors.New("csv file is empty")
	ErrMissingColumn = errors.New("csv header is missing a required column")
	ErrInvalidRecord = errors.New("invalid csv record")
)

// RecordError reports the first row that could not be parsed or validated.
// Line is 1-based and counts the header.
type RecordError struct {
	Line  int
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Field, e.Err)
}

func (e *RecordError) Unwrap() []error {
	return []error{ErrInvalidRecord, e.Err}
}

// Row is one data row of the file together with its line number.
type Row struct {
	Line    int
	Request model.TransactionCreateRequest
}

// Parse reads the whole file. Columns are located by header name, so their
// order does not matter and unknown columns are ignored.
func Parse(data []byte) ([]Row, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns, err := columnMap(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			line := 0
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, &RecordError{Line: line, Err: err}
		}

		line, _ := r.FieldPos(0)
		rows = append(rows, Row{
			Line: line,
			Request: model.TransactionCreateRequest{
				ID:       field(record, columns, ColumnTransactionID),
				Date:     field(record, columns, ColumnDate),
				Amount:   field(record, columns, ColumnAmount),
				Merchant: field(record, columns, ColumnMerchant),
				UserID:   field(record, columns, ColumnUserID),
			},
		})
	}

	return rows, nil
}

// Validate checks every row and converts it. It stops at the first invalid
// row and returns its RecordError without any transactions.
func Validate(rows []Row) ([]*model.Transaction, error) {
	out := make([]*model.Transaction, 0, len(rows))
	for _, row := range rows {
		if err := row.Request.Validate(); err != nil {
			return nil, recordError(row.Line, err)
		}
		t, err := row.Request.ToTransaction()
		if err != nil {
			return nil, recordError(row.Line, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func recordError(line int, err error) error {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return &RecordError{Line: line, Field: columnForField(verr.Field), Err: err}
	}
	return &RecordError{Line: line, Err: err}
}

func columnMap(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return columns, nil
}

func field(record []string, columns map[string]int, name string) string {
	return strings.TrimSpace(record[columns[name]])
}

func columnForField(f string) string {
	switch f {
	case "ID":
		return ColumnTransactionID
	case "Date":
		return ColumnDate
	case "Amount":
		return ColumnAmount
	case "Merchant":
		return ColumnMerchant
	case "UserID":
		return ColumnUserID
	}
	return f
}
