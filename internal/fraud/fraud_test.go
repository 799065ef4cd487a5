package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func act(id int64, user string, at time.Time) model.TransactionActivity {
	return model.TransactionActivity{ID: id, UserID: user, Date: at}
}

func TestDetectHighDailyCount(t *testing.T) {
	var activity []model.TransactionActivity
	for i := int64(1); i <= 11; i++ {
		activity = append(activity, act(i, "u1", day.Add(time.Duration(i)*time.Minute)))
	}
	activity = append(activity, act(12, "u1", day.AddDate(0, 0, 1)))

	flagged := DetectHighDailyCount(activity, 10, time.UTC)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, flagged)

	t.Run("exactly threshold is not flagged", func(t *testing.T) {
		assert.Empty(t, DetectHighDailyCount(activity[:10], 10, time.UTC))
	})

	t.Run("groups by user", func(t *testing.T) {
		var mixed []model.TransactionActivity
		for i := int64(1); i <= 11; i++ {
			user := "u1"
			if i%2 == 0 {
				user = "u2"
			}
			mixed = append(mixed, act(i, user, day))
		}
		assert.Empty(t, DetectHighDailyCount(mixed, 10, time.UTC))
	})

	t.Run("day boundary follows the location", func(t *testing.T) {
		// 23:30 UTC on Mar 1 is already Mar 2 in Tehran
		tehran := time.FixedZone("IRST", 3*3600+1800)
		late := []model.TransactionActivity{
			act(1, "u1", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
			act(2, "u1", time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)),
		}
		assert.Equal(t, []int64{1, 2}, DetectHighDailyCount(late, 1, time.UTC))
		assert.Empty(t, DetectHighDailyCount(late, 1, tehran))
	})

	t.Run("empty input", func(t *testing.T) {
		flagged := DetectHighDailyCount(nil, 10, nil)
		assert.NotNil(t, flagged)
		assert.Empty(t, flagged)
	})
}

func TestDetectSimultaneous(t *testing.T) {
	tests := []struct {
		name     string
		activity []model.TransactionActivity
		want     []int64
	}{
		{
			name:     "30 seconds apart",
			activity: []model.TransactionActivity{act(1, "u1", day), act(2, "u1", day.Add(30*time.Second))},
			want:     []int64{1, 2},
		},
		{
			name:     "120 seconds apart",
			activity: []model.TransactionActivity{act(1, "u1", day), act(2, "u1", day.Add(120*time.Second))},
			want:     []int64{},
		},
		{
			name:     "window is inclusive",
			activity: []model.TransactionActivity{act(1, "u1", day), act(2, "u1", day.Add(60*time.Second))},
			want:     []int64{1, 2},
		},
		{
			name:     "different users never pair",
			activity: []model.TransactionActivity{act(1, "u1", day), act(2, "u2", day)},
			want:     []int64{},
		},
		{
			name: "chain and loner",
			activity: []model.TransactionActivity{
				act(5, "u1", day.Add(100*time.Second)),
				act(3, "u1", day),
				act(4, "u1", day.Add(50*time.Second)),
				act(9, "u1", day.Add(10*time.Minute)),
			},
			want: []int64{3, 4, 5},
		},
		{
			name:     "same timestamp",
			activity: []model.TransactionActivity{act(7, "u3", day), act(8, "u3", day)},
			want:     []int64{7, 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectSimultaneous(tt.activity, 60*time.Second))
		})
	}
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) HighAmountIDs(ctx context.Context, threshold decimal.Decimal) ([]int64, error) {
	args := m.Called(ctx, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockStore) Activity(ctx context.Context) ([]model.TransactionActivity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TransactionActivity), args.Error(1)
}

func TestEngine_Report_StoreError(t *testing.T) {
	store := new(MockStore)
	store.On("HighAmountIDs", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	store.On("Activity", mock.Anything).Return([]model.TransactionActivity{}, nil).Maybe()

	_, err := NewEngine(store, DefaultConfig()).Report(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestEngine_Report_EmptyStore(t *testing.T) {
	store := new(MockStore)
	store.On("HighAmountIDs", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("Activity", mock.Anything).Return(nil, nil)

	report, err := NewEngine(store, DefaultConfig()).Report(context.Background())
	require.NoError(t, err)

	body, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"possibleFraudalentTransactions":[
		{"reason":"High transaction amount","transactions":[]},
		{"reason":"High transactions count in a day","transactions":[]},
		{"reason":"Simultaneous transactions","transactions":[]}]}`, string(body))
}

func TestEngine_Report_FromRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTransactionRepository(repository.NewTestDB(t))

	txn := func(id int64, user, amount string, at time.Time) *model.Transaction {
		return &model.Transaction{ID: id, UserID: user, Merchant: "Amazon", Amount: decimal.RequireFromString(amount), Date: at}
	}

	txns := []*model.Transaction{
		txn(1, "u1", "15000", day),
		txn(2, "u1", "50", day.Add(30*time.Second)),
		txn(3, "u2", "10000", day.AddDate(0, 0, 1)),
	}
	for i := int64(100); i < 111; i++ {
		txns = append(txns, txn(i, "u3", "1", day.Add(time.Duration(i)*2*time.Minute)))
	}
	_, err := repo.InsertOrIgnore(ctx, txns)
	require.NoError(t, err)

	report, err := NewEngine(repo, DefaultConfig()).Report(ctx)
	require.NoError(t, err)

	entries := report.PossibleFraudalentTransactions
	require.Len(t, entries, 3)

	ids := func(e model.FraudEntry) []int64 {
		out := make([]int64, 0, len(e.Transactions))
		for _, tx := range e.Transactions {
			out = append(out, tx.ID)
		}
		return out
	}

	assert.Equal(t, model.ReasonHighAmount, entries[0].Reason)
	assert.Equal(t, []int64{1}, ids(entries[0]))

	assert.Equal(t, model.ReasonHighDailyCount, entries[1].Reason)
	assert.Len(t, ids(entries[1]), 11)
	assert.NotContains(t, ids(entries[1]), int64(1))

	assert.Equal(t, model.ReasonSimultaneous, entries[2].Reason)
	assert.Equal(t, []int64{1, 2}, ids(entries[2]))

	// soft deleted rows no longer count
	require.NoError(t, repo.SoftDelete(ctx, 1))
	report, err = NewEngine(repo, DefaultConfig()).Report(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids(report.PossibleFraudalentTransactions[0]))
	assert.Empty(t, ids(report.PossibleFraudalentTransactions[2]))
}
