// Package fraud flags suspicious transactions already in the record store.
//
// The detectors are read-only and take no locks. A report is a best-effort
// snapshot and may miss rows inserted while it runs.
package fraud

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/nimasrn/transaction-guard/pkg/prom"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	HighAmountIDs(ctx context.Context, threshold decimal.Decimal) ([]int64, error)
	Activity(ctx context.Context) ([]model.TransactionActivity, error)
}

type Config struct {
	// HighAmount is exclusive, only amounts strictly above it are flagged.
	HighAmount decimal.Decimal
	// DailyCount is exclusive as well.
	DailyCount int
	// Window is inclusive.
	Window time.Duration
	// Location decides where a calendar day starts.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		HighAmount: decimal.NewFromInt(10000),
		DailyCount: 10,
		Window:     60 * time.Second,
		Location:   time.UTC,
	}
}

type Engine struct {
	store  Store
	config Config
}

func NewEngine(store Store, config Config) *Engine {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Engine{store: store, config: config}
}

// Report runs the three detectors concurrently and merges their results in
// a fixed order. A transaction may appear under more than one reason.
func (e *Engine) Report(ctx context.Context) (*model.FraudReport, error) {
	start := time.Now()

	var highAmount []int64
	var activity []model.TransactionActivity

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := e.store.HighAmountIDs(gctx, e.config.HighAmount)
		if err != nil {
			return fmt.Errorf("high amount: %w", err)
		}
		highAmount = ids
		return nil
	})
	g.Go(func() error {
		rows, err := e.store.Activity(gctx)
		if err != nil {
			return fmt.Errorf("activity: %w", err)
		}
		activity = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// both time based detectors read the same snapshot
	var daily, simultaneous []int64
	var scan errgroup.Group
	scan.Go(func() error {
		daily = DetectHighDailyCount(activity, e.config.DailyCount, e.config.Location)
		return nil
	})
	scan.Go(func() error {
		simultaneous = DetectSimultaneous(activity, e.config.Window)
		return nil
	})
	_ = scan.Wait()

	report := &model.FraudReport{
		PossibleFraudalentTransactions: []model.FraudEntry{
			model.NewFraudEntry(model.ReasonHighAmount, highAmount),
			model.NewFraudEntry(model.ReasonHighDailyCount, daily),
			model.NewFraudEntry(model.ReasonSimultaneous, simultaneous),
		},
	}

	for _, entry := range report.PossibleFraudalentTransactions {
		prom.SetFraudFlagged(entry.Reason, len(entry.Transactions))
	}
	prom.AddFraudReportDuration(time.Since(start).Seconds())
	logger.Debug("fraud report computed",
		"high_amount", len(highAmount),
		"high_daily_count", len(daily),
		"simultaneous", len(simultaneous),
		"scanned", len(activity),
		"took", time.Since(start))

	return report, nil
}

type dayKey struct {
	userID string
	day    string
}

// DetectHighDailyCount flags every transaction of a (user, calendar day)
// group holding more than threshold transactions. Ids come back sorted.
func DetectHighDailyCount(activity []model.TransactionActivity, threshold int, loc *time.Location) []int64 {
	if loc == nil {
		loc = time.UTC
	}

	groups := make(map[dayKey][]int64)
	for _, a := range activity {
		k := dayKey{userID: a.UserID, day: a.Date.In(loc).Format(time.DateOnly)}
		groups[k] = append(groups[k], a.ID)
	}

	flagged := make([]int64, 0)
	for _, ids := range groups {
		if len(ids) > threshold {
			flagged = append(flagged, ids...)
		}
	}
	sort.Slice(flagged, func(i, j int) bool { return flagged[i] < flagged[j] })
	return flagged
}

// DetectSimultaneous flags every transaction that has another transaction of
// the same user at most window apart. Both members of such a pair are
// flagged once. Ids come back sorted.
func DetectSimultaneous(activity []model.TransactionActivity, window time.Duration) []int64 {
	sorted := make([]model.TransactionActivity, len(activity))
	copy(sorted, activity)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].UserID != sorted[j].UserID {
			return sorted[i].UserID < sorted[j].UserID
		}
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	// within one user's sorted run, a row has a partner inside the window
	// iff one of its direct neighbours is inside it
	near := func(a, b model.TransactionActivity) bool {
		return a.UserID == b.UserID && b.Date.Sub(a.Date) <= window
	}

	flagged := make([]int64, 0)
	for i := range sorted {
		if (i > 0 && near(sorted[i-1], sorted[i])) || (i+1 < len(sorted) && near(sorted[i], sorted[i+1])) {
			flagged = append(flagged, sorted[i].ID)
		}
	}
	sort.Slice(flagged, func(i, j int) bool { return flagged[i] < flagged[j] })
	return flagged
}
