package services

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/internal/repository"
)

var ErrNotFound = errors.New("error notfound")

type TransactionRepository interface {
	Find(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error)
	SoftDelete(ctx context.Context, id int64) error
	VolumeByPeriod(ctx context.Context, now time.Time) (model.VolumeByPeriod, error)
	TopMerchants(ctx context.Context) ([]model.MerchantVolume, error)
}

type FraudReporter interface {
	Report(ctx context.Context) (*model.FraudReport, error)
}

// TransactionService serves the read side: listing, deletion and analysis.
type TransactionService struct {
	repo  TransactionRepository
	fraud FraudReporter
	now   func() time.Time
}

func NewTransactionService(repo TransactionRepository, fraud FraudReporter) *TransactionService {
	return &TransactionService{
		repo:  repo,
		fraud: fraud,
		now:   time.Now,
	}
}

func (s *TransactionService) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	return s.repo.Find(ctx, f)
}

func (s *TransactionService) Delete(ctx context.Context, id int64) error {
	err := s.repo.SoftDelete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *TransactionService) VolumeByPeriod(ctx context.Context) (model.VolumeByPeriod, error) {
	return s.repo.VolumeByPeriod(ctx, s.now())
}

// TopMerchants returns merchant names only, busiest first.
func (s *TransactionService) TopMerchants(ctx context.Context) ([]string, error) {
	volumes, err := s.repo.TopMerchants(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(volumes))
	for _, v := range volumes {
		names = append(names, v.Merchant)
	}
	return names, nil
}

func (s *TransactionService) FraudReport(ctx context.Context) (*model.FraudReport, error) {
	return s.fraud.Report(ctx)
}
