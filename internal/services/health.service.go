package services

import (
	"context"
	"fmt"
)

// Pinger is anything the API depends on that can say whether it is up.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	deps map[string]Pinger
}

func NewHealthService(deps map[string]Pinger) *HealthService {
	return &HealthService{deps: deps}
}

// Check pings every dependency and returns the failures by name.
func (s *HealthService) Check(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = fmt.Errorf("%s: %w", name, err)
		}
	}
	return failed
}
