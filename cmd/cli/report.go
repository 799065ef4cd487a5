package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nimasrn/transaction-guard/internal/config"
	"github.com/nimasrn/transaction-guard/internal/fraud"
	"github.com/nimasrn/transaction-guard/internal/queue"
	"github.com/nimasrn/transaction-guard/internal/repository"
	"github.com/nimasrn/transaction-guard/pkg/pg"
	"github.com/nimasrn/transaction-guard/pkg/redis"
	"github.com/spf13/cobra"
)

func fraudReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fraud-report",
		Short: "Print the possible fraudulent transactions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()

			fraudConf, err := cfg.Fraud()
			if err != nil {
				return err
			}

			db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), false)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := fraud.NewEngine(repository.NewTransactionRepository(db), fraudConf).Report(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ingestion queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()

			adapter, err := redis.NewRedisAdapter("cli", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions("cli"))
			if err != nil {
				return err
			}
			q, err := queue.NewQueue(adapter, cfg.Queue())
			if err != nil {
				return err
			}

			stats, err := q.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Queue %s\n", cfg.QueueName)
			fmt.Println(strings.Repeat("=", 40))
			fmt.Printf("  Stream length:  %d\n", stats.TotalMessages)
			fmt.Printf("  Pending:        %d\n", stats.PendingMessages)
			fmt.Printf("  Delayed:        %d\n", stats.DelayedMessages)
			fmt.Printf("  Dead letters:   %d\n", stats.DeadLetters)
			fmt.Printf("  Consumers:      %d\n", stats.ConsumerCount)
			return nil
		},
	}
}
