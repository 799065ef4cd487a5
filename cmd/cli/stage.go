package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nimasrn/transaction-guard/internal/config"
	"github.com/nimasrn/transaction-guard/internal/queue"
	"github.com/nimasrn/transaction-guard/internal/services"
	"github.com/nimasrn/transaction-guard/pkg/gcs"
	"github.com/nimasrn/transaction-guard/pkg/redis"
	"github.com/spf13/cobra"
)

func stageCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "stage [file.csv]",
		Short: "Stage a local CSV file and enqueue its ingestion, like an upload would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			ctx := cmd.Context()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			bucket, err := gcs.NewBucket(ctx, cfg.Gcs())
			if err != nil {
				return err
			}
			defer bucket.Close()

			adapter, err := redis.NewRedisAdapter("cli", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions("cli"))
			if err != nil {
				return err
			}
			q, err := queue.NewQueue(adapter, cfg.Queue())
			if err != nil {
				return err
			}

			svc := services.NewUploadService(bucket, q, int64(cfg.UploadMaxBytes), cfg.NotifyDefaultEmail)
			job, err := svc.Stage(ctx, services.Upload{
				FileName: filepath.Base(args[0]),
				Size:     int64(len(data)),
				Data:     data,
				Email:    email,
			})
			if err != nil {
				return err
			}

			fmt.Printf("job %s staged at %s, notifying %s\n", job.JobID, job.FilePath, job.UserEmail)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "address notified when the job ends")
	return cmd
}
