package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is a step of the ingestion worker state machine.
type JobState string

const (
	JobStateDequeued    JobState = "dequeued"
	JobStateDownloading JobState = "downloading"
	JobStateParsing     JobState = "parsing"
	JobStateValidating  JobState = "validating"
	JobStateInserting   JobState = "inserting"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// IngestionJob asks a worker to ingest one staged CSV file.
type IngestionJob struct {
	JobID     string    `json:"job_id"`
	FilePath  string    `json:"file_path"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
}

func NewIngestionJob(filePath, userEmail string) IngestionJob {
	return IngestionJob{
		JobID:     uuid.NewString(),
		FilePath:  filePath,
		UserEmail: userEmail,
		CreatedAt: time.Now().UTC(),
	}
}

func (j IngestionJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if j.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if j.UserEmail == "" {
		return fmt.Errorf("user_email is required")
	}
	return nil
}

// NewBlobKey returns a fresh staging key, files/<uuid>.csv.
func NewBlobKey() string {
	return "files/" + uuid.NewString() + ".csv"
}
