package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/pkg/logger"
)

var (
	ErrFileTooLarge        = errors.New("file exceeds the maximum upload size")
	ErrUnsupportedFileType = errors.New("only csv files are accepted")
	ErrEmptyFile           = errors.New("file is empty")
	ErrMissingEmail        = errors.New("a valid notification email is required")
)

const csvContentType = "text/csv"

type BlobStager interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

type JobPublisher interface {
	PublishJSON(ctx context.Context, key string, data interface{}, metadata map[string]string) (string, error)
}

// Upload is a file received from a client. Email may be empty, the
// service then falls back to its default recipient.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Data        []byte
	Email       string
}

type UploadService struct {
	blobs        BlobStager
	publisher    JobPublisher
	maxBytes     int64
	defaultEmail string
}

func NewUploadService(blobs BlobStager, publisher JobPublisher, maxBytes int64, defaultEmail string) *UploadService {
	return &UploadService{
		blobs:        blobs,
		publisher:    publisher,
		maxBytes:     maxBytes,
		defaultEmail: defaultEmail,
	}
}

// Check rejects files that must never reach the queue. It only looks at
// metadata so callers can run it before reading the body.
func (s *UploadService) Check(u Upload) error {
	if u.Size <= 0 && len(u.Data) == 0 {
		return ErrEmptyFile
	}
	if s.maxBytes > 0 && (u.Size > s.maxBytes || int64(len(u.Data)) > s.maxBytes) {
		return ErrFileTooLarge
	}
	if !isCSV(u.FileName, u.ContentType) {
		return ErrUnsupportedFileType
	}
	return nil
}

// Stage stores the file under a fresh key and enqueues its ingestion job.
// The response to the client only says the file was accepted.
func (s *UploadService) Stage(ctx context.Context, u Upload) (*model.IngestionJob, error) {
	if err := s.Check(u); err != nil {
		return nil, err
	}

	email, err := s.recipient(u.Email)
	if err != nil {
		return nil, err
	}

	key := model.NewBlobKey()
	if err := s.blobs.Put(ctx, key, u.Data, csvContentType); err != nil {
		return nil, fmt.Errorf("stage file: %w", err)
	}

	job := model.NewIngestionJob(key, email)
	meta := map[string]string{"file_name": u.FileName}
	if _, err := s.publisher.PublishJSON(ctx, job.JobID, job, meta); err != nil {
		// nobody will ever pick the staged file up
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			logger.Error("failed to remove orphaned staged file", "file_path", key, "error", delErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	logger.Info("file staged for ingestion", "job_id", job.JobID, "file_path", key, "bytes", len(u.Data), "file_name", u.FileName)
	return &job, nil
}

func (s *UploadService) recipient(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = s.defaultEmail
	}
	if !model.ValidEmail(email) {
		return "", ErrMissingEmail
	}
	return email, nil
}

func isCSV(fileName, contentType string) bool {
	if strings.EqualFold(path.Ext(fileName), ".csv") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == csvContentType || mediaType == "application/csv"
}
