package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var ErrNotFound = errors.New("object not found")

type Config struct {
	Bucket string
	// Endpoint points the client at an emulator such as fake-gcs-server.
	// Authentication is disabled when it is set.
	Endpoint        string
	CredentialsFile string
}

// Bucket is a thin wrapper over one GCS bucket with whole-object reads and writes.
type Bucket struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

func NewBucket(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Bucket{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
	}, nil
}

func (b *Bucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", b.name, key, err)
	}
	// the object is only committed once Close succeeds
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", b.name, key, err)
	}
	return nil
}

func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", b.name, key, ErrNotFound)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", b.name, key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", b.name, key, err)
	}
	return data, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	err := b.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", b.name, key, err)
	}
	return nil
}

// Ping checks the bucket is reachable.
func (b *Bucket) Ping(ctx context.Context) error {
	_, err := b.bucket.Attrs(ctx)
	return err
}

func (b *Bucket) Close() error {
	return b.client.Close()
}
