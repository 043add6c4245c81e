package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var _ Location = (*BucketLocation)(nil)

// BucketLocation keeps saves as objects in a Google Cloud Storage bucket.
// Object writes only become visible once the writer closes cleanly, so a
// failed upload leaves the previous object untouched.
type BucketLocation struct {
	client *gcs.Client
	bucket string
	prefix string
}

func NewBucketLocation(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*BucketLocation, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	opts = append(opts, option.WithScopes(gcs.ScopeReadWrite))
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &BucketLocation{client: client, bucket: bucket, prefix: prefix}, nil
}

func (l *BucketLocation) object(p string) (*gcs.ObjectHandle, error) {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return nil, ErrInvalidPath
	}
	return l.client.Bucket(l.bucket).Object(path.Join(l.prefix, p)), nil
}

func (l *BucketLocation) HasData(ctx context.Context, p string) (bool, error) {
	obj, err := l.object(p)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gs://%s/%s: %w", l.bucket, obj.ObjectName(), err)
	}
	return true, nil
}

func (l *BucketLocation) Save(ctx context.Context, p, data string) error {
	obj, err := l.object(p)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.WriteString(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading gs://%s/%s: %w", l.bucket, obj.ObjectName(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing gs://%s/%s: %w", l.bucket, obj.ObjectName(), err)
	}
	return nil
}

func (l *BucketLocation) Load(ctx context.Context, p string) (string, error) {
	obj, err := l.object(p)
	if err != nil {
		return "", err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening gs://%s/%s: %w", l.bucket, obj.ObjectName(), err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading gs://%s/%s: %w", l.bucket, obj.ObjectName(), err)
	}
	return string(data), nil
}

func (l *BucketLocation) Delete(ctx context.Context, p string) error {
	obj, err := l.object(p)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("deleting gs://%s/%s: %w", l.bucket, obj.ObjectName(), err)
	}
	return nil
}

func (l *BucketLocation) Close() error {
	return l.client.Close()
}
