package filestore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/trezcool/quizbank/core"
)

type gcsStore struct {
	client *storage.Client
	bucket string
}

var _ core.FileStore = (*gcsStore)(nil) // interface compliance check

// NewGCS stores the files in a bucket. Without a credentials file, the default credentials are used.
func NewGCS(ctx context.Context, bucket, credentialsFile string, opts ...option.ClientOption) (core.FileStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs storage: no bucket configured")
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating gcs client")
	}
	return &gcsStore{client: client, bucket: bucket}, nil
}

func mapGCSErr(err error, msg string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return core.ErrFileNotFound
	}
	return errors.Wrap(err, msg)
}

func (s *gcsStore) object(key string) (*storage.ObjectHandle, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(key), nil
}

func (s *gcsStore) Save(ctx context.Context, key string, r io.Reader, contentType string) error {
	obj, err := s.object(key)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, no-store"
	if _, err = io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "uploading gs://%s/%s", s.bucket, key)
	}
	return errors.Wrapf(w.Close(), "uploading gs://%s/%s", s.bucket, key)
}

func (s *gcsStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.object(key)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, mapGCSErr(err, "downloading gs://"+s.bucket+"/"+key)
	}
	return r, nil
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	obj, err := s.object(key)
	if err != nil {
		return err
	}
	if err = obj.Delete(ctx); err != nil {
		return mapGCSErr(err, "deleting gs://"+s.bucket+"/"+key)
	}
	return nil
}
