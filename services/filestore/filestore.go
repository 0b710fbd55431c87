// Package filestore keeps uploaded documents on the local disk or in a Google Cloud Storage bucket.
package filestore

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core"
)

// New returns the file store selected by conf.Storage.Backend.
func New(ctx context.Context, conf *core.Config) (core.FileStore, error) {
	switch conf.Storage.Backend {
	case "gcs":
		return NewGCS(ctx, conf.Storage.Bucket, conf.Storage.CredentialsFile)
	case "local", "":
		return NewLocal(conf.Storage.LocalDir)
	default:
		return nil, errors.Errorf("unknown storage backend %q", conf.Storage.Backend)
	}
}

// cleanKey rejects keys escaping the store root.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))[1:]
	if cleaned == "" || cleaned != strings.TrimSpace(key) {
		return "", errors.Errorf("invalid file key %q", key)
	}
	return cleaned, nil
}
