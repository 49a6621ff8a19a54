// Package storage keeps analysed images and returns a reference to them.
package storage

import (
	"context"

	"github.com/example/oralscan/internal/intake"
)

// ImageStore persists an image and yields the reference stored on the analysis row.
type ImageStore interface {
	Put(ctx context.Context, key string, img *intake.Image) (string, error)
	Delete(ctx context.Context, ref string) error
}

// InlineStore embeds the image in the reference as a data URL.
type InlineStore struct{}

// Put implements ImageStore.
func (InlineStore) Put(_ context.Context, _ string, img *intake.Image) (string, error) {
	return img.DataURL(), nil
}

// Delete implements ImageStore; inline images live and die with their row.
func (InlineStore) Delete(context.Context, string) error { return nil }
