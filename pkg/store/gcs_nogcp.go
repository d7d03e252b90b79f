//go:build !gcp

package store

import (
	"context"
	"fmt"
)

// NewGCSObjectStore is unavailable unless built with -tags gcp.
func NewGCSObjectStore(ctx context.Context, bucket string) (ObjectStore, error) {
	return nil, fmt.Errorf("GCS ledger is not enabled in this build (use -tags gcp)")
}
