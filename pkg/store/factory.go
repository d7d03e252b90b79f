package store

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/aatp-router/pkg/database"
)

// Backend names accepted by NewLedger.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
)

// LedgerConfig selects and configures a ledger backend.
type LedgerConfig struct {
	Backend  string
	DB       *database.DB // BackendSQL
	Dir      string       // BackendFS
	Bucket   string       // BackendS3, BackendGCS
	Prefix   string
	Region   string // BackendS3
	Endpoint string // BackendS3
}

// NewLedger builds the configured ledger.
func NewLedger(ctx context.Context, cfg LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryLedger(), nil
	case BackendSQL:
		if cfg.DB == nil {
			return nil, fmt.Errorf("sql ledger requires a database")
		}
		return NewSQLLedger(ctx, cfg.DB)
	case BackendFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/ledger"
		}
		fs, err := NewFileObjectStore(dir)
		if err != nil {
			return nil, err
		}
		return NewObjectLedger(fs, cfg.Prefix), nil
	case BackendS3:
		s3, err := NewS3ObjectStore(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region, Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, err
		}
		return NewObjectLedger(s3, cfg.Prefix), nil
	case BackendGCS:
		gcs, err := NewGCSObjectStore(ctx, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		return NewObjectLedger(gcs, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Backend)
	}
}
