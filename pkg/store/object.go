package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// ErrObjectNotFound is returned by ObjectStore.Get for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is a minimal blob store: S3, GCS or a local directory.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectLedger writes one JSON document per transaction under prefix.
// Re-used transaction ids overwrite, so reads return the latest attempt.
type ObjectLedger struct {
	objects ObjectStore
	prefix  string
}

// NewObjectLedger wraps an ObjectStore.
func NewObjectLedger(objects ObjectStore, prefix string) *ObjectLedger {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectLedger{objects: objects, prefix: prefix}
}

func (l *ObjectLedger) key(transactionID string) string {
	return l.prefix + "transactions/" + escapeKey(transactionID) + ".json"
}

func (l *ObjectLedger) Record(ctx context.Context, rec *contracts.TransactionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	return l.objects.Put(ctx, l.key(rec.TransactionID), data)
}

func (l *ObjectLedger) Get(ctx context.Context, transactionID string) (*contracts.TransactionRecord, error) {
	data, err := l.objects.Get(ctx, l.key(transactionID))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, contracts.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec contracts.TransactionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", transactionID, err)
	}
	return &rec, nil
}

// escapeKey maps an id onto the object-key alphabet. Bytes outside
// [A-Za-z0-9.-] become _xx, so distinct ids never share a key.
func escapeKey(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// FileObjectStore keeps objects as files under a root directory.
type FileObjectStore struct {
	root string
}

// NewFileObjectStore creates root if needed.
func NewFileObjectStore(root string) (*FileObjectStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	return &FileObjectStore{root: root}, nil
}

func (s *FileObjectStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *FileObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return data, err
}
