package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/database"
)

func sampleRecord(id string, status contracts.TransactionStatus) *contracts.TransactionRecord {
	return &contracts.TransactionRecord{
		TransactionID:   id,
		ConsumerAgentID: "consumer-1",
		ProviderAgentID: "provider-1",
		ServiceID:       "svc-greet",
		Status:          status,
		ProviderStatus:  200,
		Result:          json.RawMessage(`{"message":"Hello, Alice!"}`),
		Timestamp:       time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		LatencyMS:       12,
	}
}

func ledgerCases(t *testing.T, fn func(t *testing.T, l Ledger)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryLedger()) })
	t.Run("sqlite", func(t *testing.T) {
		ctx := context.Background()
		db, err := database.Open(ctx, filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		l, err := NewSQLLedger(ctx, db)
		require.NoError(t, err)
		fn(t, l)
	})
	t.Run("fs", func(t *testing.T) {
		l, err := NewLedger(context.Background(), LedgerConfig{Backend: BackendFS, Dir: t.TempDir(), Prefix: "aatp"})
		require.NoError(t, err)
		fn(t, l)
	})
}

func TestLedger_RecordAndGet(t *testing.T) {
	ledgerCases(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		require.NoError(t, l.Record(ctx, sampleRecord("tx-1", contracts.TransactionSuccess)))

		got, err := l.Get(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, "svc-greet", got.ServiceID)
		assert.Equal(t, contracts.TransactionSuccess, got.Status)
		assert.JSONEq(t, `{"message":"Hello, Alice!"}`, string(got.Result))
		assert.True(t, got.Timestamp.Equal(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)))

		_, err = l.Get(ctx, "tx-missing")
		assert.ErrorIs(t, err, contracts.ErrTransactionNotFound)
	})
}

func TestLedger_ReusedTransactionIDLatestWins(t *testing.T) {
	ledgerCases(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		require.NoError(t, l.Record(ctx, sampleRecord("tx-dup", contracts.TransactionSuccess)))
		second := sampleRecord("tx-dup", contracts.TransactionError)
		second.Result = nil
		second.ErrorMessage = "quota exceeded"
		require.NoError(t, l.Record(ctx, second))

		got, err := l.Get(ctx, "tx-dup")
		require.NoError(t, err)
		assert.Equal(t, contracts.TransactionError, got.Status)
		assert.Equal(t, "quota exceeded", got.ErrorMessage)
	})
}

func TestSQLLedger_PostgresInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("BIGSERIAL").WillReturnResult(sqlmock.NewResult(0, 0))
	l, err := NewSQLLedger(context.Background(), database.Wrap(db, database.Postgres))
	require.NoError(t, err)

	rec := sampleRecord("tx-1", contracts.TransactionSuccess)
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)")).
		WithArgs("tx-1", "consumer-1", "provider-1", "svc-greet", "success", 200,
			`{"message":"Hello, Alice!"}`, "", "", int64(12), rec.Timestamp.UnixMicro()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, l.Record(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedger_Backends(t *testing.T) {
	ctx := context.Background()

	l, err := NewLedger(ctx, LedgerConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryLedger{}, l)

	_, err = NewLedger(ctx, LedgerConfig{Backend: BackendSQL})
	assert.Error(t, err)

	_, err = NewLedger(ctx, LedgerConfig{Backend: BackendS3})
	assert.Error(t, err)

	_, err = NewLedger(ctx, LedgerConfig{Backend: "tape"})
	assert.Error(t, err)
}

func TestEscapeKey(t *testing.T) {
	assert.Equal(t, "tx_2f.._2fetc_2fpasswd", escapeKey("tx/../etc/passwd"))
	assert.Equal(t, "tx-abc_5f123.json", escapeKey("tx-abc_123.json"))
	assert.Equal(t, "tx-1", escapeKey("tx-1"))
	assert.NotEqual(t, escapeKey("tx/1"), escapeKey("tx_1"))
	assert.NotEqual(t, escapeKey("tx_2f1"), escapeKey("tx/1"))
}

func TestObjectLedger_SimilarIDsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	objects, err := NewFileObjectStore(t.TempDir())
	require.NoError(t, err)
	l := NewObjectLedger(objects, "ledger")

	require.NoError(t, l.Record(ctx, sampleRecord("tx/1", contracts.TransactionSuccess)))
	require.NoError(t, l.Record(ctx, sampleRecord("tx_1", contracts.TransactionError)))

	a, err := l.Get(ctx, "tx/1")
	require.NoError(t, err)
	assert.Equal(t, "tx/1", a.TransactionID)
	assert.Equal(t, contracts.TransactionSuccess, a.Status)

	b, err := l.Get(ctx, "tx_1")
	require.NoError(t, err)
	assert.Equal(t, "tx_1", b.TransactionID)
	assert.Equal(t, contracts.TransactionError, b.Status)
}
