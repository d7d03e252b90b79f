package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/database"
)

const transactionsSchemaSQLite = `
CREATE TABLE IF NOT EXISTS transactions (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id    TEXT NOT NULL,
	consumer_agent_id TEXT NOT NULL,
	provider_agent_id TEXT NOT NULL,
	service_id        TEXT NOT NULL,
	status            TEXT NOT NULL,
	provider_status   INTEGER NOT NULL,
	result            TEXT,
	error_message     TEXT NOT NULL DEFAULT '',
	approval_id       TEXT NOT NULL DEFAULT '',
	latency_ms        BIGINT NOT NULL,
	recorded_at       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_tx ON transactions(transaction_id);
`

const transactionsSchemaPostgres = `
CREATE TABLE IF NOT EXISTS transactions (
	seq               BIGSERIAL PRIMARY KEY,
	transaction_id    TEXT NOT NULL,
	consumer_agent_id TEXT NOT NULL,
	provider_agent_id TEXT NOT NULL,
	service_id        TEXT NOT NULL,
	status            TEXT NOT NULL,
	provider_status   INTEGER NOT NULL,
	result            JSONB,
	error_message     TEXT NOT NULL DEFAULT '',
	approval_id       TEXT NOT NULL DEFAULT '',
	latency_ms        BIGINT NOT NULL,
	recorded_at       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_tx ON transactions(transaction_id);
`

// SQLLedger appends records to a transactions table.
type SQLLedger struct {
	db *database.DB
}

// NewSQLLedger creates the ledger and applies the schema.
func NewSQLLedger(ctx context.Context, db *database.DB) (*SQLLedger, error) {
	schema := transactionsSchemaSQLite
	if db.Dialect == database.Postgres {
		schema = transactionsSchemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("transactions migrate: %w", err)
	}
	return &SQLLedger{db: db}, nil
}

func (l *SQLLedger) Record(ctx context.Context, rec *contracts.TransactionRecord) error {
	var result any
	if len(rec.Result) > 0 {
		result = string(rec.Result)
	}
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO transactions (transaction_id, consumer_agent_id, provider_agent_id, service_id,
			status, provider_status, result, error_message, approval_id, latency_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.TransactionID, rec.ConsumerAgentID, rec.ProviderAgentID, rec.ServiceID,
		string(rec.Status), rec.ProviderStatus, result, rec.ErrorMessage, rec.ApprovalID,
		rec.LatencyMS, rec.Timestamp.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func (l *SQLLedger) Get(ctx context.Context, transactionID string) (*contracts.TransactionRecord, error) {
	var (
		rec        contracts.TransactionRecord
		status     string
		result     sql.NullString
		recordedAt int64
	)
	err := l.db.QueryRowContext(ctx, l.db.Rebind(`
		SELECT transaction_id, consumer_agent_id, provider_agent_id, service_id, status,
			provider_status, result, error_message, approval_id, latency_ms, recorded_at
		FROM transactions WHERE transaction_id = ?
		ORDER BY seq DESC LIMIT 1`), transactionID).
		Scan(&rec.TransactionID, &rec.ConsumerAgentID, &rec.ProviderAgentID, &rec.ServiceID, &status,
			&rec.ProviderStatus, &result, &rec.ErrorMessage, &rec.ApprovalID, &rec.LatencyMS, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	rec.Status = contracts.TransactionStatus(status)
	rec.Timestamp = time.UnixMicro(recordedAt).UTC()
	if result.Valid && result.String != "" {
		rec.Result = []byte(result.String)
	}
	return &rec, nil
}
