package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/database"
)

const approvalsSchema = `
CREATE TABLE IF NOT EXISTS approvals (
	approval_id          TEXT PRIMARY KEY,
	transaction_id       TEXT NOT NULL,
	agent_id             TEXT NOT NULL DEFAULT '',
	summary              TEXT NOT NULL,
	details              TEXT,
	alternatives         TEXT,
	status               TEXT NOT NULL,
	created_at           BIGINT NOT NULL,
	expires_at           BIGINT NOT NULL,
	decided_by           TEXT NOT NULL DEFAULT '',
	decided_at           BIGINT,
	comments             TEXT NOT NULL DEFAULT '',
	selected_alternative INTEGER
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
`

const approvalColumns = `approval_id, transaction_id, agent_id, summary, details, alternatives, status,
	created_at, expires_at, decided_by, decided_at, comments, selected_alternative`

// SQLStore persists approvals in Postgres or SQLite. Status transitions use
// a conditional UPDATE so the database arbitrates concurrent decisions.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates the store and applies the schema.
func NewSQLStore(ctx context.Context, db *database.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("approvals migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, approvalsSchema)
	return err
}

func (s *SQLStore) Create(ctx context.Context, req *contracts.ApprovalRequest) error {
	alts, err := encodeAlternatives(req.Alternatives)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (approval_id) DO NOTHING`),
		req.ApprovalID, req.TransactionID, req.AgentID, req.Summary,
		nullableJSON(req.Details), alts, string(req.Status),
		req.CreatedAt.UnixMicro(), req.ExpiresAt.UnixMicro(),
		req.DecidedBy, nullableTime(req.DecidedAt), req.Comments, nullableInt(req.SelectedAlternative),
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	if n == 0 {
		return contracts.ErrDuplicateApprovalID
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*contracts.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+approvalColumns+` FROM approvals WHERE approval_id = ?`), id)
	req, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrApprovalNotFound
	}
	return req, err
}

func (s *SQLStore) CompareAndSwap(ctx context.Context, from contracts.ApprovalStatus, next *contracts.ApprovalRequest) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE approvals
		SET status = ?, decided_by = ?, decided_at = ?, comments = ?, selected_alternative = ?
		WHERE approval_id = ? AND status = ?`),
		string(next.Status), next.DecidedBy, nullableTime(next.DecidedAt), next.Comments,
		nullableInt(next.SelectedAlternative), next.ApprovalID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update approval: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, next.ApprovalID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) List(ctx context.Context, status contracts.ApprovalStatus) ([]*contracts.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(row scanner) (*contracts.ApprovalRequest, error) {
	var (
		req                  contracts.ApprovalRequest
		details, alts        sql.NullString
		status               string
		createdAt, expiresAt int64
		decidedAt, selected  sql.NullInt64
	)
	err := row.Scan(&req.ApprovalID, &req.TransactionID, &req.AgentID, &req.Summary,
		&details, &alts, &status, &createdAt, &expiresAt,
		&req.DecidedBy, &decidedAt, &req.Comments, &selected)
	if err != nil {
		return nil, err
	}

	req.Status = contracts.ApprovalStatus(status)
	req.CreatedAt = time.UnixMicro(createdAt).UTC()
	req.ExpiresAt = time.UnixMicro(expiresAt).UTC()
	if details.Valid && details.String != "" {
		req.Details = json.RawMessage(details.String)
	}
	if alts.Valid && alts.String != "" {
		if err := json.Unmarshal([]byte(alts.String), &req.Alternatives); err != nil {
			return nil, fmt.Errorf("decode alternatives: %w", err)
		}
	}
	if decidedAt.Valid {
		t := time.UnixMicro(decidedAt.Int64).UTC()
		req.DecidedAt = &t
	}
	if selected.Valid {
		n := int(selected.Int64)
		req.SelectedAlternative = &n
	}
	return &req, nil
}

func encodeAlternatives(alts []map[string]any) (any, error) {
	if alts == nil {
		return nil, nil
	}
	b, err := json.Marshal(alts)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeSerializationError, "alternatives are not JSON-serializable", err)
	}
	return string(b), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}
