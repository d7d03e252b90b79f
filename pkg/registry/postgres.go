package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/database"
)

const directorySchema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id   TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	public_key TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS services (
	service_id        TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	provider_agent_id TEXT NOT NULL REFERENCES agents(agent_id),
	path_template     TEXT NOT NULL,
	method            TEXT NOT NULL DEFAULT 'POST',
	requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
	input_schema      TEXT,
	status            TEXT NOT NULL DEFAULT 'active'
);
`

// SQLDirectory serves the directory from Postgres (or SQLite in tests and
// standalone deployments that prefer a database over files).
type SQLDirectory struct {
	db *database.DB
}

// NewSQLDirectory wraps db. Call Init to create tables.
func NewSQLDirectory(db *database.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (r *SQLDirectory) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, directorySchema)
	return err
}

func (r *SQLDirectory) FindAgent(ctx context.Context, agentID string) (*contracts.Agent, error) {
	var a contracts.Agent
	var status string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT agent_id, name, public_key, endpoint, status
		FROM agents WHERE agent_id = ?`), agentID).
		Scan(&a.AgentID, &a.Name, &a.PublicKey, &a.Endpoint, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find agent: %w", err)
	}
	a.Status = contracts.AgentStatus(status)
	return &a, nil
}

func (r *SQLDirectory) FindService(ctx context.Context, serviceID string) (*contracts.Service, error) {
	var (
		s      contracts.Service
		status string
		schema sql.NullString
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT service_id, name, provider_agent_id, path_template, method, requires_approval, input_schema, status
		FROM services WHERE service_id = ?`), serviceID).
		Scan(&s.ServiceID, &s.Name, &s.ProviderAgentID, &s.PathTemplate, &s.Method, &s.RequiresApproval, &schema, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find service: %w", err)
	}
	s.Status = contracts.AgentStatus(status)
	if schema.Valid && schema.String != "" {
		if err := json.Unmarshal([]byte(schema.String), &s.InputSchema); err != nil {
			return nil, fmt.Errorf("decode input_schema for %s: %w", serviceID, err)
		}
	}
	return &s, nil
}

func (r *SQLDirectory) ListAgents(ctx context.Context) ([]*contracts.Agent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, name, public_key, endpoint, status
		FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Agent
	for rows.Next() {
		var a contracts.Agent
		var status string
		if err := rows.Scan(&a.AgentID, &a.Name, &a.PublicKey, &a.Endpoint, &status); err != nil {
			return nil, err
		}
		a.Status = contracts.AgentStatus(status)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// UpsertAgent registers or replaces an agent.
func (r *SQLDirectory) UpsertAgent(ctx context.Context, a *contracts.Agent) error {
	status := a.Status
	if status == "" {
		status = contracts.AgentActive
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO agents (agent_id, name, public_key, endpoint, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE
		SET name = excluded.name, public_key = excluded.public_key,
			endpoint = excluded.endpoint, status = excluded.status`),
		a.AgentID, a.Name, a.PublicKey, a.Endpoint, string(status))
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// UpsertService registers or replaces a service.
func (r *SQLDirectory) UpsertService(ctx context.Context, s *contracts.Service) error {
	var schema any
	if s.InputSchema != nil {
		b, err := json.Marshal(s.InputSchema)
		if err != nil {
			return fmt.Errorf("encode input_schema: %w", err)
		}
		schema = string(b)
	}
	method := s.Method
	if method == "" {
		method = "POST"
	}
	status := s.Status
	if status == "" {
		status = contracts.AgentActive
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO services (service_id, name, provider_agent_id, path_template, method, requires_approval, input_schema, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service_id) DO UPDATE
		SET name = excluded.name, provider_agent_id = excluded.provider_agent_id,
			path_template = excluded.path_template, method = excluded.method,
			requires_approval = excluded.requires_approval, input_schema = excluded.input_schema,
			status = excluded.status`),
		s.ServiceID, s.Name, s.ProviderAgentID, s.PathTemplate, method, s.RequiresApproval, schema, string(status))
	if err != nil {
		return fmt.Errorf("upsert service: %w", err)
	}
	return nil
}
