package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestFileRegistry_JSONMapAndYAMLList(t *testing.T) {
	dir := t.TempDir()
	agents := writeFile(t, dir, "agents.json", `{
		"provider-1": {"public_key": "KEY1", "endpoint": "http://localhost:9000", "status": "active"},
		"consumer-1": {"public_key": "KEY2", "endpoint": "", "status": "inactive"}
	}`)
	services := writeFile(t, dir, "services.yaml", `
- service_id: svc-greet
  provider_agent_id: provider-1
  path_template: /greet/{name}
  method: GET
  requires_approval: true
  input_schema:
    type: object
    required: [name]
`)

	r, err := NewFileRegistry(agents, services)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := r.FindAgent(ctx, "provider-1")
	require.NoError(t, err)
	assert.Equal(t, "provider-1", a.AgentID)
	assert.Equal(t, "http://localhost:9000", a.Endpoint)
	assert.True(t, a.IsActive())

	c, err := r.FindAgent(ctx, "consumer-1")
	require.NoError(t, err)
	assert.False(t, c.IsActive())

	s, err := r.FindService(ctx, "svc-greet")
	require.NoError(t, err)
	assert.Equal(t, "/greet/{name}", s.PathTemplate)
	assert.Equal(t, "GET", s.Method)
	assert.True(t, s.RequiresApproval)
	assert.Equal(t, "object", s.InputSchema["type"])

	_, err = r.FindAgent(ctx, "ghost")
	assert.ErrorIs(t, err, contracts.ErrAgentNotFound)
	_, err = r.FindService(ctx, "ghost")
	assert.ErrorIs(t, err, contracts.ErrServiceNotFound)

	list, err := r.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "consumer-1", list[0].AgentID)
}

func TestFileRegistry_MissingFilesStartEmpty(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFileRegistry(filepath.Join(dir, "nope.json"), filepath.Join(dir, "nope2.json"))
	require.NoError(t, err)
	a, s := r.Counts()
	assert.Zero(t, a)
	assert.Zero(t, s)
}

func TestFileRegistry_MalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "agents.json", `{"a": [unclosed`)
	_, err := NewFileRegistry(bad, "")
	assert.Error(t, err)

	scalar := writeFile(t, dir, "scalar.yaml", `just a string`)
	_, err = NewFileRegistry(scalar, "")
	assert.Error(t, err)
}

func TestFileRegistry_ReloadKeepsOldOnError(t *testing.T) {
	dir := t.TempDir()
	agents := writeFile(t, dir, "agents.yaml", "- agent_id: a1\n  public_key: K\n  endpoint: http://x\n")
	r, err := NewFileRegistry(agents, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(agents, []byte("{{{"), 0o600))
	assert.Error(t, r.Reload())
	_, err = r.FindAgent(context.Background(), "a1")
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(agents, []byte("- agent_id: a2\n  public_key: K\n  endpoint: http://y\n"), 0o600))
	require.NoError(t, r.Reload())
	_, err = r.FindAgent(context.Background(), "a1")
	assert.ErrorIs(t, err, contracts.ErrAgentNotFound)
	_, err = r.FindAgent(context.Background(), "a2")
	assert.NoError(t, err)
}
