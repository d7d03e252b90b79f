package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// DefaultCacheTTL bounds how long a resolved agent is trusted before re-lookup.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	agent   *contracts.Agent
	expires time.Time
}

// HTTPDirectory resolves agents and services from a remote trust directory:
//
//	GET {base}/api/v1/lookup/{agent_id}
//	GET {base}/api/v1/services/{service_id}
//	GET {base}/api/v1/agents
type HTTPDirectory struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	clock      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// HTTPOption configures an HTTPDirectory.
type HTTPOption func(*HTTPDirectory)

// WithCacheTTL sets the agent cache lifetime. Zero disables caching.
func WithCacheTTL(d time.Duration) HTTPOption {
	return func(h *HTTPDirectory) { h.ttl = d }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPDirectory) { h.httpClient = c }
}

// WithDirectoryClock overrides the cache clock, for tests.
func WithDirectoryClock(clock func() time.Time) HTTPOption {
	return func(h *HTTPDirectory) { h.clock = clock }
}

// NewHTTPDirectory creates a remote directory client.
func NewHTTPDirectory(baseURL string, opts ...HTTPOption) *HTTPDirectory {
	h := &HTTPDirectory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ttl:        DefaultCacheTTL,
		clock:      time.Now,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPDirectory) FindAgent(ctx context.Context, agentID string) (*contracts.Agent, error) {
	if a := h.cached(agentID); a != nil {
		return a, nil
	}

	var agent contracts.Agent
	found, err := h.get(ctx, "/api/v1/lookup/"+url.PathEscape(agentID), &agent)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, contracts.ErrAgentNotFound
	}
	if agent.AgentID == "" {
		agent.AgentID = agentID
	}

	if h.ttl > 0 && agent.IsActive() {
		h.mu.Lock()
		cp := agent
		h.cache[agentID] = cacheEntry{agent: &cp, expires: h.clock().Add(h.ttl)}
		h.mu.Unlock()
	}
	return &agent, nil
}

func (h *HTTPDirectory) FindService(ctx context.Context, serviceID string) (*contracts.Service, error) {
	var svc contracts.Service
	found, err := h.get(ctx, "/api/v1/services/"+url.PathEscape(serviceID), &svc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, contracts.ErrServiceNotFound
	}
	if svc.ServiceID == "" {
		svc.ServiceID = serviceID
	}
	return &svc, nil
}

func (h *HTTPDirectory) ListAgents(ctx context.Context) ([]*contracts.Agent, error) {
	var body struct {
		Agents []*contracts.Agent `json:"agents"`
	}
	if _, err := h.get(ctx, "/api/v1/agents", &body); err != nil {
		return nil, err
	}
	return body.Agents, nil
}

// Invalidate drops a cached agent, e.g. after a key rotation notice.
func (h *HTTPDirectory) Invalidate(agentID string) {
	h.mu.Lock()
	delete(h.cache, agentID)
	h.mu.Unlock()
}

func (h *HTTPDirectory) cached(agentID string) *contracts.Agent {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.cache[agentID]
	if !ok {
		return nil
	}
	if !h.clock().Before(e.expires) {
		delete(h.cache, agentID)
		return nil
	}
	cp := *e.agent
	return &cp
}

// get decodes a 200 response into out. A 404 returns found=false.
func (h *HTTPDirectory) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("directory: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("directory: GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("directory: decode %s: %w", path, err)
	}
	return true, nil
}
