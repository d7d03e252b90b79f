package contracts

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// Agent is a directory entry for a participant in the network.
// The router treats it as immutable for the duration of one transaction.
type Agent struct {
	AgentID string `json:"agent_id" yaml:"agent_id"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`

	// PublicKey is the Ed25519 verification key, PEM (PKIX) or base64 of the raw 32 bytes.
	PublicKey string `json:"public_key" yaml:"public_key"`

	// Endpoint is the base URL the router calls when this agent provides a service.
	Endpoint string      `json:"endpoint" yaml:"endpoint"`
	Status   AgentStatus `json:"status" yaml:"status"`
}

// IsActive reports whether the agent may take part in transactions.
// An empty status is treated as active so that minimal registry files stay valid.
func (a *Agent) IsActive() bool {
	return a.Status == "" || a.Status == AgentActive
}

// Service is a callable capability offered by a provider agent.
type Service struct {
	ServiceID       string `json:"service_id" yaml:"service_id"`
	Name            string `json:"name,omitempty" yaml:"name,omitempty"`
	ProviderAgentID string `json:"provider_agent_id" yaml:"provider_agent_id"`

	// Invocation template
	PathTemplate string `json:"path_template" yaml:"path_template"` // e.g. "/greet/{name}"
	Method       string `json:"method,omitempty" yaml:"method,omitempty"`

	// RequiresApproval forces every transaction to reference an approved HITL request.
	RequiresApproval bool `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`

	// InputSchema is an optional JSON Schema the payload must satisfy.
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`

	Status AgentStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// IsActive reports whether the service may be routed to.
func (s *Service) IsActive() bool {
	return s.Status == "" || s.Status == AgentActive
}
