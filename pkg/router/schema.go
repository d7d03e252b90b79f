package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/aatp-router/pkg/canonicalize"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// schemaCache compiles each service's input_schema once. Entries are keyed by
// the schema's canonical hash so a directory update recompiles.
type schemaCache struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{schemas: make(map[string]*jsonschema.Schema)}
}

// validate checks payload against the service's input_schema, if any.
func (c *schemaCache) validate(svc *contracts.Service, payload map[string]any) error {
	if len(svc.InputSchema) == 0 {
		return nil
	}
	schema, err := c.compiled(svc)
	if err != nil {
		return contracts.WrapError(contracts.CodeInternalError, "service input schema is invalid", err)
	}

	// Validate the JSON form so numeric types match what the schema library expects.
	raw, err := json.Marshal(payload)
	if err != nil {
		return contracts.WrapError(contracts.CodeSerializationError, "payload is not JSON-serializable", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return contracts.WrapError(contracts.CodeSerializationError, "payload is not JSON-serializable", err)
	}
	if err := schema.Validate(doc); err != nil {
		return contracts.WrapError(contracts.CodeInvalidRequest,
			fmt.Sprintf("payload does not match input schema of service %s", svc.ServiceID), err)
	}
	return nil
}

func (c *schemaCache) compiled(svc *contracts.Service) (*jsonschema.Schema, error) {
	raw, err := canonicalize.Canonicalize(svc.InputSchema)
	if err != nil {
		return nil, err
	}
	key := svc.ServiceID + "@" + canonicalize.HashBytes(raw)

	c.mu.RLock()
	s, ok := c.schemas[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://aatp.schemas.local/services/%s.schema.json", url.PathEscape(svc.ServiceID))
	if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	s, err = compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}

	c.mu.Lock()
	c.schemas[key] = s
	c.mu.Unlock()
	return s, nil
}
