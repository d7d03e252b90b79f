package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

const maxBodyBytes = 1 << 20

const transactionRequestSchema = `{
  "type": "object",
  "required": ["consumer_agent_id", "service_id"],
  "properties": {
    "consumer_agent_id": {"type": "string", "minLength": 1},
    "service_id": {"type": "string", "minLength": 1},
    "payload": {"type": ["object", "null"]},
    "transaction_id": {"type": "string", "maxLength": 256},
    "approval_id": {"type": "string", "maxLength": 256}
  }
}`

const approvalCreateSchema = `{
  "type": "object",
  "required": ["transaction_id", "summary"],
  "properties": {
    "approval_id": {"type": "string", "minLength": 1, "maxLength": 256},
    "transaction_id": {"type": "string", "minLength": 1, "maxLength": 256},
    "agent_id": {"type": "string"},
    "summary": {"type": "string", "minLength": 1},
    "details": {},
    "alternatives": {"type": "array", "items": {"type": "object"}},
    "timeout_seconds": {"type": "integer", "minimum": 0}
  }
}`

const approvalDecisionSchema = `{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {"enum": ["approve", "reject"]},
    "approved_by": {"type": "string"},
    "comments": {"type": "string"},
    "selected_alternative": {"type": ["integer", "null"], "minimum": 0}
  }
}`

var (
	transactionSchema = mustCompile("transaction_request", transactionRequestSchema)
	createSchema      = mustCompile("approval_create", approvalCreateSchema)
	decisionSchema    = mustCompile("approval_decision", approvalDecisionSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://aatp.schemas.local/api/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

// decodeBody reads a bounded JSON body, validates it against schema and
// unmarshals it into out. Every failure is INVALID_REQUEST.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, out any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return contracts.NewError(contracts.CodeInvalidRequest, "request body too large")
		}
		return contracts.WrapError(contracts.CodeInvalidRequest, "request body could not be read", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return contracts.WrapError(contracts.CodeInvalidRequest, "request body is not valid JSON", err)
	}
	if err := schema.Validate(doc); err != nil {
		return contracts.WrapError(contracts.CodeInvalidRequest, validationMessage(err), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return contracts.WrapError(contracts.CodeInvalidRequest, "request body has the wrong shape", err)
	}
	return nil
}

// validationMessage flattens the innermost schema failure into one line.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "request body is invalid"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("invalid request body at %s: %s", loc, ve.Message)
}
