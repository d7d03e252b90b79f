// Package canonicalize produces RFC 8785 (JSON Canonicalization Scheme) bytes
// for anything the router signs or verifies.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Canonicalize returns the RFC 8785 canonical JSON representation of v.
//
// v is first encoded with encoding/json so struct tags are honoured, then
// transformed: object keys sorted by UTF-16 code units at every depth, no
// insignificant whitespace, ECMAScript number formatting, minimal string escapes.
// Values encoding/json rejects (cycles, channels, funcs, NaN) fail with
// SERIALIZATION_ERROR.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeSerializationError, "value is not JSON-serializable", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeSerializationError, "value cannot be canonicalized", err)
	}
	return out, nil
}

// CanonicalizeRaw canonicalizes an already-encoded JSON document.
func CanonicalizeRaw(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeSerializationError, "document cannot be canonicalized", err)
	}
	return out, nil
}

// SignedBytes returns the bytes a consumer signs for req: the canonical form of
// {consumer_agent_id, service_id, payload, transaction_id}.
func SignedBytes(req *contracts.TransactionRequest) ([]byte, error) {
	return Canonicalize(req.Signed())
}

// CanonicalHash returns the SHA-256 hex digest of the canonical form of v.
func CanonicalHash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 of data and returns it hex-encoded.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
