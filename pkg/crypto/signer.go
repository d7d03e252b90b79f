// Package crypto holds the Ed25519 primitives agents use to sign transactions
// and the router uses to verify them.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/Mindburn-Labs/aatp-router/pkg/canonicalize"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Signer produces transaction signatures on behalf of one agent.
type Signer interface {
	Sign(data []byte) []byte
	SignTransaction(req *contracts.TransactionRequest) (string, error)
	PublicKey() ed25519.PublicKey
	PublicKeyPEM() (string, error)
}

// Ed25519Signer signs with an in-memory Ed25519 private key.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	AgentID string
}

// NewEd25519Signer generates a fresh key pair for agentID.
func NewEd25519Signer(agentID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, AgentID: agentID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, agentID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		AgentID: agentID,
	}
}

// Sign returns the raw 64-byte Ed25519 signature over data.
func (s *Ed25519Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.privKey, data)
}

// SignTransaction canonicalizes the signed subset of req and returns the
// base64 signature expected in the X-Agent-Signature header.
func (s *Ed25519Signer) SignTransaction(req *contracts.TransactionRequest) (string, error) {
	msg, err := canonicalize.SignedBytes(req)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(s.Sign(msg)), nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.pubKey
}

func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.privKey
}

// PublicKeyPEM returns the public key in the PKIX PEM form stored in directories.
func (s *Ed25519Signer) PublicKeyPEM() (string, error) {
	return EncodePublicKeyPEM(s.pubKey)
}
