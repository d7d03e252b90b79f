package crypto

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/Mindburn-Labs/aatp-router/pkg/canonicalize"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Verify reports whether sig is a valid Ed25519 signature of msg under pub.
// Malformed keys or signatures verify as false instead of panicking.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// VerifyEncoded checks a base64 signature against an encoded public key
// (PEM or base64). Every failure mode yields the same INVALID_SIGNATURE error
// so callers cannot distinguish a bad key from a bad signature.
func VerifyEncoded(publicKey string, msg []byte, signatureB64 string) error {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return contracts.ErrInvalidSignature
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return contracts.ErrInvalidSignature
	}
	if !Verify(pub, msg, sig) {
		return contracts.ErrInvalidSignature
	}
	return nil
}

// VerifyTransaction verifies the consumer signature over the signed subset of req.
func VerifyTransaction(agent *contracts.Agent, req *contracts.TransactionRequest, signatureB64 string) error {
	if signatureB64 == "" {
		return contracts.ErrInvalidSignature
	}
	msg, err := canonicalize.SignedBytes(req)
	if err != nil {
		return err
	}
	return VerifyEncoded(agent.PublicKey, msg, signatureB64)
}
