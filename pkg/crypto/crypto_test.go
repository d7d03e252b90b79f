package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

func TestSignAndVerifyTransaction(t *testing.T) {
	signer, err := NewEd25519Signer("consumer-1")
	require.NoError(t, err)
	pemKey, err := signer.PublicKeyPEM()
	require.NoError(t, err)

	agent := &contracts.Agent{AgentID: "consumer-1", PublicKey: pemKey}
	req := &contracts.TransactionRequest{
		ConsumerAgentID: "consumer-1",
		ServiceID:       "svc-greet",
		Payload:         map[string]any{"name": "Alice"},
	}

	sig, err := signer.SignTransaction(req)
	require.NoError(t, err)
	require.NoError(t, VerifyTransaction(agent, req, sig))

	// Key order in the payload does not matter to the verifier.
	reordered := &contracts.TransactionRequest{
		ServiceID:       "svc-greet",
		Payload:         map[string]any{"name": "Alice"},
		ConsumerAgentID: "consumer-1",
	}
	assert.NoError(t, VerifyTransaction(agent, reordered, sig))
}

func TestVerifyTransaction_Tampered(t *testing.T) {
	signer, err := NewEd25519Signer("mallory")
	require.NoError(t, err)
	agent := &contracts.Agent{AgentID: "mallory", PublicKey: base64.StdEncoding.EncodeToString(signer.PublicKey())}

	req := &contracts.TransactionRequest{ConsumerAgentID: "mallory", ServiceID: "svc", Payload: map[string]any{"amount": 1}}
	sig, err := signer.SignTransaction(req)
	require.NoError(t, err)

	req.Payload["amount"] = 1000
	err = VerifyTransaction(agent, req, sig)
	assert.True(t, errors.Is(err, contracts.ErrInvalidSignature))
}

func TestVerifyEncoded_MalformedInputs(t *testing.T) {
	signer, err := NewEd25519Signer("a")
	require.NoError(t, err)
	msg := []byte("hello")
	good := base64.StdEncoding.EncodeToString(signer.Sign(msg))
	pub := base64.StdEncoding.EncodeToString(signer.PublicKey())

	tests := []struct {
		name string
		key  string
		sig  string
	}{
		{"empty key", "", good},
		{"short key", base64.StdEncoding.EncodeToString([]byte("short")), good},
		{"garbage pem", "-----BEGIN PUBLIC KEY-----\nnope\n-----END PUBLIC KEY-----", good},
		{"not base64 sig", pub, "!!!"},
		{"short sig", pub, base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"wrong sig", pub, base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyEncoded(tt.key, msg, tt.sig)
			require.Error(t, err)
			assert.Equal(t, contracts.CodeInvalidSignature, contracts.AsError(err).Code)
		})
	}

	assert.NoError(t, VerifyEncoded(pub, msg, good))
}

func TestVerify_NoPanicOnBadLengths(t *testing.T) {
	assert.False(t, Verify(ed25519.PublicKey{1, 2, 3}, []byte("m"), make([]byte, 64)))
	assert.False(t, Verify(make(ed25519.PublicKey, 32), []byte("m"), []byte{1}))
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer("a")
	require.NoError(t, err)

	pemKey, err := EncodePrivateKeyPEM(signer.PrivateKey())
	require.NoError(t, err)
	priv, err := ParsePrivateKeyPEM([]byte(pemKey))
	require.NoError(t, err)
	assert.Equal(t, signer.PrivateKey(), priv)

	_, err = ParsePrivateKeyPEM([]byte("junk"))
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}
