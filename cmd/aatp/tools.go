package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/client"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/crypto"
)

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", "http://localhost:8080", "router base URL")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	status, err := client.New(*url, client.WithTimeout(*timeout)).Health(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "status=%s mode=%s version=%s\n", status.Status, status.Mode, status.Version)
	for name, result := range status.Checks {
		_, _ = fmt.Fprintf(stdout, "  %s: %s\n", name, result)
	}
	if status.Status == "unhealthy" {
		return 1
	}
	return 0
}

func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	agentID := fs.String("agent-id", "", "agent id the key belongs to (required)")
	outDir := fs.String("out", ".", "directory for <agent-id>.key and <agent-id>.pub")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *agentID == "" {
		_, _ = fmt.Fprintln(stderr, "keygen: -agent-id is required")
		return 2
	}

	signer, err := crypto.NewEd25519Signer(*agentID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	privPEM, err := crypto.EncodePrivateKeyPEM(signer.PrivateKey())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	pubPEM, err := signer.PublicKeyPEM()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(*outDir, 0o750); err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	keyPath := filepath.Join(*outDir, *agentID+".key")
	pubPath := filepath.Join(*outDir, *agentID+".pub")
	if err := os.WriteFile(keyPath, []byte(privPEM), 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	if err := os.WriteFile(pubPath, []byte(pubPEM), 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "private key: %s\npublic key:  %s\n\n%s", keyPath, pubPath, pubPEM)
	return 0
}

// runSignCmd prints the base64 X-Agent-Signature for a transaction request.
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyPath := fs.String("key", "", "PEM private key (required)")
	inPath := fs.String("in", "-", "transaction request JSON, - for stdin")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *keyPath == "" {
		_, _ = fmt.Fprintln(stderr, "sign: -key is required")
		return 2
	}

	keyData, err := os.ReadFile(*keyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}
	priv, err := crypto.ParsePrivateKeyPEM(keyData)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}

	var body []byte
	if *inPath == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*inPath)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}

	var req contracts.TransactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: invalid request JSON: %v\n", err)
		return 1
	}
	sig, err := crypto.NewEd25519SignerFromKey(priv, req.ConsumerAgentID).SignTransaction(&req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sign: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, sig)
	return 0
}
