package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryRespectsBoundaries(t *testing.T) {
	violations, err := check(filepath.Join("..", ".."), rules)
	require.NoError(t, err)
	for _, v := range violations {
		t.Errorf("boundary violation: %s", v)
	}
}

func TestCheckReportsViolation(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pkg", "crypto")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	src := "package crypto\n\nimport _ \"net/http\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.go"), []byte(src), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_test.go"), []byte(src), 0o600))

	cryptoRules := []rule{{Dir: "pkg/crypto", Forbidden: []string{"net/http"}}}
	violations, err := check(root, cryptoRules)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "pkg/crypto/bad.go", violations[0].File)
	assert.Equal(t, 3, violations[0].Line)

	var out bytes.Buffer
	assert.Equal(t, 1, run(root, cryptoRules, &out, &out))
	assert.Contains(t, out.String(), "1 boundary violation(s) found")
}

func TestCheckMissingDir(t *testing.T) {
	_, err := check(t.TempDir(), []rule{{Dir: "pkg/nope"}})
	assert.Error(t, err)
}
