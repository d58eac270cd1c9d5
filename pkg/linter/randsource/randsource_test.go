package randsource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestLintFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", `package a

import (
	"fmt"
	"math/rand"
	mr "math/rand/v2"
	. "math/rand"
)
`)
	issues, err := LintFile(filepath.Join(root, "a.go"))
	require.NoError(t, err)
	require.Len(t, issues, 3)

	assert.Equal(t, 5, issues[0].Line)
	assert.Contains(t, issues[0].Message, "import of math/rand is prohibited")
	assert.Contains(t, issues[1].Message, "as 'mr'")
	assert.Contains(t, issues[1].Message, "math/rand/v2")
	assert.Contains(t, issues[2].Message, "dot import")
}

func TestLintFile_Clean(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.go", "package b\n\nimport \"crypto/rand\"\n\nvar _ = rand.Reader\n")
	issues, err := LintFile(filepath.Join(root, "b.go"))
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLintFile_ParseError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bad.go", "this is not go")
	_, err := LintFile(filepath.Join(root, "bad.go"))
	assert.Error(t, err)
}

func TestLintProject_AllowedAndSkipped(t *testing.T) {
	root := t.TempDir()
	src := "package x\n\nimport \"math/rand/v2\"\n\nvar _ = rand.IntN\n"
	writeFile(t, root, "pkg/securerandom/seeded.go", src)
	writeFile(t, root, "_examples/old/main.go", src)
	writeFile(t, root, "testdata/fixture.go", src)
	writeFile(t, root, "core/reencrypt/sample.go", src)
	writeFile(t, root, "README.md", "math/rand")

	issues, err := LintProject(root, nil, now)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, filepath.Join(root, "core", "reencrypt", "sample.go"), issues[0].File)
}

func TestLintProject_Exemptions(t *testing.T) {
	root := t.TempDir()
	src := "package x\n\nimport \"math/rand\"\n\nvar _ = rand.Int\n"
	writeFile(t, root, "sim/jitter.go", src)
	writeFile(t, root, "sim/legacy.go", src)

	cfg := &Config{
		StrictMode: true,
		Exemptions: []Exemption{
			{Path: "sim/jitter.go", Reason: "retry jitter", ExpiryDate: "2026-12-31"},
			{Path: "sim/legacy.go", Reason: "old simulator", ExpiryDate: "2026-01-01"},
		},
	}
	issues, err := LintProject(root, cfg, now)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0].Message, "exemption expired on 2026-01-01")
	assert.Contains(t, issues[1].Message, "import of math/rand")

	cfg.StrictMode = false
	issues, err = LintProject(root, cfg, now)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLoadConfig(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lint.yaml", `allowed_directories: [pkg/securerandom, tools]
strict_mode: false
exemptions:
  - path: sim/jitter.go
    reason: retry jitter
    expiry_date: "2026-12-31"
`)
	cfg, err := LoadConfig(filepath.Join(root, "lint.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/securerandom", "tools"}, cfg.AllowedDirectories)
	assert.False(t, cfg.StrictMode)
	require.Len(t, cfg.Exemptions, 1)
	assert.Equal(t, "retry jitter", cfg.Exemptions[0].Reason)

	writeFile(t, root, "bad.yaml", "exemptions:\n  - path: a.go\n    expiry_date: someday\n")
	_, err = LoadConfig(filepath.Join(root, "bad.yaml"))
	assert.ErrorContains(t, err, "invalid expiry date")

	_, err = LoadConfig(filepath.Join(root, "missing.yaml"))
	assert.Error(t, err)
}

func TestRepositoryIsClean(t *testing.T) {
	issues, err := LintProject(filepath.Join("..", "..", ".."), nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, issues)
}
