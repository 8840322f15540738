package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FairForge/requestopt/internal/api"
	"github.com/FairForge/requestopt/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) (path, historyDir string) {
	t.Helper()
	dir := t.TempDir()
	historyDir = filepath.Join(dir, "history")
	content := `
logging:
  level: error
simulator:
  latency: 1ms
  jitter: 0s
  payload_size: 256
history:
  backend: file
  dir: ` + historyDir + `
`
	path = filepath.Join(dir, "requestopt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, historyDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBenchRun_RecordsAndCompares(t *testing.T) {
	cfgPath, historyDir := writeTestConfig(t)

	out, err := execute(t, "bench", "run", "-c", cfgPath, "-n", "10", "--name", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "Benchmark Report")
	assert.Contains(t, out, "Name: cli")

	_, err = execute(t, "bench", "run", "-c", cfgPath, "-n", "10", "--name", "cli", "--format", "yaml")
	require.NoError(t, err)

	entries, err := os.ReadDir(historyDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	out, err = execute(t, "bench", "history", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, " cli "))

	out, err = execute(t, "bench", "compare", "-c", cfgPath, "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "Verdict:")
}

func TestBenchRun_OutputFile(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	target := filepath.Join(t.TempDir(), "report.json")

	_, err := execute(t, "bench", "run", "-c", cfgPath, "-n", "5", "-f", "json", "-o", target)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"result"`)
}

func TestBenchRun_Errors(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := execute(t, "bench", "run", "-c", cfgPath, "--profile", "nope")
	assert.Error(t, err)

	_, err = execute(t, "bench", "run", "-c", cfgPath, "-n", "5", "--format", "xml")
	assert.Error(t, err)

	_, err = execute(t, "bench", "compare", "-c", cfgPath, "never-ran")
	assert.Error(t, err)

	_, err = execute(t, "bench", "history", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBenchProfiles(t *testing.T) {
	out, err := execute(t, "bench", "profiles")
	require.NoError(t, err)
	for _, name := range []string{"quick", "standard", "stress", "endurance"} {
		assert.Contains(t, out, name)
	}
}

func TestToken(t *testing.T) {
	_, err := execute(t, "token")
	assert.Error(t, err, "no secret configured")

	t.Setenv("REQOPT_SERVER_JWT_SECRET", "s3cret")
	out, err := execute(t, "token", "--subject", "ci")
	require.NoError(t, err)

	claims, err := api.NewTokenAuth("s3cret").ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestApp_ApplyConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	next := config.Default()
	next.Optimizer.MaxBatchSize = 42
	a.applyConfig(next)
	assert.Equal(t, 42, a.optimizer.Config().MaxBatchSize)

	bad := config.Default()
	bad.Optimizer.PriorityStrategy = "random"
	a.applyConfig(bad)
	assert.Equal(t, 42, a.optimizer.Config().MaxBatchSize)
}
