package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
logging:
  development: false
  level: error
workers:
  - id: nvb
    base_url: http://www.nationalevacaturebank.nl
    blacklist: ["stage"]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

func TestCheckURLCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--config", writeConfig(t),
		"check-url", "--worker", "nvb",
		"http://www.nationalevacaturebank.nl/vacature/1",
		"http://www.nationalevacaturebank.nl/stage/2",
	})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Equal(t,
		"allowed\thttp://www.nationalevacaturebank.nl/vacature/1\n"+
			"denied\thttp://www.nationalevacaturebank.nl/stage/2\tcontains blacklisted word \"stage\"\n",
		out.String())
}

func TestCheckURLCommandRequiresWorker(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", writeConfig(t), "check-url", "http://x"})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestCheckURLCommandUnknownWorker(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", writeConfig(t), "check-url", "--worker", "nope", "http://x"})
	require.ErrorContains(t, cmd.ExecuteContext(context.Background()), "not configured")
}

func TestRootRejectsMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "check-url", "--worker", "nvb", "http://x"})
	require.ErrorContains(t, cmd.ExecuteContext(context.Background()), "load config")
}
