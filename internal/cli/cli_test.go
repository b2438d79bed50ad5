package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "next", "check"})
}

func TestNextCron(t *testing.T) {
	out, err := execute(t, "next", "0 10,40 * * * ?", "-n", "3", "--tz", "UTC", "--from", "2024-03-01T09:00:00Z")
	require.NoError(t, err)

	assert.Contains(t, out, "0 10,40 * * * ?")
	assert.Contains(t, out, "2024-03-01T09:10:00Z")
	assert.Contains(t, out, "2024-03-01T09:40:00Z")
	assert.Contains(t, out, "2024-03-01T10:10:00Z")
	assert.NotContains(t, out, "2024-03-01T10:40:00Z")
	assert.Contains(t, out, "from now")
}

func TestNextFixedRate(t *testing.T) {
	out, err := execute(t, "next", "every:30m+5m", "-n", "2", "--tz", "UTC", "--from", "2024-03-01T09:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-01T09:05:00Z")
	assert.Contains(t, out, "2024-03-01T09:35:00Z")
}

func TestNextRejectsBadInput(t *testing.T) {
	_, err := execute(t, "next", "61 * * * * ?")
	assert.Error(t, err)

	_, err = execute(t, "next", "0 * * * * ?", "-n", "0")
	assert.Error(t, err)

	_, err = execute(t, "next", "0 * * * * ?", "--tz", "Mars/Olympus")
	assert.Error(t, err)
}

func TestCheckPrintsJobs(t *testing.T) {
	p := filepath.Join(t.TempDir(), "pifan.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
scheduler:
  timezone: UTC
actuator:
  driver: log
jobs:
  - name: fanOn
    action: on
    cron: "0 10,40 * * * ?"
  - name: purge
    action: toggle
    every: 30m
`), 0o644))

	out, err := execute(t, "check", "-c", p)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK: 2 configured job(s)")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "fanOn")
	assert.Contains(t, lines[2], "purge")
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "pifan.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
jobs:
  - name: fanOn
    action: explode
    cron: "0 10,40 * * * ?"
`), 0o644))

	_, err := execute(t, "check", "-c", p)
	assert.Error(t, err)
}

func TestCheckRequiresConfigFlag(t *testing.T) {
	_, err := execute(t, "check")
	assert.Error(t, err)
}
