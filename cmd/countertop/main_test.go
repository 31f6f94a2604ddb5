package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/countertop/topologystore"
)

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("Hello there. How are you?\n"), 0o600))

	cfg := `broker:
  kind: memory
http:
  addr: ""
appliances:
  - class: TextFile
    config:
      path: ` + input + `
  - class: SentenceSplitter
  - class: WordSplitter
    label: words
` + extra
	path := filepath.Join(dir, "countertop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestVersionSkipsConfig(t *testing.T) {
	out, _, err := runCLI(t, context.Background(), "version", "--config", "/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, appName+" version "+Version)
}

func TestConfigErrorsSurface(t *testing.T) {
	_, _, err := runCLI(t, context.Background(), "topology", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")

	path := writeTestConfig(t, "")
	_, _, err = runCLI(t, context.Background(), "topology", "--config", path, "--log-level", "loud")
	require.Error(t, err)
}

func TestTopologyTable(t *testing.T) {
	path := writeTestConfig(t, "")

	out, _, err := runCLI(t, context.Background(), "topology", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SentenceSplitter(TEXT.BLOB:TextFile)")
	assert.Contains(t, out, "words(TEXT.SENTENCE:SentenceSplitter(TEXT.BLOB:TextFile))")
	assert.Contains(t, out, "TEXT.WORD")
}

func TestTopologyJSON(t *testing.T) {
	path := writeTestConfig(t, "")

	out, _, err := runCLI(t, context.Background(), "topology", "--config", path, "-o", "json")
	require.NoError(t, err)

	var snap topologystore.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "countertop", snap.ID)
	assert.Len(t, snap.Stations, 3)
	require.Len(t, snap.Streams, 3)
	require.NoError(t, snap.Validate())

	longest := 0
	for _, s := range snap.Streams {
		longest = max(longest, s.Length)
	}
	assert.Equal(t, 3, longest)
}

func TestTopologyYAMLUsesJSONNames(t *testing.T) {
	path := writeTestConfig(t, "")

	out, _, err := runCLI(t, context.Background(), "topology", "--config", path, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "output_types:")
	assert.Contains(t, out, "path: TextFile")
}

func TestTopologyRejectsUnknownFormat(t *testing.T) {
	path := writeTestConfig(t, "")
	_, _, err := runCLI(t, context.Background(), "topology", "--config", path, "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestTopologyUnknownAppliance(t *testing.T) {
	path := writeTestConfig(t, "  - class: Transcriber\n")
	_, _, err := runCLI(t, context.Background(), "topology", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appliances[3] (Transcriber)")
}

func TestStreamsRequiresStore(t *testing.T) {
	path := writeTestConfig(t, "")
	_, _, err := runCLI(t, context.Background(), "streams", "--config", path)
	assert.ErrorContains(t, err, "store.enabled is false")
}

func TestRunStartsAndStops(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "countertop.lock")
	path := writeTestConfig(t, "lock_file: "+lockPath+"\nlog:\n  format: json\n")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, stderr, err := runCLI(t, ctx, "run", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "countertop started")
	assert.Contains(t, stderr, "countertop stopped")

	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "starting countertop", first["msg"])
}

func TestRunHonoursLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "countertop.lock")
	path := writeTestConfig(t, "lock_file: "+lockPath+"\n")

	held := flock.New(lockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = held.Unlock() }()

	_, _, err = runCLI(t, context.Background(), "run", "--config", path)
	assert.ErrorContains(t, err, "another countertop instance")
}
