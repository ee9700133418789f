package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittonn/pkg/api"
	"github.com/marmos91/dittonn/pkg/metadata/checkpoint"
	"github.com/marmos91/dittonn/pkg/metadata/history"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
)

func init() {
	// The root command owns --config; tests run the admin tree on its own.
	Cmd.PersistentFlags().String("config", "", "config file")
}

func startPrimary(t *testing.T) (*namenode.Namenode, string) {
	t.Helper()
	dirs := []string{filepath.Join(t.TempDir(), "name")}
	_, err := namenode.Format(dirs, nil, namenode.FormatOptions{})
	require.NoError(t, err)

	nn, err := namenode.Open(context.Background(), namenode.Config{ImageDirs: dirs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = nn.Close() })

	srv := httptest.NewServer(api.NewRouter(nn))
	t.Cleanup(srv.Close)
	return nn, srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	address, outputFormat = "", "table"
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetErr(&out)
	Cmd.SetArgs(args)
	err := Cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusJSON(t *testing.T) {
	nn, url := startPrimary(t)
	_, err := nn.Mkdirs(context.Background(), "/a")
	require.NoError(t, err)

	out, err := run(t, "status", "--address", url, "-o", "json")
	require.NoError(t, err)

	var st namenode.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, nn.StorageInfo().NamespaceID, st.NamespaceID)
	assert.Equal(t, uint64(1), st.LastTxID)
}

func TestStatusTable(t *testing.T) {
	_, url := startPrimary(t)

	out, err := run(t, "status", "--address", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Namespace ID")
	assert.Contains(t, out, "IMAGE_AND_EDITS")
}

func TestSafeModeRoundTrip(t *testing.T) {
	nn, url := startPrimary(t)

	_, err := run(t, "safemode", "enter", "--address", url)
	require.NoError(t, err)
	assert.True(t, nn.SafeMode())

	out, err := run(t, "safemode", "--address", url, "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":true}`, out)

	_, err = run(t, "save-namespace", "--address", url, "-o", "json")
	require.NoError(t, err)

	_, err = run(t, "safemode", "leave", "--address", url)
	require.NoError(t, err)
	assert.False(t, nn.SafeMode())

	_, err = run(t, "safemode", "toggle", "--address", url)
	assert.Error(t, err)
}

func TestSaveNamespaceOutsideSafeMode(t *testing.T) {
	_, url := startPrimary(t)

	_, err := run(t, "save-namespace", "--address", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dittonn admin safemode enter")
}

func TestCheckpointHistory(t *testing.T) {
	dir := t.TempDir()
	journalDir := filepath.Join(dir, "history")

	journal, err := history.Open(journalDir, history.Options{})
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		started := start.Add(time.Duration(i) * time.Minute)
		require.NoError(t, journal.Record(context.Background(), checkpoint.Attempt{
			ID:          fmt.Sprintf("a%d", i),
			Started:     started,
			Finished:    started.Add(2 * time.Second),
			State:       "succeeded",
			Transferred: true,
			MergedTxID:  uint64(10 * (i + 1)),
		}))
	}
	require.NoError(t, journal.Close())

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("secondary:\n  history:\n    path: %s\n", journalDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	out, err := run(t, "checkpoint-history", "--config", cfgPath, "--limit", "2", "-o", "json")
	require.NoError(t, err)

	var attempts []checkpoint.Attempt
	require.NoError(t, json.Unmarshal([]byte(out), &attempts))
	require.Len(t, attempts, 2)
	assert.Equal(t, "a2", attempts[0].ID)
	assert.Equal(t, "a1", attempts[1].ID)

	out, err = run(t, "checkpoint-history", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "2s")
}
