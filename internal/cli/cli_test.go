package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgfiles/internal/api"
)

func writeConfig(t *testing.T, apiURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`server:
  api_url: %s
  ws_url: ws://127.0.0.1:1/ws
session:
  account: "7"
  chat: "42"
system:
  db_path: %s
  log_level: error
`, apiURL, filepath.Join(dir, "data", "state.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFilesAndFilterCommands(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/telegram/7/chat/42/files", r.URL.Path)
		queries = append(queries, r.URL.RawQuery)

		page := api.FilePage{Count: 2}
		if r.URL.Query().Get("fromCursor") == "" {
			page.Files = []api.File{{ID: 1, UniqueID: "AQAD1", FileName: "a.mp4", Size: 2048, DownloadedSize: 1024, DownloadStatus: api.DownloadDownloading}}
			page.NextCursor = 2
		} else {
			page.Files = []api.File{{ID: 2, UniqueID: "AQAD2", FileName: "b.jpg", Size: 10, DownloadStatus: api.DownloadCompleted}}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	cfgPath := writeConfig(t, server.URL)

	out, err := run(t, "--config", cfgPath, "files", "--pages", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "AQAD1")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "AQAD2")
	assert.Contains(t, out, "100.0%")
	assert.NotContains(t, out, "more files available")
	require.Len(t, queries, 2)
	assert.Contains(t, queries[1], "fromCursor=2")

	out, err = run(t, "--config", cfgPath, "filter", "set", "--search", "cats", "--type", "video")
	require.NoError(t, err)
	assert.Contains(t, out, "saved:")

	out, err = run(t, "--config", cfgPath, "filter", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `search="cats" type=video status=all`)

	out, err = run(t, "--config", cfgPath, "filter", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, `search="" type=media status=all`)
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "0 B/s", formatRate(0))
	assert.Equal(t, "0 B/s", formatRate(-1))
	assert.Equal(t, "500 kB/s", formatRate(500_000))
}

func TestProgressOf(t *testing.T) {
	f := api.File{Size: 200, DownloadedSize: 50}
	assert.InDelta(t, 25, progressOf(&f).Progress, 0.001)

	f.DownloadStatus = api.DownloadCompleted
	assert.InDelta(t, 100, progressOf(&f).Progress, 0.001)

	assert.Zero(t, progressOf(&api.File{}).Progress)
}
