package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pricewatch.yaml")
	cfg := `
logging:
  development: false
  level: error
storage:
  backend: sqlite
sqlite:
  path: ` + filepath.Join(dir, "watchlist.db") + `
renderer:
  backend: static
monitor:
  timezone: UTC
screenshots:
  backend: none
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root, closeApp := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	require.NoError(t, closeApp(context.Background()))
	return out.String(), errOut.String(), err
}

func TestCLIWorkflow(t *testing.T) {
	t.Parallel()

	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><span class="price">$1,299.50</span></body></html>`))
	}))
	defer shop.Close()

	cfgPath := writeConfig(t)
	productURL := shop.URL + "/tv"

	out, _, err := execute(t, "", "--config", cfgPath, "insert", "-d", "Television", "-u", productURL)
	require.NoError(t, err)
	match := regexp.MustCompile(`^inserted (\S+) `).FindStringSubmatch(out)
	require.Len(t, match, 2, out)
	id := match[1]

	out, _, err = execute(t, "", "--config", cfgPath, "routine", "get", productURL)
	require.NoError(t, err)
	require.Contains(t, out, "price: undefined")

	routine := `return { price: util.parsePrice(page.$(".price").text()), discount: undefined };`
	out, _, err = execute(t, routine, "--config", cfgPath, "routine", "set", productURL)
	require.NoError(t, err)
	require.Contains(t, out, "saved routine")

	out, _, err = execute(t, "", "--config", cfgPath, "refresh", id)
	require.NoError(t, err)
	require.Contains(t, out, "$1299.50")
	require.Contains(t, out, "refreshed 1 of 1")

	// Already refreshed today, so a bulk refresh has nothing to do.
	out, _, err = execute(t, "", "--config", cfgPath, "refresh")
	require.NoError(t, err)
	require.Contains(t, out, "refreshed 0 of 0")

	out, _, err = execute(t, "", "--config", cfgPath, "list")
	require.NoError(t, err)
	require.Contains(t, out, "Television")
	require.Contains(t, out, id)
}

func TestCLIRefreshUnknownItemFails(t *testing.T) {
	t.Parallel()

	out, errOut, err := execute(t, "", "--config", writeConfig(t), "refresh", "missing")
	require.ErrorContains(t, err, "1 of 1 refreshes failed")
	require.Contains(t, errOut, "missing: not_found")
	require.Contains(t, out, "refreshed 0 of 1")
}

func TestCLIInsertRequiresFlags(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, "", "--config", writeConfig(t), "insert", "-d", "Widget")
	require.ErrorContains(t, err, "url")
}

func TestCLIBadConfig(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	require.ErrorContains(t, err, "load config")
}
