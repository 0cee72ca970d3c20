package cmd

import (
	"bytes"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgruener/proxybatch/pkg/proxylist"
)

func writeProxies(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func identityProxy(t *testing.T, ip string) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Proxy-Authorization") == "" {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		_, _ = w.Write([]byte(`{"origin": "` + ip + `"}`))
	}))
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, proxylist.Format("a", "b", host, port)
}

func TestPlanCommand(t *testing.T) {
	t.Setenv("PROXYBATCH_MIN_PER_BATCH", "2")
	t.Setenv("PROXYBATCH_MAX_PER_BATCH", "2")
	t.Setenv("PROXYBATCH_DELAY", "1s")

	var out bytes.Buffer
	cmd := PlanCommand{out: &out, rng: rand.New(rand.NewSource(1))}
	require.Equal(t, 0, cmd.Run([]string{"5"}))

	assert.Equal(t, strings.Join([]string{
		"batch 1: 2 sessions (proxies 1 to 2)",
		"batch 2: 2 sessions (proxies 3 to 4)",
		"batch 3: 1 sessions (proxies 5 to 5)",
		"3 batches, at least 2s of delays",
	}, "\n")+"\n", out.String())
}

func TestPlanCommand_Args(t *testing.T) {
	cmd := PlanCommand{out: &bytes.Buffer{}, rng: rand.New(rand.NewSource(1))}
	assert.Equal(t, cli.RunResultHelp, cmd.Run(nil))
	assert.Equal(t, 1, cmd.Run([]string{"many"}))
}

func TestProxiesCommand(t *testing.T) {
	path := writeProxies(t, "a:b@1.2.3.4:8080", "garbage")

	var out bytes.Buffer
	require.Equal(t, 0, ProxiesCommand{out: &out}.Run([]string{path}))
	assert.Equal(t, "http://1.2.3.4:8080\ta\n", out.String())

	assert.Equal(t, 1, ProxiesCommand{out: &out}.Run([]string{writeProxies(t, "garbage")}))
	assert.Equal(t, 1, ProxiesCommand{out: &out}.Run([]string{filepath.Join(t.TempDir(), "missing.txt")}))
}

func TestExtensionCommand(t *testing.T) {
	path := writeProxies(t, "a:b@1.2.3.4:8080", "c:d@5.6.7.8:3128")
	dir := filepath.Join(t.TempDir(), "extensions")

	var out bytes.Buffer
	require.Equal(t, 0, ExtensionCommand{out: &out}.Run([]string{dir, path}))
	assert.FileExists(t, filepath.Join(dir, "1.2.3.4_8080.zip"))
	assert.FileExists(t, filepath.Join(dir, "5.6.7.8_3128.zip"))
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
}

func TestRunCommand_HTTPBackend(t *testing.T) {
	srv, line := identityProxy(t, "192.0.2.77")
	defer srv.Close()

	t.Setenv("PROXYBATCH_PROXY_FILE", writeProxies(t, line, "garbage", line))
	t.Setenv("PROXYBATCH_BACKEND", "http")
	t.Setenv("PROXYBATCH_IDENTITY_URL", "http://httpbin.invalid/ip")
	t.Setenv("PROXYBATCH_MIN_PER_BATCH", "1")
	t.Setenv("PROXYBATCH_MAX_PER_BATCH", "1")
	t.Setenv("PROXYBATCH_DELAY", "0s")

	var out bytes.Buffer
	require.Equal(t, 0, RunCommand{out: &out}.Run(nil))

	logs := out.String()
	assert.Contains(t, logs, "Loaded 2 valid proxies")
	assert.Equal(t, 2, strings.Count(logs, "Current IP via "+line))
	assert.Contains(t, logs, "192.0.2.77")
	assert.Contains(t, logs, "Automation finished")
}

func TestRunCommand_FailedSessionsStillSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	line := proxylist.Format("a", "b", host, port)

	t.Setenv("PROXYBATCH_PROXY_FILE", writeProxies(t, line))
	t.Setenv("PROXYBATCH_BACKEND", "http")
	t.Setenv("PROXYBATCH_IDENTITY_URL", "http://httpbin.invalid/ip")

	var out bytes.Buffer
	require.Equal(t, 0, RunCommand{out: &out}.Run(nil))
	assert.Contains(t, out.String(), "Error with proxy "+line)
}

func TestRunCommand_MissingProxyFile(t *testing.T) {
	t.Setenv("PROXYBATCH_PROXY_FILE", filepath.Join(t.TempDir(), "missing.txt"))
	t.Setenv("PROXYBATCH_BACKEND", "http")

	var out bytes.Buffer
	assert.Equal(t, 1, RunCommand{out: &out}.Run(nil))
	assert.Contains(t, out.String(), "cannot read proxy file")
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	t.Setenv("PROXYBATCH_MIN_PER_BATCH", "5")
	t.Setenv("PROXYBATCH_MAX_PER_BATCH", "1")

	assert.Equal(t, 1, RunCommand{out: &bytes.Buffer{}}.Run(nil))
}
