package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func statusServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"orderId":"ord-1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunQuickModeJSON(t *testing.T) {
	srv, hits := statusServer(t, http.StatusOK)
	db := filepath.Join(t.TempDir(), "history.db")

	code, out, errOut := execute(t, "run",
		"--url", srv.URL,
		"--executor", "per-vu-iterations",
		"--vus", "2",
		"--iterations", "3",
		"--threshold", "http_req_failed:rate<0.01",
		"--json",
		"--history-db", db,
	)
	require.Equal(t, ExitOK, code, errOut)
	assert.Equal(t, int64(6), hits.Load())

	var res engine.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Verdict.Passed)
	assert.Equal(t, int64(6), res.Metrics.TotalRequests)
	require.Contains(t, res.Scenarios, quickScenario)

	code, out, errOut = execute(t, "history", "list", "--db", db)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, res.ID)
	assert.Contains(t, out, "pass")

	code, out, errOut = execute(t, "history", "show", res.ID, "--db", db)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "Quick Test - Completed ✓")

	code, _, _ = execute(t, "history", "delete", res.ID, "--db", db)
	assert.Equal(t, ExitOK, code)
	code, _, errOut = execute(t, "history", "show", res.ID, "--db", db)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "run not found")
}

const failingConfig = `
name: Failing Orders
scenarios:
  orders:
    executor: per-vu-iterations
    vus: 1
    iterations: 4
    request:
      method: POST
      url: "{{baseUrl}}/api/orders"
      payload:
        kind: fixed
        fields:
          - name: customerId
            value: cust-1
    checks:
      - name: status is 201
        type: status
        values: [201]
thresholds:
  http_req_failed: ["rate<0.01"]
`

func TestRunThresholdFailureExitCode(t *testing.T) {
	srv, hits := statusServer(t, http.StatusInternalServerError)
	path := writeFile(t, "orders.yaml", "settings:\n  baseUrl: "+srv.URL+"\n"+failingConfig)
	out := filepath.Join(t.TempDir(), "reports", "result.json")

	code, stdout, _ := execute(t, "run", "-c", path, "--no-history", "-o", out)
	assert.Equal(t, ExitThresholdFailed, code)
	assert.Equal(t, int64(4), hits.Load())
	assert.Contains(t, stdout, "Failing Orders - Failed ✗")
	assert.Contains(t, stdout, "✗ status is 201")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var res engine.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.False(t, res.Passed())
	assert.Equal(t, int64(4), res.Metrics.FailedRequests)
}

func TestRunQuietPrintsVerdictOnly(t *testing.T) {
	srv, _ := statusServer(t, http.StatusOK)
	code, out, _ := execute(t, "run", "--url", srv.URL, "--executor", "per-vu-iterations",
		"--vus", "1", "--iterations", "1", "-q", "--no-history")
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "PASSED\n", out)
}

func TestRunConfigErrors(t *testing.T) {
	code, _, errOut := execute(t, "run", "--no-history")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, errOut, "either --config or --url is required")

	code, _, _ = execute(t, "run", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "--no-history")
	assert.Equal(t, ExitConfig, code)

	srv, hits := statusServer(t, http.StatusOK)
	code, _, errOut = execute(t, "run", "--url", srv.URL, "--executor", "warp-speed", "--no-history")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, errOut, "unknown executor type")
	assert.Zero(t, hits.Load(), "no request is sent for an invalid configuration")

	code, _, errOut = execute(t, "run", "--url", srv.URL, "-c", "x.yaml")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "none of the others can be")
}

func TestValidateCommand(t *testing.T) {
	good := writeFile(t, "good.yaml", "settings:\n  baseUrl: http://localhost:1\n"+failingConfig)
	bad := writeFile(t, "bad.yaml", `
scenarios:
  s:
    executor: constant-vus
    vus: 2
    duration: forever
    request:
      method: GET
      url: http://localhost
`)

	code, out, errOut := execute(t, "validate", good)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "1 scenario(s), 1 threshold(s)")
	assert.Contains(t, out, "    orders: per-vu-iterations (each VU runs a fixed number of iterations)\n")

	code, out, errOut = execute(t, "validate", good, bad)
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, out, "✗ "+bad)
	assert.Contains(t, out, "scenarios.s.duration")
	assert.Contains(t, errOut, "1 of 2 files invalid")
}

func TestRunHelpListsExecutors(t *testing.T) {
	code, out, _ := execute(t, "run", "--help")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Executors:")
	assert.Regexp(t, `constant-arrival-rate\s+fixed iteration start rate`, out)
	assert.Contains(t, out, "executor type (quick mode): constant-vus, per-vu-iterations, ramping-vus, constant-arrival-rate, ramping-arrival-rate")
}

func TestHistoryListEmpty(t *testing.T) {
	code, out, _ := execute(t, "history", "list", "--db", filepath.Join(t.TempDir(), "h.db"))
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "No runs recorded.\n", out)
}

func TestInvalidLogLevel(t *testing.T) {
	code, _, errOut := execute(t, "--log-level", "loud", "validate", "x.yaml")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, errOut, "invalid --log-level")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("info", &buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", zap.String("k", "v"))
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "v", entry["k"])
}

func TestMetricsServer(t *testing.T) {
	agg := metrics.NewAggregator("orders")
	agg.Append(metrics.Sample{Status: 201})
	c := metrics.NewCollector()
	c.Attach(agg)

	srv, err := startMetricsServer("127.0.0.1:0", c, zap.NewNop())
	require.NoError(t, err)
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `volley_http_reqs_total{scenario="orders"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestExampleFilesValidate(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "examples", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	code, out, errOut := execute(t, append([]string{"validate"}, files...)...)
	assert.Equal(t, ExitOK, code, out+errOut)
	assert.Equal(t, len(files), strings.Count(out, "✓ "))
}
