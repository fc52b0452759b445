package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"ARXIV_LIST_URL", "HTTP_USER_AGENT", "FETCH_TIMEOUT",
	"STATE_FILE", "STATE_BUCKET", "STATE_OBJECT",
	"EMAIL_PROVIDER", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_TIMEOUT",
	"MAIL_FROM_NAME", "MAIL_SUBJECT", "MAIL_TO",
	"GOOGLE_CREDENTIALS_JSON", "TEST_MODE", "PORT", "LOG_LEVEL",
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, env := range configEnv {
		t.Setenv(env, "")
	}
	t.Setenv("EMAIL_PROVIDER", "mock")
	t.Setenv("MAIL_TO", "a@example.com, b@example.com")
}

func listingServer(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(*body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunLifecycle(t *testing.T) {
	isolateEnv(t)
	page := `<h3>Showing new listings for Friday, 17 October 2025</h3>`
	srv := listingServer(t, &page)
	statePath := filepath.Join(t.TempDir(), "state.json")

	out, err := execute(t, "--url", srv.URL, "--state-file", statePath)
	require.NoError(t, err)
	assert.NotContains(t, out, "MOCK EMAIL")
	assert.Contains(t, out, `"outcome":"initialized"`)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"version\": \"date:Friday, 17 October 2025\"\n}", string(data))

	out, err = execute(t, "--url", srv.URL, "--state-file", statePath)
	require.NoError(t, err)
	assert.NotContains(t, out, "MOCK EMAIL")
	assert.Contains(t, out, `"outcome":"unchanged"`)

	page = `<h3>Showing new listings for Monday, 20 October 2025</h3>`
	out, err = execute(t, "--url", srv.URL, "--state-file", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, "MOCK EMAIL")
	assert.Contains(t, out, `"outcome":"updated"`)

	data, err = os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "date:Monday, 20 October 2025")
}

func TestRunTestModeLeavesStateUntouched(t *testing.T) {
	isolateEnv(t)
	page := `<a href="/abs/2510.12345">x</a>`
	srv := listingServer(t, &page)
	statePath := filepath.Join(t.TempDir(), "state.json")

	out, err := execute(t, "--url", srv.URL, "--state-file", statePath, "--test-mode")
	require.NoError(t, err)
	assert.Contains(t, out, "MOCK EMAIL")
	assert.Contains(t, out, "(TEST)")
	assert.NoFileExists(t, statePath)
}

func TestRunTestModeFromEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TEST_MODE", "1")
	page := `<p>nothing here</p>`
	srv := listingServer(t, &page)
	statePath := filepath.Join(t.TempDir(), "state.json")

	out, err := execute(t, "--url", srv.URL, "--state-file", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome":"test_sent"`)
	assert.NoFileExists(t, statePath)
}

func TestRunFetchFailure(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	statePath := filepath.Join(t.TempDir(), "state.json")

	out, err := execute(t, "--url", srv.URL, "--state-file", statePath)
	require.Error(t, err)
	assert.Contains(t, out, "Run failed")
	assert.NoFileExists(t, statePath)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	isolateEnv(t)
	page := `<h3>Showing new listings for Friday, 17 October 2025</h3>`
	srv := listingServer(t, &page)
	statePath := filepath.Join(t.TempDir(), "state.json")

	t.Setenv("ARXIV_LIST_URL", "http://127.0.0.1:1/unreachable")
	t.Setenv("STATE_FILE", filepath.Join(t.TempDir(), "ignored.json"))
	t.Setenv("TEST_MODE", "1")

	out, err := execute(t, "--url", srv.URL, "--state-file", statePath, "--test-mode=false")
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome":"initialized"`)
	assert.FileExists(t, statePath)
}

func TestInvalidConfiguration(t *testing.T) {
	isolateEnv(t)
	t.Setenv("EMAIL_PROVIDER", "carrier-pigeon")

	out, err := execute(t, "--state-file", filepath.Join(t.TempDir(), "state.json"))
	require.Error(t, err)
	assert.Contains(t, out, "Invalid configuration")
}

func TestInvalidURLFlag(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "--url", "not a url", "--state-file", filepath.Join(t.TempDir(), "state.json"))
	require.Error(t, err)
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	newLogger(&buf, "bogus").Info("default level")
	assert.Contains(t, buf.String(), "default level")
}
