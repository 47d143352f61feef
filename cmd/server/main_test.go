package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/completion"
	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/stretchr/testify/require"
)

type echoBackend struct{}

func (echoBackend) ChatCompletion(_ context.Context, req completion.Request) (completion.Response, error) {
	return completion.Response{Content: "ok", Model: req.Model, TotalTokens: 7}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:   "0",
		DBPath: filepath.Join(t.TempDir(), "chatdesk.db"),
		Completion: config.CompletionConfig{
			APIKey:       "sk-test",
			BaseURL:      "http://127.0.0.1:0",
			DefaultModel: "gpt-3.5-turbo",
			Timeout:      5 * time.Second,
			MaxTokens:    100,
		},
		Quota:     config.QuotaConfig{FreeTierTokens: 10000, Location: time.UTC},
		History:   config.HistoryConfig{WriteTimeout: time.Second},
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute},
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"subscription", "set"},
		{"subscription", "get"},
		{"subscription", "plans"},
		{"history", "stats"},
		{"history", "clear"},
		{"healthcheck"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestAppServesAPI(t *testing.T) {
	cfg := testConfig(t)
	repo, err := openRepository(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	a, err := newApp(cfg, repo, echoBackend{})
	require.NoError(t, err)
	t.Cleanup(a.limiter.Close)

	srv := httptest.NewServer(a.router)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/chats/active/messages", "application/json", strings.NewReader(`{"content":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	a.chats.Wait()
}

func TestAppRejectsBadPlansFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.PlansFile = filepath.Join(t.TempDir(), "missing.yaml")
	repo, err := openRepository(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = newApp(cfg, repo, echoBackend{})
	require.Error(t, err)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSubscriptionCommands(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "cli.db"))

	out, err := runCLI(t, "subscription", "get", "u1")
	require.NoError(t, err)
	var sub domain.Subscription
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	require.Equal(t, "free", sub.PlanID)

	out, err = runCLI(t, "subscription", "set", "u1", "pro")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	require.Equal(t, "pro", sub.PlanID)
	require.Equal(t, int64(500000), sub.TokenLimit)

	out, err = runCLI(t, "subscription", "get", "u1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	require.Equal(t, "pro", sub.PlanID)

	_, err = runCLI(t, "subscription", "set", "u1", "platinum")
	require.Error(t, err)

	_, err = runCLI(t, "subscription", "set", "u1", "basic", "--status", "paused")
	require.Error(t, err)
}

func TestHistoryCommands(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "cli.db"))

	out, err := runCLI(t, "history", "clear", "u1")
	require.NoError(t, err)
	var cleared map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &cleared))
	require.Equal(t, int64(0), cleared["deleted"])

	out, err = runCLI(t, "history", "stats", "u1")
	require.NoError(t, err)
	var stats domain.HistoryStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Zero(t, stats.TotalEntries)
}
