package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatdesk/internal/completion"
	"github.com/ashureev/chatdesk/internal/conversation"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/history"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/middleware"
	"github.com/ashureev/chatdesk/internal/quota"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/ashureev/chatdesk/internal/subscription"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// scriptedBackend answers with reply unless err is set.
type scriptedBackend struct {
	mu     sync.Mutex
	reply  string
	tokens int64
	err    error
	keys   []string
}

func (b *scriptedBackend) ChatCompletion(_ context.Context, req completion.Request) (completion.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, req.APIKey)
	if b.err != nil {
		return completion.Response{}, b.err
	}
	return completion.Response{Content: b.reply, TotalTokens: b.tokens, Model: req.Model}, nil
}

type testAPI struct {
	srv     *httptest.Server
	client  *http.Client
	backend *scriptedBackend
	repo    *store.SQLiteStore
	subs    *subscription.Source
	chats   *conversation.Manager
}

func newTestAPI(t *testing.T, defaultKey string, sendsPerMinute int) *testAPI {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	catalog, err := subscription.LoadCatalog("")
	require.NoError(t, err)
	subs := subscription.NewSource(repo, catalog, 10000)
	recorder := history.NewRecorder(repo)

	backend := &scriptedBackend{reply: "Hello there", tokens: 42}
	gw := completion.NewGateway(backend, nil, completion.GatewayConfig{
		DefaultCredential: defaultKey,
		DefaultModel:      "gpt-3.5-turbo",
		Timeout:           5 * time.Second,
	}, nil)

	chats := conversation.NewManager(conversation.Deps{
		Gateway:   gw,
		Recorder:  recorder,
		Snapshots: repo,
		Tracker:   quota.NewTracker(nil, time.UTC),
	}, conversation.Config{FreeTier: subs.FreeTier()}, subs)

	limiter := middleware.NewRateLimiter(sendsPerMinute, time.Minute)
	t.Cleanup(limiter.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewHandler(repo, chats, recorder, subs).RegisterRoutes(r, middleware.RateLimit(limiter, func(r *http.Request) string {
		return identity.UserIDFromContext(r.Context())
	}))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testAPI{
		srv:     srv,
		client:  &http.Client{Jar: jar},
		backend: backend,
		repo:    repo,
		subs:    subs,
		chats:   chats,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) userID(t *testing.T) string {
	t.Helper()
	var me map[string]interface{}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/me", nil, &me))
	return me["user_id"].(string)
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "bar", got["foo"])
}

func TestSendToActiveChatCreatesOne(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "sk-default", 100)

	var res conversation.SendResult
	status := a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "Hi"}, &res)
	require.Equal(t, http.StatusOK, status)
	require.True(t, res.CreatedThread)
	require.Equal(t, "Hello there", res.AssistantTurn.Content)
	require.Equal(t, int64(42), res.Quota.MonthlyTokens)
	require.Equal(t, int64(10000-42), res.Quota.Remaining)

	var list chatListResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/chats", nil, &list))
	require.Len(t, list.Chats, 1)
	require.Equal(t, res.Thread.ID, list.ActiveChatID)
	require.Len(t, list.Chats[0].Turns, 2)

	a.chats.Wait()
	var hist struct {
		History []*domain.HistoryEntry `json:"history"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/history", nil, &hist))
	require.Len(t, hist.History, 1)
	require.Equal(t, "Chat Completion - 42 tokens", hist.History[0].Title)

	var stats domain.HistoryStats
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/history/stats", nil, &stats))
	require.Equal(t, int64(42), stats.TotalTokens)
	require.InDelta(t, 100.0, stats.SuccessRate, 1e-9)
}

func TestChatLifecycle(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "sk-default", 100)

	var first, second chatResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/chats", nil, &first))
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/chats", nil, &second))
	require.Equal(t, domain.DefaultThreadTitle, first.Title)

	path := fmt.Sprintf("/api/chats/%d", first.ID)
	var updated chatResponse
	title, model := "Recipes", "gpt-4"
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPatch, path, updateChatRequest{Title: &title, Model: &model}, &updated))
	require.Equal(t, "Recipes", updated.Title)
	require.Equal(t, "gpt-4", updated.Model)
	require.False(t, updated.Active)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, path+"/activate", nil, nil))

	var res conversation.SendResult
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "Soup?"}, &res))
	require.Equal(t, first.ID, res.Thread.ID)
	require.Equal(t, "gpt-4", res.Result.Model)

	var got chatResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, path, nil, &got))
	require.True(t, got.Active)
	require.False(t, got.Busy)
	require.Len(t, got.Turns, 2)

	var errResp errorBody
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/chats/12345", nil, &errResp))
	require.Equal(t, "not_found", errResp.Code)
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/chats/abc", nil, &errResp))
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/chats/999/messages", sendMessageRequest{Content: "x"}, &errResp))
}

func TestSendErrorMapping(t *testing.T) {
	t.Parallel()

	t.Run("credential missing", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t, "", 100)
		var errResp errorBody
		require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "Hi"}, &errResp))
		require.Equal(t, "credential_missing", errResp.Code)
		require.Empty(t, a.backend.keys, "no backend call without a credential")

		// A user credential unblocks the send.
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/credential", credentialRequest{APIKey: "sk-user"}, nil))
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "Hi"}, nil))
		require.Equal(t, []string{"sk-user"}, a.backend.keys)
	})

	t.Run("backend rejects", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t, "sk-default", 100)
		a.backend.err = errors.New("upstream exploded")

		var errResp errorBody
		require.Equal(t, http.StatusBadGateway, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "Hi"}, &errResp))
		require.Equal(t, "completion_rejected", errResp.Code)

		var list chatListResponse
		a.do(t, http.MethodGet, "/api/chats", nil, &list)
		require.Len(t, list.Chats, 1)
		require.Empty(t, list.Chats[0].Turns, "user turn is retracted")
	})

	t.Run("quota exceeded", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t, "sk-default", 100)
		a.backend.tokens = 10000

		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "big"}, nil))

		var errResp errorBody
		require.Equal(t, http.StatusPaymentRequired, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "more"}, &errResp))
		require.Equal(t, "quota_exceeded", errResp.Code)
		require.Equal(t, int64(10000), *errResp.Ceiling)
		require.Equal(t, int64(0), *errResp.Remaining)

		// Upgrading lifts the ceiling for the next send.
		_, err := a.subs.Set(context.Background(), a.userID(t), "basic", "")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "more"}, nil))

		var q domain.QuotaStatus
		require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/quota", nil, &q))
		require.Equal(t, "basic", q.PlanID)
		require.Equal(t, int64(100000), q.Ceiling)

		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/quota/reset", nil, &q))
		require.Zero(t, q.MonthlyTokens)
	})

	t.Run("empty message", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t, "sk-default", 100)
		var errResp errorBody
		require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "  "}, &errResp))
		require.Equal(t, "invalid_request", errResp.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		a := newTestAPI(t, "sk-default", 1)
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "a"}, nil))
		require.Equal(t, http.StatusTooManyRequests, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "b"}, nil))
	})
}

func TestCredentialNeverEchoed(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "sk-default", 100)

	var resp credentialResponse
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPut, "/api/credential", credentialRequest{APIKey: " "}, nil))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/api/credential", credentialRequest{APIKey: "sk-secret"}, &resp))
	require.True(t, resp.HasCredential)

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/api/me", nil)
	require.NoError(t, err)
	raw, err := a.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = raw.Body.Close() }()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(raw.Body)
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "sk-secret")
	require.Contains(t, buf.String(), `"has_credential":true`)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/api/credential", nil, &resp))
	require.False(t, resp.HasCredential)
}

func TestPlansAndSubscription(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "sk-default", 100)

	var plans struct {
		Plans []domain.Plan `json:"plans"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/plans", nil, &plans))
	require.Len(t, plans.Plans, 3)

	var sub struct {
		PlanID     string       `json:"plan_id"`
		Status     string       `json:"status"`
		TokenLimit int64        `json:"token_limit"`
		Plan       *domain.Plan `json:"plan"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/subscription", nil, &sub))
	require.Equal(t, domain.FreePlanID, sub.PlanID)
	require.Equal(t, "active", sub.Status)
	require.Equal(t, int64(10000), sub.TokenLimit)
	require.Equal(t, "Free", sub.Plan.Name)
}

func TestHistoryDeletion(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t, "sk-default", 100)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/chats/active/messages", sendMessageRequest{Content: "q"}, nil))
	}
	a.chats.Wait()

	var hist struct {
		History []*domain.HistoryEntry `json:"history"`
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/history?limit=2", nil, &hist))
	require.Len(t, hist.History, 2)
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/history?limit=-1", nil, nil))

	require.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/history/"+hist.History[0].ID, nil, nil))
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, "/api/history/"+hist.History[0].ID, nil, nil))

	var cleared map[string]int64
	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/api/history", nil, &cleared))
	require.Equal(t, int64(2), cleared["deleted"])
}
