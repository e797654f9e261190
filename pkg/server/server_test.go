package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gombonmongoli/pkg/config"
	"gombonmongoli/pkg/random"
	"gombonmongoli/pkg/schema"
	"gombonmongoli/pkg/store"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, edit func(*config.Config)) *Server {
	t.Helper()
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)
	cfg.Store = config.StoreMemory
	if edit != nil {
		edit(&cfg)
	}
	srv := NewServer(context.Background(), cfg, config.DefaultContent(), store.NewMemoryStores(), nil, random.NewSequence(0))
	srv.Now = func() time.Time { return t0 }
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestChat(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/chat", map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/chat", map[string]string{"message": "hello there"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, "baby", resp.Stage)
	assert.Equal(t, 1, resp.TotalInteractions)
	assert.Equal(t, "greeting", resp.Metadata.ResponseType)
	assert.Equal(t, "greeting_detected", resp.Metadata.Trigger)
	assert.NotEmpty(t, resp.Response)
	assert.True(t, strings.HasPrefix(resp.SessionID, "session_"))
	require.NotNil(t, resp.StageInfo)
	assert.Equal(t, "baby", resp.StageInfo.ID)

	rec = do(t, srv, http.MethodPost, "/api/chat", map[string]string{"message": "hi again", "sessionId": resp.SessionID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ChatResponse](t, rec).TotalInteractions)

	rec = do(t, srv, http.MethodGet, "/api/chat/history/"+resp.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		ConversationHistory []map[string]any `json:"conversationHistory"`
		SessionStats        struct {
			MessageCount int `json:"messageCount"`
		} `json:"sessionStats"`
	}](t, rec)
	assert.Len(t, history.ConversationHistory, 2)
	assert.Equal(t, 2, history.SessionStats.MessageCount)

	rec = do(t, srv, http.MethodGet, "/api/chat/history/session_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type brokenSessions struct {
	store.Document[schema.SessionStore]
}

func (brokenSessions) Update(context.Context, func(*schema.SessionStore) error) (schema.SessionStore, error) {
	return schema.SessionStore{}, errors.New("disk full")
}

func TestChatReportsCountedInteraction(t *testing.T) {
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)
	stores := store.NewMemoryStores()
	stores.Sessions = brokenSessions{stores.Sessions}
	srv := NewServer(context.Background(), cfg, config.DefaultContent(), stores, nil, random.NewSequence(0))

	rec := do(t, srv, http.MethodPost, "/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["counted"])
	assert.Equal(t, 1.0, body["totalInteractions"])
}

func TestChatRate(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/chat/rate", map[string]any{"sessionId": "s"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/chat/rate", map[string]any{"sessionId": "s", "messageId": "m", "rating": 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/chat/rate", map[string]any{"sessionId": "s", "messageId": "m", "rating": 9})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "Thanks for the feedback!", body["message"])

	rec = do(t, srv, http.MethodPost, "/api/chat/rate", map[string]any{"sessionId": "s", "messageId": "m", "rating": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "Noted. I'll try to be more devastating next time.", body["message"])

	state, err := srv.Tracker.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, state.DailyStats.RatingCount)
	assert.InDelta(t, 6.0, state.DailyStats.AverageRating, 1e-9)
}

func TestEvolution(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/evolution/evolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Evolution successful! Gombonmongoli is now Child Gombonmongoli", body["message"])

	rec = do(t, srv, http.MethodGet, "/api/evolution/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, "child", status["currentStage"])
	assert.Equal(t, false, status["isEvolutionReady"])

	rec = do(t, srv, http.MethodGet, "/api/evolution/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Timeline []timelineEntry `json:"evolutionTimeline"`
	}](t, rec)
	require.Len(t, history.Timeline, 1)
	assert.Equal(t, "child", history.Timeline[0].Stage)
	assert.True(t, history.Timeline[0].Forced)

	for range 3 {
		rec = do(t, srv, http.MethodPost, "/api/evolution/evolve", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec = do(t, srv, http.MethodPost, "/api/evolution/evolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, false, body["success"])

	rec = do(t, srv, http.MethodGet, "/api/evolution/stages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stages := decode[struct {
		Stages []map[string]any `json:"stages"`
	}](t, rec)
	assert.Len(t, stages.Stages, 5)
}

func TestRevert(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/evolution/revert", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/evolution/revert", map[string]any{"targetStage": "fossil"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/evolution/evolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/evolution/revert", map[string]any{"targetStage": "baby", "duration": 60000})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "Temporarily reverted to Baby Gombonmongoli", body["message"])

	rec = do(t, srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, "child", status["currentStage"])
	assert.Equal(t, "baby", status["effectiveStage"])

	rec = do(t, srv, http.MethodPost, "/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "baby", decode[ChatResponse](t, rec).Stage)

	srv.Now = func() time.Time { return t0.Add(2 * time.Minute) }
	rec = do(t, srv, http.MethodPost, "/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "child", decode[ChatResponse](t, rec).Stage)
}

func TestCommunity(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/community/burns", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/community/burns", map[string]string{"text": "you peaked in kindergarten", "category": "savage"})
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := decode[map[string]any](t, rec)["burnId"].(string)
	require.NotEmpty(t, id)

	rec = do(t, srv, http.MethodPost, "/api/community/burns/burn_missing/rate", map[string]any{"rating": 5})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/community/burns/"+id+"/rate", map[string]any{"rating": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for range 5 {
		rec = do(t, srv, http.MethodPost, "/api/community/burns/"+id+"/rate", map[string]any{"rating": 9})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	body := decode[map[string]any](t, rec)
	assert.Equal(t, 9.0, body["newRating"])
	assert.Equal(t, 5.0, body["totalVotes"])
	assert.Equal(t, true, body["hallOfFameWorthy"])
	assert.Equal(t, "Excellent taste in burns!", body["message"])

	rec = do(t, srv, http.MethodGet, "/api/community/burns?category=savage&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Burns      []map[string]any `json:"burns"`
		HallOfFame []map[string]any `json:"hallOfFame"`
	}](t, rec)
	assert.Len(t, listing.Burns, 1)
	assert.Len(t, listing.HallOfFame, 1)

	rec = do(t, srv, http.MethodGet, "/api/community/burns?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/community/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/community/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMemory(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/memory/learn", map[string]string{"word": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/memory/learn", map[string]string{"word": "Yeet"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["isNewWord"])

	rec = do(t, srv, http.MethodPost, "/api/memory/learn", map[string]string{"word": "yeet"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["isNewWord"])
	assert.Equal(t, 1.0, body["wordCount"])

	rec = do(t, srv, http.MethodGet, "/api/memory/vocabulary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "yeet", decode[map[string]any](t, rec)["mostUsed"])

	rec = do(t, srv, http.MethodGet, "/api/memory/session/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/memory/profile/ghost", map[string]any{"vulnerabilities": []string{"gaming"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/memory/session/ghost", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/memory/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode[map[string]any](t, rec)["totalSessions"])
}

func TestRoasts(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/roast/instant?stage=baby&category=appearance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "your face is yucky", body["text"])
	assert.Equal(t, "appearance", body["category"])

	rec = do(t, srv, http.MethodPost, "/api/roast/custom", map[string]any{
		"keywords": map[string][]string{"adjectives": {"soggy"}, "nouns": {"waffle"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "you soggy waffle!", body["text"])
	assert.Equal(t, "baby", body["stage"])

	rec = do(t, srv, http.MethodPost, "/api/roast/topic", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/roast/topic", map[string]any{"topic": "Work"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "work", decode[map[string]any](t, rec)["topic"])

	rec = do(t, srv, http.MethodPost, "/api/roast/model", map[string]any{"subject": "my cat"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "general", body["category"])
	assert.Nil(t, body["backend"])
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, config.StoreMemory, body["store"])

	rec = do(t, srv, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decode[map[string]any](t, rec)["status"])

	rec = do(t, srv, http.MethodGet, "/keep-alive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) { c.SessionTTL = time.Hour })

	rec := do(t, srv, http.MethodPost, "/api/chat", map[string]string{"message": "hello", "sessionId": "old"})
	require.Equal(t, http.StatusOK, rec.Code)

	srv.Sweep(context.Background())
	rec = do(t, srv, http.MethodGet, "/api/chat/history/old", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.Now = func() time.Time { return t0.Add(2 * time.Hour) }
	srv.Sweep(context.Background())
	rec = do(t, srv, http.MethodGet, "/api/chat/history/old", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>gombon</h1>"), 0o644))
	srv := newTestServer(t, func(c *config.Config) { c.StaticDir = dir })

	rec := do(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gombon")

	rec = do(t, srv, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
