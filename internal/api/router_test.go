package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/observatory/internal/bridge"
	"github.com/eldtechnologies/observatory/internal/feed"
	"github.com/eldtechnologies/observatory/internal/handlers"
	"github.com/eldtechnologies/observatory/internal/presence"
	"github.com/eldtechnologies/observatory/internal/ratelimit"
	"github.com/eldtechnologies/observatory/internal/rooms"
	"github.com/eldtechnologies/observatory/internal/store"
	"github.com/eldtechnologies/observatory/internal/store/storetest"
)

const (
	testMasterKey = "master-secret"
	testBridgeKey = "bridge-secret"
	defaultRoom   = "marsquad"
)

// fakeBridge stands in for the local bridge process.
type fakeBridge struct {
	*httptest.Server

	mu      sync.Mutex
	events  string
	prompts []map[string]interface{}
	auth    []string
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{events: `{"events":[]}`}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()

		switch r.URL.Path {
		case "/api/events":
			w.Write([]byte(fb.events))
		case "/api/prompt":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			fb.prompts = append(fb.prompts, body)
			fb.auth = append(fb.auth, r.Header.Get("Authorization"))
			w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBridge) setEvents(body string) {
	fb.mu.Lock()
	fb.events = body
	fb.mu.Unlock()
}

func (fb *fakeBridge) lastPrompt() (map[string]interface{}, string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.prompts) == 0 {
		return nil, ""
	}
	return fb.prompts[len(fb.prompts)-1], fb.auth[len(fb.auth)-1]
}

type testEnv struct {
	router *chi.Mux
	mr     *miniredis.Miniredis
	bridge *fakeBridge
}

func newPersistedEnv(t *testing.T) *testEnv {
	t.Helper()

	kv, mr := storetest.NewRedisStore(t)
	fb := newFakeBridge(t)
	bc := bridge.NewClient(fb.URL, testBridgeKey)
	registry := rooms.NewRegistry(kv, zerolog.Nop())
	logger := zerolog.Nop()

	router := NewRouter(logger, Options{
		Handlers: handlers.Deps{
			Registry:      registry,
			Gate:          rooms.NewGate(registry, defaultRoom, testBridgeKey),
			Feed:          feed.NewStore(kv, registry, bc, defaultRoom, logger),
			Cooldown:      ratelimit.NewCooldown(kv),
			Presence:      presence.NewTracker(kv),
			Bridge:        bc,
			KV:            kv,
			Logger:        logger,
			DefaultRoom:   defaultRoom,
			PublicBaseURL: "https://observatory.example.com",
			MasterKeySet:  true,
		},
		Redis:     kv.Client(),
		MasterKey: testMasterKey,
	})

	return &testEnv{router: router, mr: mr, bridge: fb}
}

func newProxyEnv(t *testing.T) *testEnv {
	t.Helper()

	fb := newFakeBridge(t)
	bc := bridge.NewClient(fb.URL, testBridgeKey)
	logger := zerolog.Nop()

	router := NewRouter(logger, Options{
		Handlers: handlers.Deps{
			Gate:        rooms.NewGate(nil, defaultRoom, testBridgeKey),
			Feed:        feed.NewProxy(bc, defaultRoom, logger),
			Bridge:      bc,
			Logger:      logger,
			DefaultRoom: defaultRoom,
		},
		MasterKey: testMasterKey,
	})

	return &testEnv{router: router, bridge: fb}
}

// newSQLiteEnv has a SQL registry but no redis: proxy feed, no cooldowns.
func newSQLiteEnv(t *testing.T) *testEnv {
	t.Helper()

	sqlStore, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "rooms.db"))
	require.NoError(t, err)
	t.Cleanup(sqlStore.Close)

	fb := newFakeBridge(t)
	bc := bridge.NewClient(fb.URL, testBridgeKey)
	logger := zerolog.Nop()
	registry := rooms.NewRegistry(sqlStore, logger)

	router := NewRouter(logger, Options{
		Handlers: handlers.Deps{
			Registry:    registry,
			Gate:        rooms.NewGate(registry, defaultRoom, testBridgeKey),
			Feed:        feed.NewProxy(bc, defaultRoom, logger),
			Bridge:      bc,
			Logger:      logger,
			DefaultRoom: defaultRoom,
		},
		MasterKey: testMasterKey,
	})

	return &testEnv{router: router, bridge: fb}
}

type request struct {
	method string
	path   string
	body   string
	token  string
	ip     string
	ua     string
	header map[string]string
}

func (e *testEnv) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	if req.body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.ip != "" {
		r.Header.Set("X-Forwarded-For", req.ip)
	}
	if req.ua != "" {
		r.Header.Set("User-Agent", req.ua)
	}
	for k, v := range req.header {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) createRoom(t *testing.T, roomID string) string {
	t.Helper()
	w := e.do(t, request{method: "POST", path: "/rooms", token: testMasterKey,
		body: `{"roomId":"` + roomID + `","name":"Test Room","agents":[{"id":"a","name":"A","avatar":"x","color":"#000000"}]}`})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["apiKey"].(string)
}

func eventIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var page struct {
		Events []struct {
			ID string `json:"id"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	ids := make([]string, 0, len(page.Events))
	for _, e := range page.Events {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestCreateRoomRequiresMasterKey(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "POST", path: "/rooms", body: `{"roomId":"acme"}`})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, request{method: "POST", path: "/rooms", body: `{"roomId":"acme"}`, token: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateRoom(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "POST", path: "/rooms", token: testMasterKey, body: `{"roomId":"Acme_Co!"}`})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "acmeco", body["roomId"])
	assert.Regexp(t, `^room_acmeco_[0-9a-f]{32}$`, body["apiKey"])

	w = e.do(t, request{method: "POST", path: "/rooms", token: testMasterKey, body: `{"roomId":"acmeco"}`})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, request{method: "POST", path: "/rooms", token: testMasterKey, body: `{"roomId":"x"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, request{method: "POST", path: "/rooms", token: testMasterKey, body: `{"roomId":"big","maxEvents":20000}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRooms(t *testing.T) {
	e := newPersistedEnv(t)
	e.createRoom(t, "beta")
	e.createRoom(t, "alpha")

	w := e.do(t, request{method: "GET", path: "/rooms"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, request{method: "GET", path: "/rooms?limit=1", token: testMasterKey})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["total"])
	list := body["rooms"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "alpha", list[0].(map[string]interface{})["roomId"])
	assert.NotContains(t, w.Body.String(), "apiKey")
}

func TestGetConfigRedactsKey(t *testing.T) {
	e := newPersistedEnv(t)
	e.createRoom(t, "acme")

	w := e.do(t, request{method: "GET", path: "/rooms/acme/config"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "acme", body["roomId"])
	assert.NotContains(t, body, "apiKey")
	assert.Len(t, body["agents"], 1)

	w = e.do(t, request{method: "GET", path: "/rooms/ghost/config"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestAndRead(t *testing.T) {
	e := newPersistedEnv(t)
	key := e.createRoom(t, "acme")

	w := e.do(t, request{method: "POST", path: "/rooms/acme/ingest", token: key, body: `{"id":"e1","ts":1000,"type":"chat","text":"hi"}`})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/rooms/acme/ingest", token: key, body: `{"id":"e1","ts":1000,"type":"chat","text":"hi"}`})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"reason":"duplicate"}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/rooms/acme/ingest", token: key, body: `{"id":"e2","ts":2000}`})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, request{method: "GET", path: "/rooms/acme/events"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, []string{"e1", "e2"}, eventIDs(t, w))
	assert.Contains(t, w.Body.String(), `"text":"hi"`)

	w = e.do(t, request{method: "GET", path: "/rooms/acme/events?since=1500"})
	assert.Equal(t, []string{"e2"}, eventIDs(t, w))

	w = e.do(t, request{method: "GET", path: "/rooms/acme/events?since=-10&limit=1"})
	assert.Equal(t, []string{"e1"}, eventIDs(t, w))

	w = e.do(t, request{method: "GET", path: "/rooms/acme/events?since=abc&limit=zzz"})
	assert.Equal(t, []string{"e1", "e2"}, eventIDs(t, w))
}

func TestIngestUnauthorized(t *testing.T) {
	e := newPersistedEnv(t)
	key := e.createRoom(t, "acme")
	e.createRoom(t, "other")

	cases := []request{
		{method: "POST", path: "/rooms/acme/ingest", body: `{"id":"e1"}`},
		{method: "POST", path: "/rooms/acme/ingest", body: `{"id":"e1"}`, token: "room_acme_deadbeef"},
		{method: "POST", path: "/rooms/other/ingest", body: `{"id":"e1"}`, token: key},
		{method: "POST", path: "/rooms/ghost/ingest", body: `{"id":"e1"}`, token: key},
		{method: "POST", path: "/rooms/acme/ingest", body: `{"id":"e1"}`, token: testBridgeKey},
	}
	for _, c := range cases {
		w := e.do(t, c)
		assert.Equal(t, http.StatusUnauthorized, w.Code, c.path)
		assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
	}

	assert.False(t, e.mr.Exists("room:acme:events"))
}

func TestIngestInvalidBody(t *testing.T) {
	e := newPersistedEnv(t)
	key := e.createRoom(t, "acme")

	for _, body := range []string{`[1,2]`, `"text"`, `{oops`, `{"id":"neg","ts":-5}`} {
		w := e.do(t, request{method: "POST", path: "/rooms/acme/ingest", token: key, body: body})
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestEventsUnknownRoom(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "GET", path: "/rooms/ghost/events"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetentionCap(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "POST", path: "/rooms", token: testMasterKey, body: `{"roomId":"tiny","maxEvents":3}`})
	require.Equal(t, http.StatusCreated, w.Code)
	key := decode(t, w)["apiKey"].(string)

	for _, id := range []string{"1", "2", "3", "4"} {
		w := e.do(t, request{method: "POST", path: "/rooms/tiny/ingest", token: key, body: `{"id":"e` + id + `","ts":` + id + `}`})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = e.do(t, request{method: "GET", path: "/rooms/tiny/events"})
	assert.Equal(t, []string{"e2", "e3", "e4"}, eventIDs(t, w))
}

func TestLegacyEndpoints(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "POST", path: "/api/ingest", body: `{"id":"b1","ts":5}`, token: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, request{method: "POST", path: "/api/ingest", body: `{"id":"b1","ts":5}`, token: testBridgeKey})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = e.do(t, request{method: "GET", path: "/api/events"})
	assert.Equal(t, []string{"b1"}, eventIDs(t, w))

	// The bridge key also works on the default room's own ingest path.
	w = e.do(t, request{method: "POST", path: "/rooms/marsquad/ingest", body: `{"id":"b2","ts":6}`, token: testBridgeKey})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, request{method: "GET", path: "/rooms/marsquad/events"})
	assert.Equal(t, []string{"b1", "b2"}, eventIDs(t, w))
}

func TestDefaultRoomFallsBackToBridge(t *testing.T) {
	e := newPersistedEnv(t)
	e.bridge.setEvents(`{"events":[{"id":"live-1","ts":1}]}`)

	w := e.do(t, request{method: "GET", path: "/rooms/marsquad/events"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"live-1"}, eventIDs(t, w))
}

func TestStoreUnavailable(t *testing.T) {
	e := newPersistedEnv(t)
	key := e.createRoom(t, "acme")
	e.mr.Close()

	w := e.do(t, request{method: "POST", path: "/rooms/acme/ingest", token: key, body: `{"id":"e1"}`})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"store":"proxy-mode"}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/api/ingest", token: testBridgeKey, body: `{"id":"e1"}`})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"store":"proxy-mode"}`, w.Body.String())

	w = e.do(t, request{method: "GET", path: "/rooms/acme/events"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[],"error":"store unavailable"}`, w.Body.String())

	w = e.do(t, request{method: "GET", path: "/health"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSetup(t *testing.T) {
	e := newPersistedEnv(t)
	body := `{"roomName":"Acme Labs","agents":[{"name":"Scout Bot","color":"#ABCDEF"},{"name":""}]}`

	w := e.do(t, request{method: "POST", path: "/setup", body: body, ip: "198.51.100.1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "acme-labs", resp["roomId"])
	assert.Equal(t, "https://observatory.example.com/room/acme-labs", resp["roomUrl"])
	assert.Equal(t, "https://observatory.example.com/embed/acme-labs", resp["embedUrl"])
	assert.Regexp(t, `^room_acme-labs_`, resp["apiKey"])

	w = e.do(t, request{method: "GET", path: "/rooms/acme-labs/config"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"scout-bot"`)

	// One room per IP per hour.
	w = e.do(t, request{method: "POST", path: "/setup", body: `{"roomName":"Second Room","agents":[{"name":"x"}]}`, ip: "198.51.100.1"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, false, decode(t, w)["ok"])

	w = e.do(t, request{method: "POST", path: "/setup", body: body, ip: "198.51.100.2"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, decode(t, w)["ok"])
}

func TestSetupClosedWithoutCooldownStore(t *testing.T) {
	e := newSQLiteEnv(t)

	for _, name := range []string{"Room One", "Room Two", "Room Three"} {
		w := e.do(t, request{method: "POST", path: "/setup", ip: "1.2.3.4",
			body: `{"roomName":"` + name + `","agents":[{"name":"Scout"}]}`})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, name)
		assert.Equal(t, false, decode(t, w)["ok"], name)
	}

	w := e.do(t, request{method: "GET", path: "/rooms", token: testMasterKey})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	// Admin creation does not depend on the cooldown store.
	e.createRoom(t, "sql-room")
	w = e.do(t, request{method: "GET", path: "/rooms/sql-room/config"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupValidation(t *testing.T) {
	e := newPersistedEnv(t)

	cases := []string{
		`{"roomName":"A","agents":[{"name":"x"}]}`,
		`{"roomName":"!!","agents":[{"name":"x"}]}`,
		`{"roomName":"Valid Name","agents":[]}`,
		`{"roomName":"Valid Name","agents":[{"name":"  "}]}`,
		`not json`,
	}
	for _, body := range cases {
		w := e.do(t, request{method: "POST", path: "/setup", body: body, ip: "203.0.113.9"})
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, false, decode(t, w)["ok"], body)
	}

	// Rejected attempts do not consume the cooldown.
	w := e.do(t, request{method: "POST", path: "/setup", body: `{"roomName":"Valid Name","agents":[{"name":"x"}]}`, ip: "203.0.113.9"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPrompt(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "POST", path: "/api/prompt", body: `{"text":"   "}`, ip: "198.51.100.7"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, request{method: "POST", path: "/api/prompt", body: `{"text":"` + strings.Repeat("a", 501) + `"}`, ip: "198.51.100.7"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, request{method: "POST", path: "/api/prompt", body: `{"text":" build a rover "}`, ip: "198.51.100.7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	prompt, auth := e.bridge.lastPrompt()
	assert.Equal(t, "build a rover", prompt["text"])
	assert.NotZero(t, prompt["ts"])
	assert.Equal(t, "Bearer "+testBridgeKey, auth)

	w = e.do(t, request{method: "POST", path: "/api/prompt", body: `{"text":"again"}`, ip: "198.51.100.7"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCreateJob(t *testing.T) {
	e := newPersistedEnv(t)
	body := `{"serviceType":"tech-docs","description":"Document our API","contact":"ops@example.com"}`

	w := e.do(t, request{method: "POST", path: "/api/jobs", body: `{"serviceType":"crypto","description":"x"}`, ip: "198.51.100.20"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, request{method: "POST", path: "/api/jobs", body: `{"serviceType":"tech-docs","description":""}`, ip: "198.51.100.20"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, request{method: "POST", path: "/api/jobs", body: body, ip: "198.51.100.20", ua: "test-agent"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	jobID, _ := resp["jobId"].(string)
	assert.Regexp(t, `^job-[0-9a-z]{26}$`, jobID)
	assert.True(t, e.mr.Exists("job:"+jobID))

	prompt, _ := e.bridge.lastPrompt()
	assert.Equal(t, "[Service Request: tech docs] Document our API", prompt["text"])
	assert.Equal(t, true, prompt["needsReview"])
	assert.Equal(t, jobID, prompt["jobId"])

	w = e.do(t, request{method: "GET", path: "/api/jobs/" + jobID})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, request{method: "GET", path: "/api/jobs/" + jobID, token: testMasterKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	job := decode(t, w)
	assert.Equal(t, "pending", job["status"])
	assert.Equal(t, "ops@example.com", job["contact"])
	assert.Equal(t, "Document our API", job["description"])

	w = e.do(t, request{method: "GET", path: "/api/jobs/job-missing", token: testMasterKey})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Same IP inside the cooldown.
	w = e.do(t, request{method: "POST", path: "/api/jobs", body: `{"serviceType":"monitoring","description":"other"}`, ip: "198.51.100.20"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Same request from another IP is caught by the fingerprint.
	w = e.do(t, request{method: "POST", path: "/api/jobs", body: body, ip: "198.51.100.21", ua: "test-agent"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"duplicate request"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "GET", path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "persisted", body["mode"])

	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "pass", checks["store"].(map[string]interface{})["status"])
	assert.Equal(t, "pass", checks["registry"].(map[string]interface{})["status"])
	assert.Equal(t, "configured", checks["bridge"].(map[string]interface{})["status"])
}

func TestHealthBridgeNotContacted(t *testing.T) {
	e := newProxyEnv(t)
	e.bridge.Close()

	w := e.do(t, request{method: "GET", path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "proxy-mode", body["mode"])

	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "skip", checks["store"].(map[string]interface{})["status"])
	assert.Equal(t, "configured", checks["bridge"].(map[string]interface{})["status"])
}

func TestProxyMode(t *testing.T) {
	e := newProxyEnv(t)
	e.bridge.setEvents(`{"events":[{"id":"p1","ts":1},{"id":"p2","ts":2}]}`)

	w := e.do(t, request{method: "POST", path: "/rooms/acme/ingest", token: "room_acme_x", body: `{"id":"e1"}`})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"store":"proxy-mode"}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/rooms/acme/ingest", body: `{"id":"e1"}`})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, request{method: "POST", path: "/api/ingest", token: testBridgeKey, body: `{"id":"e1"}`})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"store":"proxy-mode"}`, w.Body.String())

	w = e.do(t, request{method: "GET", path: "/api/events?limit=100000"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p1", "p2"}, eventIDs(t, w))

	w = e.do(t, request{method: "GET", path: "/rooms/acme/events"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[]}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/rooms", token: testMasterKey, body: `{"roomId":"acme"}`})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"registry not configured"}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/setup", body: `{"roomName":"Acme","agents":[{"name":"x"}]}`})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = e.do(t, request{method: "GET", path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "proxy-mode", decode(t, w)["mode"])
}

func TestProxyModeBridgeFailure(t *testing.T) {
	e := newProxyEnv(t)
	e.bridge.Close()

	w := e.do(t, request{method: "GET", path: "/api/events"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[],"error":"bridge unreachable"}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/api/prompt", body: `{"text":"hello"}`})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPresence(t *testing.T) {
	e := newPersistedEnv(t)

	w := e.do(t, request{method: "POST", path: "/api/presence", ip: "198.51.100.20",
		header: map[string]string{"CF-IPCountry": "se"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"ok":true,"visitors":1,"totalVisitors":1,"flags":["🇸🇪"]}`, w.Body.String())

	w = e.do(t, request{method: "POST", path: "/api/presence", ip: "198.51.100.21"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"visitors":2,"totalVisitors":2,"flags":["🇸🇪","🇺🇳"]}`, w.Body.String())

	w = e.do(t, request{method: "GET", path: "/api/presence"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(2), resp["visitors"])
	assert.NotContains(t, resp, "ok")

	members, err := e.mr.ZMembers("presence:visitors")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SE:198.51.100.20", "UN:198.51.100.21"}, members)
}

func TestPresenceProxyMode(t *testing.T) {
	e := newProxyEnv(t)

	w := e.do(t, request{method: "POST", path: "/api/presence", header: map[string]string{"CF-IPCountry": "DE"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"visitors":1,"totalVisitors":1,"flags":["🇩🇪"]}`, w.Body.String())

	w = e.do(t, request{method: "GET", path: "/api/presence"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"visitors":1,"totalVisitors":1,"flags":["`+"\U0001F3F3"+`"]}`, w.Body.String())
}

func TestPresenceStoreUnavailable(t *testing.T) {
	e := newPersistedEnv(t)
	e.mr.Close()

	w := e.do(t, request{method: "GET", path: "/api/presence"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["visitors"])
}
