package observatory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentSetEvictsOldest(t *testing.T) {
	s := NewRecentSet(3)

	for _, id := range []string{"a", "b", "c"} {
		assert.True(t, s.Add(id))
	}
	assert.False(t, s.Add("a"), "repeat is not new")

	assert.True(t, s.Add("d"))
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("a"), "oldest evicted")
	assert.True(t, s.Contains("b"))
	assert.True(t, s.Contains("d"))

	// a repeat does not refresh position, so b goes next
	assert.False(t, s.Add("b"))
	assert.True(t, s.Add("e"))
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
}

func TestRecentSetDefaultSize(t *testing.T) {
	s := NewRecentSet(0)
	for i := 0; i < DefaultRecentSize+10; i++ {
		s.Add(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, DefaultRecentSize, s.Len())
	assert.False(t, s.Contains("id-0"))
	assert.True(t, s.Contains(fmt.Sprintf("id-%d", DefaultRecentSize+9)))
}

func TestRecentSetConcurrent(t *testing.T) {
	s := NewRecentSet(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if s.Add(fmt.Sprintf("id-%d", i)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, fresh)
	assert.Equal(t, 50, s.Len())
}

func TestEventUnmarshal(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"id":"e1","ts":1700000000000,"text":"hi"}`), &ev))
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, int64(1700000000000), ev.TS)

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e1","ts":1700000000000,"text":"hi"}`, string(out))

	var numeric Event
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"ts":"soon"}`), &numeric))
	assert.Equal(t, "42", numeric.ID)
	assert.Zero(t, numeric.TS)
}

func TestIngestSendsBearer(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "room_demo_key")
	res, err := c.Ingest(context.Background(), "demo", map[string]interface{}{"id": "e1", "text": "hi"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "Bearer room_demo_key", gotAuth)
	assert.Equal(t, "/rooms/demo/ingest", gotPath)
	assert.Equal(t, "e1", gotBody["id"])

	_, err = c.Ingest(context.Background(), "", map[string]string{"id": "e2"})
	require.NoError(t, err)
	assert.Equal(t, "/api/ingest", gotPath)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad")
	_, err := c.Ingest(context.Background(), "demo", map[string]string{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Message)
	assert.Equal(t, "observatory error 401: unauthorized", err.Error())
}

func TestCreateRoomAndConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rooms":
			assert.Equal(t, "Bearer master", r.Header.Get("Authorization"))
			var req CreateRoomRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(CreateRoomResponse{OK: true, RoomID: req.RoomID, APIKey: "room_" + req.RoomID + "_abc"})
		case "/rooms/demo/config":
			assert.Empty(t, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"roomId":"demo","name":"Demo","agents":[],"created":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "master")
	created, err := c.CreateRoom(context.Background(), CreateRoomRequest{RoomID: "demo", Name: "Demo"})
	require.NoError(t, err)
	assert.Equal(t, "room_demo_abc", created.APIKey)

	cfg, err := c.RoomConfig(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo", cfg.Name)
}

func TestTailerDedupsAcrossPolls(t *testing.T) {
	var mu sync.Mutex
	var sinces []string
	pages := []string{
		`{"events":[{"id":"a","ts":10},{"id":"b","ts":20}]}`,
		`{"events":[{"id":"b","ts":20},{"id":"c","ts":20},{"id":"d","ts":30}]}`,
		`{"events":[{"id":"d","ts":30}]}`,
	}
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		sinces = append(sinces, r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(pages[call]))
		call++
	}))
	defer srv.Close()

	tail := NewTailer(NewClient(srv.URL, ""), "demo", 0)
	var got []string
	collect := func(ev Event) { got = append(got, ev.ID) }

	for i := 0; i < len(pages); i++ {
		require.NoError(t, tail.Poll(context.Background(), collect))
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	assert.Equal(t, []string{"0", "20", "30"}, sinces)
	assert.Equal(t, int64(30), tail.Cursor())
}

func TestEventsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Path + "?" + r.URL.RawQuery
		_, _ = w.Write([]byte(`{"events":[],"error":"store unavailable"}`))
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, "").Events(context.Background(), "", 5, 50)
	require.NoError(t, err)
	assert.Equal(t, "/api/events?since=5&limit=50", gotQuery)
	assert.Empty(t, page.Events)
	assert.Equal(t, "store unavailable", page.Error)
}
