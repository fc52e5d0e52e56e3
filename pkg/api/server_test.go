package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	s := NewServer("tracker-1", "tracker", ":0")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tracker-1", rec.Header().Get("X-Node-ID"))
	assert.Equal(t, "tracker", rec.Header().Get("X-Node-Role"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestMissingHandlerIsNotImplemented(t *testing.T) {
	s := NewServer("helmet-1", "reporter", ":0")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hits", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hits handler")
}

func TestInstalledHandlerAndMethods(t *testing.T) {
	s := NewServer("helmet-1", "reporter", ":0")

	type shot struct {
		Address uint16 `json:"address"`
	}
	var got shot
	s.ShotHandler = func(w http.ResponseWriter, r *http.Request) {
		if err := DecodeJSON(w, r, &got); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusAccepted, got)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ir", strings.NewReader(`{"address": 161}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, uint16(161), got.Address)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ir", strings.NewReader(`{"bogus": 1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ir", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPathVariable(t *testing.T) {
	s := NewServer("tracker-1", "tracker", ":0")
	s.HitHandler = func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"id": Var(r, "id")})
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hits/abc-123", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc-123")
}

func TestHubBroadcast(t *testing.T) {
	s := NewServer("tracker-1", "tracker", ":0")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/hits"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Hub().Broadcast(map[string]int{"shooter_id": 161}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"shooter_id": 161}`, string(data))

	conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStartAndStop(t *testing.T) {
	s := NewServer("tracker-1", "tracker", "127.0.0.1:0")
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
