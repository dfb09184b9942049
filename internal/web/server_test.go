package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpto/blot/internal/ccj"
	"github.com/xpto/blot/internal/session"
	"github.com/xpto/blot/internal/testutil"
)

func newTestServer(t *testing.T) (*httptest.Server, *testutil.Fixture) {
	t.Helper()
	f := testutil.NewFixture(t)
	db, err := ccj.Load(f.CCJPath)
	require.NoError(t, err)
	srv := NewServer(session.NewShared(db, "0.1.0"), "")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, f
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestStatus(t *testing.T) {
	ts, f := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/api/status")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["tu_count"])
	assert.Contains(t, body["ccj"], f.Dir)
	assert.Equal(t, f.Dir, body["project_root"])
}

func TestFiles(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/api/files")
	assert.Equal(t, http.StatusOK, status)
	files := body["files"].([]any)
	assert.Contains(t, files, "broken.cpp")
	assert.Contains(t, files, "source.cpp")
}

func TestSource(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/api/source?file=source.cpp")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "source.cpp", body["file"])
	assert.Contains(t, body["content"], "int main()")
}

func TestSource_Errors(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing param", "/api/source", http.StatusBadRequest},
		{"traversal", "/api/source?file=../../etc/passwd", http.StatusForbidden},
		{"absolute", "/api/source?file=/etc/passwd", http.StatusForbidden},
		{"not found", "/api/source?file=absent.cpp", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := getJSON(t, ts.URL+tt.url)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestEmbeddedIndex(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestHTTPAnnotate(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/annotate", "application/json",
		strings.NewReader(`{"file": "source.cpp", "options": {"demangle": true}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Nil(t, body["error"])
	assert.NotEmpty(t, body["assembly"])
	assert.NotEmpty(t, body["line_mappings"])
}

func TestHTTPAnnotate_UnknownFile(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/annotate", "application/json",
		strings.NewReader(`{"file": "absent.cpp"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errObj["name"])
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wsCall sends a request and reads messages until the matching
// response, returning it decoded.
func wsCall(t *testing.T, conn *websocket.Conn, id int, method string, params any) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": id, "method": method, "params": params,
	}))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if _, isNotification := msg["method"]; isNotification {
			continue
		}
		assert.EqualValues(t, id, msg["id"])
		return msg
	}
}

func TestWebSocketPipeline(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	resp := wsCall(t, conn, 1, session.MethodInitialize, map[string]any{})
	result := resp["result"].(map[string]any)
	assert.Equal(t, "blot", result["serverInfo"].(map[string]any)["name"])

	resp = wsCall(t, conn, 2, session.MethodInfer, map[string]any{"file": "source.cpp"})
	result = resp["result"].(map[string]any)
	assert.EqualValues(t, 1, result["token"])
	assert.Equal(t, false, result["cached"])

	resp = wsCall(t, conn, 3, session.MethodGrabAsm, map[string]any{"token": 1})
	result = resp["result"].(map[string]any)
	assert.Equal(t, false, result["cached"])

	resp = wsCall(t, conn, 4, session.MethodAnnotate,
		map[string]any{"token": 1, "options": map[string]any{"demangle": true}})
	result = resp["result"].(map[string]any)
	assert.NotEmpty(t, result["assembly"])
}

func TestWebSocketSessionIsolation(t *testing.T) {
	ts, _ := newTestServer(t)

	first := dialWS(t, ts)
	resp := wsCall(t, first, 1, session.MethodInfer, map[string]any{"file": "source.cpp"})
	token := resp["result"].(map[string]any)["token"]

	// A fresh connection is a fresh session: the token is meaningless.
	second := dialWS(t, ts)
	resp = wsCall(t, second, 1, session.MethodInfer, map[string]any{"token": token})
	errObj := resp["error"].(map[string]any)
	assert.EqualValues(t, -32602, errObj["code"])
}

func TestWebSocketProgressNotifications(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": session.MethodInfer,
		"params": map[string]any{"file": "source.cpp"},
	}))

	var statuses []string
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["method"] == session.MethodProgress {
			params := msg["params"].(map[string]any)
			statuses = append(statuses, params["status"].(string))
			continue
		}
		break // the response arrives after all notifications
	}
	assert.Equal(t, []string{"running", "done"}, statuses)
}
