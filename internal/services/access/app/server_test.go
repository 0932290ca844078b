package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server, err := NewServer(Config{
		HTTPAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(t.TempDir(), "access.db"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(server.Close)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createRoomPolicy(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/policies", nil, map[string]any{
		"resource_type":     "room",
		"resource_id":       "1",
		"public_guest_role": "reader",
		"public_user_role":  "speaker",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create policy status = %d, want 201", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestJoinAndStatusFlow(t *testing.T) {
	srv := newTestServer(t)
	createRoomPolicy(t, srv)

	sessionHeaders := map[string]string{"X-Session-Id": "s1"}
	resp, body := doJSON(t, srv, http.MethodPost, "/v1/join", sessionHeaders, map[string]any{
		"resource_type": "room",
		"resource_id":   "1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d body=%v", resp.StatusCode, body)
	}
	if body["role"] != "reader" {
		t.Fatalf("join role = %v, want reader", body["role"])
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/v1/status/room/1", sessionHeaders, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	if body["role"] != "reader" || body["joined"] != true || body["can_join"] != true {
		t.Fatalf("unexpected status body: %v", body)
	}
}

func TestJoinErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	sessionHeaders := map[string]string{"X-Session-Id": "s1"}
	resp, body := doJSON(t, srv, http.MethodPost, "/v1/join", sessionHeaders, map[string]any{
		"resource_type": "room",
		"resource_id":   "missing",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("join without policy status = %d, want 404", resp.StatusCode)
	}

	createRoomPolicy(t, srv)
	for range 2 {
		resp, body = doJSON(t, srv, http.MethodPost, "/v1/join", sessionHeaders, map[string]any{
			"resource_type": "room",
			"resource_id":   "1",
		})
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double join status = %d body=%v, want 409", resp.StatusCode, body)
	}
}

func TestLoginMigratesGrant(t *testing.T) {
	srv := newTestServer(t)
	createRoomPolicy(t, srv)

	doJSON(t, srv, http.MethodPost, "/v1/join", map[string]string{"X-Session-Id": "s1"}, map[string]any{
		"resource_type": "room",
		"resource_id":   "1",
	})
	resp, body := doJSON(t, srv, http.MethodPost, "/v1/login", nil, map[string]any{
		"account_id": "u1",
		"session_id": "s1",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("login status = %d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/v1/status/room/1", map[string]string{"X-Account-Id": "u1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// Grant role reader combined with public user role speaker.
	if body["role"] != "speaker" || body["joined"] != true {
		t.Fatalf("unexpected status after login: %v", body)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/v1/sessions/s1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session info status = %d", resp.StatusCode)
	}
	if body["account_id"] != "u1" {
		t.Fatalf("session info account = %v, want u1", body["account_id"])
	}
}

func TestPresenceEndpointsAndViews(t *testing.T) {
	srv := newTestServer(t)
	createRoomPolicy(t, srv)

	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/presence/resource", nil, map[string]any{
		"subject_kind":  "session",
		"subject_id":    "s1",
		"resource_type": "room",
		"resource_id":   "1",
		"online":        true,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("resource presence status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/resources/room/1/online", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("online view status = %d", resp.StatusCode)
	}
	online, ok := body["online"].([]any)
	if !ok || len(online) != 1 {
		t.Fatalf("online view = %v, want one record", body)
	}

	resp, body = doJSON(t, srv, http.MethodPost, "/v1/presence/force-all-offline", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("force all offline status = %d", resp.StatusCode)
	}
	if body["swept"] != float64(1) {
		t.Fatalf("swept = %v, want 1", body["swept"])
	}
}

func TestResourceSessionsView(t *testing.T) {
	srv := newTestServer(t)
	createRoomPolicy(t, srv)

	doJSON(t, srv, http.MethodPost, "/v1/join", map[string]string{"X-Session-Id": "s1"}, map[string]any{
		"resource_type": "room",
		"resource_id":   "1",
	})

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/resources/room/1/sessions", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions view status = %d", resp.StatusCode)
	}
	sessions, ok := body["sessions"].([]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("sessions view = %v, want one record", body)
	}
}

func TestDeletePolicyCascadeAndReconcile(t *testing.T) {
	srv := newTestServer(t)
	createRoomPolicy(t, srv)

	doJSON(t, srv, http.MethodPost, "/v1/join", map[string]string{"X-Session-Id": "s1"}, map[string]any{
		"resource_type": "room",
		"resource_id":   "1",
	})

	resp, _ := doJSON(t, srv, http.MethodDelete, "/v1/policies/room/1", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete policy status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, srv, http.MethodGet, "/v1/policies/room/1", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted policy status = %d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, srv, http.MethodPost, "/v1/reconcile", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile status = %d", resp.StatusCode)
	}
	if body["repaired"] != float64(0) {
		t.Fatalf("repaired = %v, want 0 after clean cascade", body["repaired"])
	}
}

func TestWSStatusFeed(t *testing.T) {
	server, err := NewServer(Config{
		HTTPAddr: "127.0.0.1:0",
		DBPath:   filepath.Join(t.TempDir(), "access.db"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(server.Close)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	createRoomPolicy(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, srv.URL)
	if err != nil {
		t.Fatalf("ws config: %v", err)
	}
	cfg.Header = make(http.Header)
	cfg.Header.Set("X-Session-Id", "s1")
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)
	if err := encoder.Encode(wsFrame{Type: "subscribe", ResourceType: "room", ResourceID: "1"}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial wsFrame
	if err := decoder.Decode(&initial); err != nil {
		t.Fatalf("read initial frame: %v", err)
	}
	if initial.Type != "status" || initial.Status == nil || initial.Status.Joined {
		t.Fatalf("unexpected initial frame: %+v", initial)
	}

	doJSON(t, srv, http.MethodPost, "/v1/join", map[string]string{"X-Session-Id": "s1"}, map[string]any{
		"resource_type": "room",
		"resource_id":   "1",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var updated wsFrame
	if err := decoder.Decode(&updated); err != nil {
		t.Fatalf("read update frame: %v", err)
	}
	if updated.Type != "status" || updated.Status == nil || !updated.Status.Joined || updated.Status.Role != "reader" {
		t.Fatalf("unexpected update frame: %+v", updated)
	}
}
