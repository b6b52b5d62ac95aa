package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"presenced/internal/status"
	"presenced/internal/store"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, st store.Store) (*httptest.Server, *status.Hub) {
	t.Helper()
	if st == nil {
		mem := store.OpenMemory()
		t.Cleanup(func() { mem.Close() })
		st = mem
	}
	hub := status.NewHub(10)
	t.Cleanup(hub.Close)
	svc := status.NewService(st, hub, 0)
	srv := New(":0", svc, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}

func dialWS(t *testing.T, ts *httptest.Server, hub *status.Hub) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		t.Fatalf("websocket dial failed status=%d err=%v", code, err)
	}
	t.Cleanup(func() { conn.Close() })
	// the handler subscribes after the handshake completes
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestUpdateAndGetStatus(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := doJSON(t, ts, "POST", "/status", map[string]string{
		"user_id": "alice",
		"status":  "connected",
	})
	if code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", code, body)
	}
	var ev status.StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.UserID != "alice" || ev.Status != "connected" || ev.EventID == "" {
		t.Fatalf("unexpected event %+v", ev)
	}

	code, body = doJSON(t, ts, "GET", "/status/alice", nil)
	if code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", code, body)
	}
	var value string
	if err := json.Unmarshal(body, &value); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if value != "connected" {
		t.Fatalf("expected connected, got %q", value)
	}
}

func TestGetStatusDefaultsToDisconnected(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	code, body := doJSON(t, ts, "GET", "/status/bob", nil)
	if code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", code, body)
	}
	var value string
	if err := json.Unmarshal(body, &value); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if value != DefaultStatus {
		t.Fatalf("expected %q for unknown user, got %q", DefaultStatus, value)
	}
}

func TestUpdateStatusRejectsEmptyUserID(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	code, body := doJSON(t, ts, "POST", "/status", map[string]string{
		"user_id": "",
		"status":  "connected",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", code, body)
	}
}

func TestUpdateStatusRejectsMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/status", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

type downStore struct{}

func (downStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func (downStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func (downStore) Close() error { return nil }

func TestStoreUnavailableMapsTo503(t *testing.T) {
	ts, _ := newTestServer(t, downStore{})

	code, body := doJSON(t, ts, "POST", "/status", map[string]string{
		"user_id": "alice",
		"status":  "connected",
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("update: expected 503, got %d body=%s", code, body)
	}
	code, body = doJSON(t, ts, "GET", "/status/alice", nil)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("get: expected 503, got %d body=%s", code, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	if code, _ := doJSON(t, ts, "GET", "/status", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /status: expected 405, got %d", code)
	}
	if code, _ := doJSON(t, ts, "POST", "/status/alice", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /status/alice: expected 405, got %d", code)
	}
}

func TestWebSocketReceivesUpdatesInOrder(t *testing.T) {
	ts, hub := newTestServer(t, nil)
	conn := dialWS(t, ts, hub)

	for _, st := range []string{"connected", "away"} {
		code, body := doJSON(t, ts, "POST", "/status", map[string]string{
			"user_id": "alice",
			"status":  st,
		})
		if code != http.StatusOK {
			t.Fatalf("update status=%d body=%s", code, body)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"connected", "away"} {
		var ev status.StatusEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if ev.UserID != "alice" || ev.Status != want {
			t.Fatalf("expected alice/%s, got %+v", want, ev)
		}
	}
}

func TestWebSocketSeesOnlyEventsAfterSubscribe(t *testing.T) {
	ts, hub := newTestServer(t, nil)

	code, body := doJSON(t, ts, "POST", "/status", map[string]string{
		"user_id": "alice",
		"status":  "before",
	})
	if code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", code, body)
	}

	conn := dialWS(t, ts, hub)

	code, body = doJSON(t, ts, "POST", "/status", map[string]string{
		"user_id": "alice",
		"status":  "after",
	})
	if code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", code, body)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev status.StatusEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if ev.Status != "after" {
		t.Fatalf("late subscriber must not see earlier events, got %+v", ev)
	}
}

func TestWebSocketClosedOnHubShutdown(t *testing.T) {
	ts, hub := newTestServer(t, nil)
	conn := dialWS(t, ts, hub)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev status.StatusEvent
	if err := conn.ReadJSON(&ev); err == nil {
		t.Fatalf("expected connection to close after hub shutdown, got %+v", ev)
	}
}

func TestClientDisconnectUnregistersSubscription(t *testing.T) {
	ts, hub := newTestServer(t, nil)
	conn := dialWS(t, ts, hub)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription still registered after client disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	code, body := doJSON(t, ts, "GET", "/healthz", nil)
	if code != http.StatusOK {
		t.Fatalf("healthz status=%d body=%s", code, body)
	}
}
