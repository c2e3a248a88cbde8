package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

func TestStatusEndpoint(t *testing.T) {
	h := NewHub()
	h.Publish(Bundle{UDE: msg.UDEStatus{StartTime: 2.5}})

	ts := httptest.NewServer(Handler(h))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var b Bundle
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if b.UDE.StartTime != 2.5 {
		t.Fatalf("start time=%v want 2.5", b.UDE.StartTime)
	}
}

func TestStatusEndpoint_RejectsPost(t *testing.T) {
	ts := httptest.NewServer(Handler(NewHub()))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestWebsocketStreamsBundles(t *testing.T) {
	h := NewHub()
	// Published before the dial, so the subscription replay delivers it
	// without racing the upgrade.
	h.Publish(Bundle{UDE: msg.UDEStatus{StartTime: 4.5}})

	ts := httptest.NewServer(Handler(h))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var b Bundle
	if err := json.Unmarshal(frame, &b); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if b.UDE.StartTime != 4.5 {
		t.Fatalf("start time=%v want 4.5", b.UDE.StartTime)
	}
}
