package http_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload app.BattleState `json:"payload"`
	Message string          `json:"message"`
}

func (e *env) dialWatch(t *testing.T, battleID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") +
		"/ws/battles/" + battleID + "?token=" + e.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read watch message: %v", err)
	}
	return msg
}

func TestWatchStreamsUntilCompletion(t *testing.T) {
	e := newEnv(t)

	var created app.BattleSummary
	e.do(t, http.MethodPost, "/api/battles", "host", map[string]any{"sourceText": "capitals"}, &created)

	conn := e.dialWatch(t, created.ID, "host")

	first := readMessage(t, conn)
	if first.Type != "state" || first.Payload.Status != domain.StatusWaiting {
		t.Fatalf("expected initial waiting snapshot, got %+v", first)
	}

	// Host plays the battle alone; the feed must end with a completed
	// snapshot and then the connection closes.
	answers := []string{"Paris", "4", "Mars", "Water", "Pacific"}
	for i, answer := range answers {
		e.do(t, http.MethodPost, fmt.Sprintf("/api/battles/%s/answers", created.ID), "host",
			map[string]any{"questionIndex": i, "answer": answer}, nil)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("never saw a completed snapshot")
		}
		msg := readMessage(t, conn)
		if msg.Type != "state" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.Payload.Status == domain.StatusCompleted {
			if msg.Payload.HostScore != 50 {
				t.Fatalf("expected host score 50, got %d", msg.Payload.HostScore)
			}
			break
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close after completion")
	}
}

func TestWatchRejectsMissingToken(t *testing.T) {
	e := newEnv(t)

	var created app.BattleSummary
	e.do(t, http.MethodPost, "/api/battles", "host", map[string]any{"sourceText": "capitals"}, &created)

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/battles/" + created.ID
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWatchReportsOutsider(t *testing.T) {
	e := newEnv(t)

	var created app.BattleSummary
	e.do(t, http.MethodPost, "/api/battles", "host", map[string]any{"sourceText": "capitals"}, &created)

	conn := e.dialWatch(t, created.ID, "stranger")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "error" {
		t.Fatalf("expected error message for outsider, got %+v", msg)
	}
}
