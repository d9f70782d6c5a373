package ai

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialChatSocket(t *testing.T, b *fakeBackend) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newTestRouter(b, newFakeStore()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestChatSocket_streamsReply(t *testing.T) {
	conn := dialChatSocket(t, &fakeBackend{tokens: []string{"Hel", "lo"}})

	if err := conn.WriteJSON(map[string]any{"message": "hi"}); err != nil {
		t.Fatal(err)
	}
	var text []string
	for {
		f := readFrame(t, conn)
		if f.Type == eventToken {
			var tok string
			_ = json.Unmarshal(f.Data, &tok)
			text = append(text, tok)
			continue
		}
		if f.Type != eventDone {
			t.Fatalf("frame = %s %s", f.Type, f.Data)
		}
		var done replyDone
		if err := json.Unmarshal(f.Data, &done); err != nil || done.Text != "Hello" {
			t.Errorf("done = %s", f.Data)
		}
		break
	}
	if strings.Join(text, "") != "Hello" {
		t.Errorf("tokens = %q", text)
	}
}

func TestChatSocket_busyThenCancel(t *testing.T) {
	conn := dialChatSocket(t, &fakeBackend{tokens: []string{"Hel"}, block: true})

	if err := conn.WriteJSON(map[string]any{"message": "first"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != eventToken {
		t.Fatalf("first frame = %s %s", f.Type, f.Data)
	}

	if err := conn.WriteJSON(map[string]any{"message": "second"}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	var done replyDone
	_ = json.Unmarshal(f.Data, &done)
	if f.Type != eventError || done.Error != replyBusyText {
		t.Fatalf("busy frame = %s %s", f.Type, f.Data)
	}

	if err := conn.WriteJSON(map[string]any{"type": "cancel"}); err != nil {
		t.Fatal(err)
	}
	f = readFrame(t, conn)
	done = replyDone{}
	_ = json.Unmarshal(f.Data, &done)
	if f.Type != eventError || done.Error != "The request was cancelled." || done.Text != "Hel" {
		t.Fatalf("cancel frame = %s %s", f.Type, f.Data)
	}

	// The connection takes new requests once the reply has ended. The slot is
	// released just after the terminal frame, so a busy answer may come first.
	for attempt := 0; ; attempt++ {
		if err := conn.WriteJSON(map[string]any{"message": "third"}); err != nil {
			t.Fatal(err)
		}
		f := readFrame(t, conn)
		if f.Type == eventToken {
			break
		}
		if attempt == 20 {
			t.Fatalf("after cancel frame = %s %s", f.Type, f.Data)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
