package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBroadcastReachesConnectedClients(t *testing.T) {
	reg := NewWSRegistry(nil)
	joined := make(chan struct{}, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add(conn)
		joined <- struct{}{}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	<-joined

	reg.Broadcast(Event{Type: EventTracking, Data: map[string]int{"request_id": 501}})

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != EventTracking || got.Data["request_id"] != 501 {
		t.Fatalf("unexpected event %+v", got)
	}

	reg.Close()
	if reg.Len() != 0 {
		t.Fatalf("expected registry empty after close")
	}
}
