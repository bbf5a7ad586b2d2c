package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/quoteworks/internal/identity"
)

func TestStreamPushesSnapshots(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/quotes/501/workspace", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/quotes/501"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{identity.UserHeaderName: []string{testSeller}},
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var frame streamFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("Read initial frame: %v", err)
	}
	if frame.Type != "snapshot" || frame.Snapshot == nil {
		t.Fatalf("Unexpected initial frame %+v", frame)
	}

	s.do(t, http.MethodPut, "/api/quotes/501/workspace/items/A/price", map[string]string{"text": "7"})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("Read update: %v", err)
		}
		if frame.Snapshot != nil && len(frame.Snapshot.Items) > 0 && frame.Snapshot.Items[0].PriceText == "7" {
			break
		}
	}
	if frame.Snapshot == nil || frame.Snapshot.Items[0].PriceText != "7" {
		t.Fatalf("Edit not pushed, last frame %+v", frame)
	}

	s.do(t, http.MethodDelete, "/api/quotes/501/workspace", nil)
	for {
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("Read close frame: %v", err)
		}
		if frame.Type == "closed" {
			break
		}
	}
}

func TestStreamRequiresOpenWorkspace(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodGet, "/ws/quotes/501", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}
