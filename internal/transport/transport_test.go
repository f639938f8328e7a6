package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lifesync/lifesync/internal/record"
)

var testIdentity = Identity{UserID: "user-1", DeviceID: "phone", Platform: record.PlatformIOS}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestClientPush(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sync" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(HeaderUserID) != "user-1" || r.Header.Get(HeaderDeviceID) != "phone" || r.Header.Get(HeaderPlatform) != "ios" {
			t.Errorf("identity headers missing: %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(PushResponse{Items: []record.SyncItem{{ID: "srv", Type: record.TypeJournal, Version: 9}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", testIdentity, nil)
	items := []record.SyncItem{{ID: "a", Type: record.TypeJournal, Version: 1}}

	back, err := c.Push(context.Background(), items)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].ID != "a" {
		t.Errorf("server received %+v", got)
	}
	if len(back) != 1 || back[0].ID != "srv" {
		t.Errorf("Push returned %+v", back)
	}
}

func TestClientPushEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	back, err := NewClient(srv.URL, testIdentity, nil).Push(context.Background(), nil)
	if err != nil || back != nil {
		t.Errorf("Push() = %v, %v", back, err)
	}
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testIdentity, nil).Push(context.Background(), nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable || !strings.Contains(se.Body, "database unavailable") {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestClientBatchLimit(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", testIdentity, nil)
	_, err := c.Push(context.Background(), make([]record.SyncItem, MaxBatch+1))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("error = %v, want ErrBatchTooLarge", err)
	}
}

func TestClientInitial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/sync/initial" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(InitialResponse{
			Items:   []record.SyncItem{{ID: "a", Type: record.TypeJournal, Version: 2}},
			Devices: []record.DeviceInfo{{ID: "phone", Status: record.DeviceSynced}},
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, testIdentity, nil).Initial(context.Background())
	if err != nil {
		t.Fatalf("Initial failed: %v", err)
	}
	if len(resp.Items) != 1 || len(resp.Devices) != 1 {
		t.Errorf("Initial() = %+v", resp)
	}
}

func TestClientConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url, testIdentity, nil).Push(context.Background(), nil); err == nil {
		t.Error("expected error from closed server")
	}
}

// wsServer accepts channel connections, sends each connection one message
// and then drops it, forcing the client to reconnect.
func wsServer(t *testing.T, msg Message, accepted *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("deviceId") != "phone" || r.Header.Get(HeaderDeviceID) != "phone" {
			t.Errorf("identity missing from handshake: %v %v", r.URL.Query(), r.Header)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		data, _ := json.Marshal(msg)
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		_ = conn.Write(ctx, websocket.MessageText, data)
		time.Sleep(20 * time.Millisecond)
		_ = conn.Close(websocket.StatusGoingAway, "bye")
	}))
}

func TestChannelReceivesAndReconnects(t *testing.T) {
	var accepted atomic.Int32
	msg := Message{Type: MessageDeviceUpdate, Devices: []record.DeviceInfo{{ID: "phone"}}}
	srv := wsServer(t, msg, &accepted)
	defer srv.Close()

	var (
		mu       sync.Mutex
		messages []Message
		states   []ChannelState
	)
	ch, err := NewChannel(&ChannelConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Identity:       testIdentity,
		ReconnectDelay: 30 * time.Millisecond,
		Logger:         quietLogger(),
	}, func(m Message) {
		mu.Lock()
		messages = append(messages, m)
		mu.Unlock()
	}, func(s ChannelState, _ error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	ch.Start()
	defer ch.Close()

	deadline := time.Now().Add(3 * time.Second)
	for accepted.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if accepted.Load() < 2 {
		t.Fatalf("channel did not reconnect (accepted=%d)", accepted.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(messages) == 0 || messages[0].Type != MessageDeviceUpdate {
		t.Errorf("messages = %+v", messages)
	}
	if len(states) < 2 || states[0] != StateConnected || states[1] != StateDisconnected {
		t.Errorf("states = %v", states)
	}
}

func TestChannelCloseStopsReconnect(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ch, err := NewChannel(&ChannelConfig{
		URL:            url,
		Identity:       testIdentity,
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         quietLogger(),
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	ch.Start()
	time.Sleep(100 * time.Millisecond)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	dials := ch.Dials()
	if dials < 2 {
		t.Errorf("expected repeated dial attempts, got %d", dials)
	}

	time.Sleep(100 * time.Millisecond)
	if ch.Dials() != dials {
		t.Errorf("channel kept dialing after Close: %d -> %d", dials, ch.Dials())
	}
	if ch.Connected() {
		t.Error("closed channel reports connected")
	}
}

func TestChannelStartAfterClose(t *testing.T) {
	ch, err := NewChannel(&ChannelConfig{URL: "ws://127.0.0.1:1", Logger: quietLogger()}, nil, nil)
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}
	_ = ch.Close()
	ch.Start()
	time.Sleep(20 * time.Millisecond)
	if ch.Dials() != 0 {
		t.Errorf("closed channel dialed %d times", ch.Dials())
	}
}

func TestNewChannelRequiresURL(t *testing.T) {
	if _, err := NewChannel(&ChannelConfig{}, nil, nil); err == nil {
		t.Error("expected error for empty URL")
	}
}
