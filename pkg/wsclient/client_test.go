package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatslens/pkg/constants"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func wsTestURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_ReceivesEvents(t *testing.T) {
	upgrader := gws.Upgrader{}
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		data, _ := json.Marshal(map[string]interface{}{
			"type":      "metrics_update",
			"teamId":    "team-1",
			"timestamp": time.Now().UTC(),
			"payload":   map[string]int{"openConversations": 7},
		})
		_ = conn.WriteMessage(gws.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	events := make(chan Event, 1)
	client := NewWithLogger(wsTestURL(srv), "secret-token", nil, testLogger())
	client.OnEvent(func(e Event) { events <- e })
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	select {
	case auth := <-gotAuth:
		assert.Equal(t, "Bearer secret-token", auth)
	case <-time.After(5 * time.Second):
		t.Fatal("handshake never happened")
	}

	select {
	case event := <-events:
		assert.Equal(t, "metrics_update", event.Type)
		assert.Equal(t, "team-1", event.TeamID)
		var payload struct {
			OpenConversations int `json:"openConversations"`
		}
		require.NoError(t, event.Decode(&payload))
		assert.Equal(t, 7, payload.OpenConversations)
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestClient_SendFlushes(t *testing.T) {
	upgrader := gws.Upgrader{}
	received := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(srv.Close)

	client := NewWithLogger(wsTestURL(srv), "", nil, testLogger())

	// Queued before the dial; must flush once the session opens.
	require.NoError(t, client.Send("subscribe", map[string]string{"room": "team-1"}))
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Send("ack", nil))

	want := []string{"subscribe", "ack"}
	for _, wantType := range want {
		select {
		case data := <-received:
			var event Event
			require.NoError(t, json.Unmarshal(data, &event))
			assert.Equal(t, wantType, event.Type)
		case <-time.After(5 * time.Second):
			t.Fatalf("%s never arrived", wantType)
		}
	}
}

func TestClient_QueueDropsOldest(t *testing.T) {
	client := NewWithLogger("ws://127.0.0.1:0", "", &Options{QueueCap: 3}, testLogger())

	for i := 1; i <= 5; i++ {
		require.NoError(t, client.Send("evt", map[string]int{"seq": i}))
	}

	var seqs []int
	for {
		data, ok := client.pop()
		if !ok {
			break
		}
		var event Event
		require.NoError(t, json.Unmarshal(data, &event))
		var p struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, event.Decode(&p))
		seqs = append(seqs, p.Seq)
	}
	assert.Equal(t, []int{3, 4, 5}, seqs)
}

func TestClient_Reconnects(t *testing.T) {
	upgrader := gws.Upgrader{}
	var conns atomic.Int32
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			return // first session dies immediately
		}
		<-hold
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(hold) })

	client := NewWithLogger(wsTestURL(srv), "", &Options{
		ReconnectionDelay:    10 * time.Millisecond,
		ReconnectionDelayMax: 50 * time.Millisecond,
	}, testLogger())
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	deadline := time.After(5 * time.Second)
	for conns.Load() < 2 || !client.Connected() {
		select {
		case <-deadline:
			t.Fatalf("client never reconnected (connections: %d)", conns.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClient_GivesUpAfterAttempts(t *testing.T) {
	upgrader := gws.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))

	client := NewWithLogger(wsTestURL(srv), "", &Options{
		ReconnectionDelay:    5 * time.Millisecond,
		ReconnectionAttempts: 2,
	}, testLogger())
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	require.GreaterOrEqual(t, conns.Load(), int32(1))

	// With the listener gone every redial fails, so the loop must exit.
	srv.Close()
	select {
	case <-client.done:
	case <-time.After(5 * time.Second):
		t.Fatal("client kept retrying after exhausting attempts")
	}
	assert.False(t, client.Connected())
}

func TestClient_ConnectFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := NewWithLogger(wsTestURL(srv), "", nil, testLogger())
	require.Error(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())
}

func TestClient_CloseStopsSession(t *testing.T) {
	upgrader := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := NewWithLogger(wsTestURL(srv), "", nil, testLogger())
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Close())
	assert.False(t, client.Connected())
	require.Error(t, client.Send("late", nil))
	require.NoError(t, client.Close(), "second close is a no-op")
}

func TestBackoff(t *testing.T) {
	client := NewWithLogger("ws://example", "", &Options{
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 30 * time.Second,
	}, testLogger())

	assert.Equal(t, 1*time.Second, client.backoff(0))
	assert.Equal(t, 2*time.Second, client.backoff(1))
	assert.Equal(t, 4*time.Second, client.backoff(2))
	assert.Equal(t, 16*time.Second, client.backoff(4))
	assert.Equal(t, 30*time.Second, client.backoff(5))
	assert.Equal(t, 30*time.Second, client.backoff(63), "overflowed shift falls back to the cap")
}

func TestOptionsDefaults(t *testing.T) {
	client := New("ws://example", "tok", nil)

	assert.Equal(t, constants.WSReconnectDelay, client.opts.ReconnectionDelay)
	assert.Equal(t, constants.WSReconnectDelayMax, client.opts.ReconnectionDelayMax)
	assert.Equal(t, constants.WSReconnectAttempts, client.opts.ReconnectionAttempts)
	assert.Equal(t, constants.WSClientQueueCap, client.opts.QueueCap)
	assert.Equal(t, constants.WSPingInterval, client.opts.PingInterval)
}
