package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
)

type testHub struct {
	hub    *Hub
	server *httptest.Server
	cancel context.CancelFunc
	url    string
}

func startHub(t *testing.T, cfg HubConfig) *testHub {
	t.Helper()
	hub := NewHub(cfg, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	return &testHub{
		hub:    hub,
		server: server,
		cancel: cancel,
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (th *testHub) stop() {
	th.cancel()
	<-th.hub.done
	th.server.Close()
}

func (th *testHub) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	before := th.hub.GetStats().TotalConnections
	conn, _, err := websocket.DefaultDialer.Dial(th.url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return th.hub.GetStats().TotalConnections > before
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]interface{}
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func redactionEvent(id string, types ...string) Event {
	return Event{
		Type:      EventTypeNoteRedacted,
		Timestamp: time.Now(),
		Data: NoteRedactedEvent{
			RecordID:      id,
			EntityTypes:   types,
			TotalEntities: len(types),
			MessageLength: 21,
		},
	}
}

func allEvents() HubConfig {
	return HubConfig{
		BroadcastRedactions: true,
		BroadcastRequests:   true,
		AllowedOrigins:      []string{"*"},
	}
}

func TestHub_BroadcastsRedactions(t *testing.T) {
	th := startHub(t, allEvents())
	defer th.stop()

	conn := th.dial(t)
	defer conn.Close()

	th.hub.BroadcastEvent(redactionEvent("note-1", "SSN"))

	event := readEvent(t, conn)
	assert.Equal(t, "note_redacted", event["type"])
	data := event["data"].(map[string]interface{})
	assert.Equal(t, "note-1", data["record_id"])
	assert.Equal(t, []interface{}{"SSN"}, data["entity_types"])
	assert.NotContains(t, data, "originalContent")
}

func TestHub_DisabledEventsAreDropped(t *testing.T) {
	cfg := allEvents()
	cfg.BroadcastRequests = false
	th := startHub(t, cfg)
	defer th.stop()

	conn := th.dial(t)
	defer conn.Close()

	th.hub.BroadcastEvent(Event{Type: EventTypeRequestLog, Data: RequestLogEvent{Path: "/detect"}})
	th.hub.BroadcastEvent(redactionEvent("note-2", "EMAIL"))

	assert.Equal(t, "note_redacted", readEvent(t, conn)["type"])
}

func TestHub_SubscriptionFilter(t *testing.T) {
	th := startHub(t, allEvents())
	defer th.stop()

	conn := th.dial(t)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Type: "subscribe",
		Data: &SubscriptionRequest{
			Events: []EventType{EventTypeNoteRedacted},
			Filter: &EventFilter{EntityTypes: []string{"EMAIL"}},
		},
	}))
	// the pong confirms the subscription was applied
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, "pong", readEvent(t, conn)["type"])

	th.hub.BroadcastEvent(Event{Type: EventTypeRequestLog, Data: RequestLogEvent{Path: "/notes"}})
	th.hub.BroadcastEvent(redactionEvent("ssn-only", "SSN"))
	th.hub.BroadcastEvent(redactionEvent("with-email", "SSN", "EMAIL"))

	event := readEvent(t, conn)
	data := event["data"].(map[string]interface{})
	assert.Equal(t, "with-email", data["record_id"])
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	cfg := allEvents()
	cfg.AllowedOrigins = []string{"http://dashboard.local"}
	th := startHub(t, cfg)
	defer th.stop()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(th.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://dashboard.local")
	conn, _, err := websocket.DefaultDialer.Dial(th.url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHub_MaxConnections(t *testing.T) {
	cfg := allEvents()
	cfg.MaxConnections = 1
	th := startHub(t, cfg)
	defer th.stop()

	conn := th.dial(t)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(th.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_ClientCountCallback(t *testing.T) {
	counts := make(chan int, 10)
	cfg := allEvents()
	cfg.OnClientCount = func(n int) { counts <- n }
	th := startHub(t, cfg)
	defer th.stop()

	conn := th.dial(t)
	assert.Equal(t, 1, <-counts)

	conn.Close()
	select {
	case n := <-counts:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
}

func TestHub_StopDisconnectsClientsWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := startHub(t, allEvents())
	conn := th.dial(t)

	th.stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	conn.Close()

	// Late broadcasts after stop must not block
	th.hub.BroadcastEvent(redactionEvent("late", "SSN"))
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(redactionEvent("note-9", "PHONE"))
	require.NoError(t, err)

	assert.Contains(t, string(data), `"type":"note_redacted"`)
	assert.Contains(t, string(data), `"total_entities":1`)
}

func TestHub_NoteRedactedCarriesNoText(t *testing.T) {
	th := startHub(t, allEvents())
	defer th.stop()

	conn := th.dial(t)
	defer conn.Close()

	record := store.AuditRecord{
		ID:                   "note-7",
		OriginalContent:      "mail bob@example.com or 555-1234",
		DetectedDescriptions: []string{"bob@example.com is a EMAIL PII data type with a score of 0.99"},
		RedactedContent:      "mail *************** or ********",
		MessageLength:        32,
		CreationDate:         time.Now().UTC(),
	}
	entities := privacy.DetectionResult{
		{Type: "PHONE", Score: 0.85, BeginOffset: 24, EndOffset: 32},
		{Type: "EMAIL", Score: 0.99, BeginOffset: 5, EndOffset: 20},
		{Type: "PHONE", Score: 0.85, BeginOffset: 24, EndOffset: 32},
	}

	ctx := logger.ContextWithRequestID(context.Background(), "req-1")
	th.hub.NoteRedacted(ctx, record, entities, 1500*time.Microsecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "bob@example.com")
	assert.NotContains(t, string(raw), "555-1234")

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, "req-1", event["request_id"])
	data := event["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{"EMAIL", "PHONE"}, data["entity_types"])
	assert.Equal(t, 3.0, data["total_entities"])
	assert.Equal(t, 1.5, data["processing_ms"])
}
