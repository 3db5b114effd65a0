package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R8355H0755/lan-insight/internal/events"
)

type hubFixture struct {
	hub    *Hub
	bus    *events.Broadcaster
	server *httptest.Server
	cancel context.CancelFunc
}

func newHubFixture(t *testing.T, snapshot SnapshotFunc) *hubFixture {
	t.Helper()
	bus := events.NewBroadcaster()
	hub := NewHub(bus, snapshot)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		cancel()
		bus.Close()
	})
	return &hubFixture{hub: hub, bus: bus, server: server, cancel: cancel}
}

func (f *hubFixture) dial(t *testing.T) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *gws.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestConnectReceivesWelcomeAndSnapshot(t *testing.T) {
	fixture := newHubFixture(t, func() any {
		return map[string]any{"devices": 3}
	})
	conn := fixture.dial(t)

	welcome := readEvent(t, conn)
	assert.Equal(t, "welcome", welcome.Type)
	_, err := time.Parse(time.RFC3339Nano, welcome.Timestamp)
	assert.NoError(t, err, "frame timestamps are ISO-8601")

	initial := readEvent(t, conn)
	assert.Equal(t, "initial_state", initial.Type)
	data, ok := initial.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), data["devices"])
}

func TestHubRelaysBusEvents(t *testing.T) {
	fixture := newHubFixture(t, nil)
	conn := fixture.dial(t)

	welcome := readEvent(t, conn)
	require.Equal(t, "welcome", welcome.Type)

	require.Eventually(t, func() bool { return fixture.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	fixture.bus.Publish(events.TypeHostDiscovered, map[string]any{"ip": "192.168.1.99"})

	ev := readEvent(t, conn)
	assert.Equal(t, events.TypeHostDiscovered, ev.Type)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.99", data["ip"])
}

func TestPingGetsPong(t *testing.T) {
	fixture := newHubFixture(t, nil)
	conn := fixture.dial(t)
	readEvent(t, conn) // welcome

	require.NoError(t, conn.WriteJSON(events.Event{Type: "ping"}))

	pong := readEvent(t, conn)
	assert.Equal(t, "pong", pong.Type)
}

func TestRequestStateResendsSnapshot(t *testing.T) {
	fixture := newHubFixture(t, func() any {
		return map[string]any{"devices": 1}
	})
	conn := fixture.dial(t)
	readEvent(t, conn) // welcome
	readEvent(t, conn) // initial_state

	require.NoError(t, conn.WriteJSON(events.Event{Type: "request_state"}))

	again := readEvent(t, conn)
	assert.Equal(t, "initial_state", again.Type)
}

func TestClientCountTracksConnections(t *testing.T) {
	fixture := newHubFixture(t, nil)
	assert.Equal(t, 0, fixture.hub.ClientCount())

	first := fixture.dial(t)
	second := fixture.dial(t)
	readEvent(t, first)
	readEvent(t, second)
	require.Eventually(t, func() bool { return fixture.hub.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	first.Close()
	require.Eventually(t, func() bool { return fixture.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestShutdownClosesClients(t *testing.T) {
	fixture := newHubFixture(t, nil)
	conn := fixture.dial(t)
	readEvent(t, conn) // welcome

	fixture.cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			// Close frame or dropped connection, either ends the stream.
			return
		}
	}
}
