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

	"github.com/omdarshan-4964/CodeStream/domain"
	"github.com/omdarshan-4964/CodeStream/hub"
	"github.com/omdarshan-4964/CodeStream/protocol"
)

func testOptions() Options {
	return Options{
		SendQueueSize:  16,
		MaxMessageSize: 4096,
		JoinTimeout:    200 * time.Millisecond,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
	}
}

func startGateway(t *testing.T, codec protocol.Codec, opts Options) (*httptest.Server, *hub.Hub, *Gateway) {
	t.Helper()
	var hubOpts []hub.Option
	if rc, ok := codec.(protocol.RosterCodec); ok {
		hubOpts = append(hubOpts, hub.WithRoster(rc.EncodeRoster))
	}
	h := hub.New(hubOpts...)
	g := NewGateway(codec, h, nil, opts)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return srv, h, g
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, code), "want close %d, got %v", code, err)
			return
		}
	}
}

func TestGateway_RejectsWorkspaceWithoutID(t *testing.T) {
	srv, h, _ := startGateway(t, protocol.NewWorkspace(), testOptions())

	ws := dial(t, srv, "", nil)
	expectClose(t, ws, websocket.ClosePolicyViolation)

	rooms, clients := h.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, clients)
}

func TestGateway_RejectsRosterWithoutJoin(t *testing.T) {
	tests := []struct {
		name  string
		first string
	}{
		{name: "silence until timeout"},
		{name: "edit before join", first: `{"event":"code-change","data":{"roomId":"r1","code":"X"}}`},
		{name: "join without room", first: `{"event":"join-room","data":{"username":"alice"}}`},
		{name: "garbage", first: `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, h, _ := startGateway(t, protocol.NewRoster(), testOptions())

			ws := dial(t, srv, "", nil)
			if tt.first != "" {
				require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.first)))
			}
			expectClose(t, ws, websocket.ClosePolicyViolation)

			rooms, _ := h.Stats()
			assert.Zero(t, rooms)
		})
	}
}

func TestGateway_AdmitsByJoinMessage(t *testing.T) {
	srv, h, _ := startGateway(t, protocol.NewRoster(), testOptions())

	ws := dial(t, srv, "", nil)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"join-room","data":{"roomId":"r1","username":"alice"}}`)))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"update-team-list"`)
	assert.Contains(t, string(data), `"alice"`)

	members := h.Members("r1")
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)
}

func TestGateway_CloseRunsLeaveOnce(t *testing.T) {
	srv, h, _ := startGateway(t, protocol.NewWorkspace(), testOptions())

	ws := dial(t, srv, "?workspaceId=w1", nil)
	require.Eventually(t, func() bool { return h.HasRoom("w1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return !h.HasRoom("w1") }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ShutdownClosesConnections(t *testing.T) {
	srv, h, g := startGateway(t, protocol.NewWorkspace(), testOptions())

	ws := dial(t, srv, "?workspaceId=w1", nil)
	require.Eventually(t, func() bool { return h.HasRoom("w1") }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.Shutdown(ctx))

	expectClose(t, ws, websocket.CloseGoingAway)
	assert.False(t, h.HasRoom("w1"))
}

func TestGateway_ShutdownDuringAdmission(t *testing.T) {
	opts := testOptions()
	opts.JoinTimeout = 5 * time.Second
	srv, h, g := startGateway(t, protocol.NewRoster(), opts)

	// Connected but never sends join-room.
	ws := dial(t, srv, "", nil)
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.conns) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Shutdown(ctx))
	expectClose(t, ws, websocket.CloseGoingAway)

	rooms, clients := h.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, clients)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?roomId=r1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func readRosters(ws *websocket.Conn) <-chan []string {
	out := make(chan []string, 16)
	go func() {
		defer close(out)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if json.Unmarshal(data, &env) != nil || env.Event != protocol.EventUpdateTeamList {
				continue
			}
			var members []domain.Member
			if json.Unmarshal(env.Data, &members) != nil {
				continue
			}
			names := make([]string, 0, len(members))
			for _, m := range members {
				names = append(names, m.Username)
			}
			out <- names
		}
	}()
	return out
}

func nextRoster(t *testing.T, rosters <-chan []string) []string {
	t.Helper()
	select {
	case names, ok := <-rosters:
		require.True(t, ok, "connection closed")
		return names
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a roster")
		return nil
	}
}

func TestGateway_SlowConsumerIsDisconnected(t *testing.T) {
	opts := testOptions()
	opts.SendQueueSize = 1
	opts.MaxMessageSize = 1 << 20
	opts.WriteWait = 500 * time.Millisecond
	srv, h, _ := startGateway(t, protocol.NewRoster(), opts)

	alice := dial(t, srv, "?roomId=r1&username=alice", nil)
	rosters := readRosters(alice)
	require.Equal(t, []string{"alice"}, nextRoster(t, rosters))

	// bob never reads: his socket buffers fill, then his send queue.
	_ = dial(t, srv, "?roomId=r1&username=bob", nil)
	require.Equal(t, []string{"alice", "bob"}, nextRoster(t, rosters))

	frame := []byte(`{"event":"code-change","data":{"roomId":"r1","code":"` + strings.Repeat("x", 64<<10) + `"}}`)
	for i := 0; i < 4000 && len(h.Members("r1")) == 2; i++ {
		require.NoError(t, alice.WriteMessage(websocket.TextMessage, frame))
	}

	assert.Equal(t, []string{"alice"}, nextRoster(t, rosters))
	members := h.Members("r1")
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)
}

func TestGateway_OversizedFrameClosesConnection(t *testing.T) {
	srv, h, _ := startGateway(t, protocol.NewWorkspace(), testOptions())

	ws := dial(t, srv, "?workspaceId=w1", nil)
	require.Eventually(t, func() bool { return h.HasRoom("w1") }, 2*time.Second, 10*time.Millisecond)

	big := `{"type":"code_change","payload":{"content":"` + strings.Repeat("x", 8192) + `"}}`
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(big)))
	expectClose(t, ws, websocket.CloseMessageTooBig)
	assert.Eventually(t, func() bool { return !h.HasRoom("w1") }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_OriginCheck(t *testing.T) {
	opts := testOptions()
	opts.AllowedOrigins = []string{"http://localhost:3000", "https://*.vercel.app"}
	srv, _, _ := startGateway(t, protocol.NewWorkspace(), opts)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?workspaceId=w1"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://preview-1.vercel.app"}})
	require.NoError(t, err)
	_ = ws.Close()
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://*.vercel.app"}
	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:3000", want: true},
		{origin: "http://localhost:3001", want: false},
		{origin: "https://codestream.vercel.app", want: true},
		{origin: "http://codestream.vercel.app", want: false},
		{origin: "https://vercel.app.evil.com", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originAllowed(tt.origin, allowed), tt.origin)
	}
	assert.True(t, originAllowed("https://anything", nil))
}
