package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omdarshan-4964/CodeStream/config"
	"github.com/omdarshan-4964/CodeStream/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	rooms  []string
	events []domain.Event
}

func (s *recordingSink) BroadcastExcludingSender(roomID string, event domain.Event) {}

func (s *recordingSink) BroadcastAll(roomID string, event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, roomID)
	s.events = append(s.events, event)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func setupTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func startBus(t *testing.T, mr *miniredis.Miniredis) *RedisBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := New(client, "codestream", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = b.Close()
	})

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bus never subscribed")
	}
	return b
}

func TestRedisBus_RelaysToOtherInstances(t *testing.T) {
	mr := setupTestRedis(t)
	a := startBus(t, mr)
	b := startBus(t, mr)

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	a.Attach("workspace", sinkA)
	b.Attach("workspace", sinkB)

	frame := []byte(`{"type":"code_change","payload":{"content":"X"}}`)
	a.Publisher("workspace").Publish("w1", domain.Event{
		Kind: domain.KindCodeChange, RoomID: "w1", SourceID: "c1", Frame: frame,
	})

	require.Eventually(t, func() bool { return sinkB.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	sinkB.mu.Lock()
	assert.Equal(t, "w1", sinkB.rooms[0])
	assert.Equal(t, frame, sinkB.events[0].Frame)
	assert.Equal(t, "c1", sinkB.events[0].SourceID)
	sinkB.mu.Unlock()

	// The publishing instance ignores its own message.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sinkA.count())
}

func TestRedisBus_VariantsStaySeparate(t *testing.T) {
	mr := setupTestRedis(t)
	a := startBus(t, mr)
	b := startBus(t, mr)

	roster := &recordingSink{}
	workspace := &recordingSink{}
	b.Attach("roster", roster)
	b.Attach("workspace", workspace)

	a.Publisher("roster").Publish("r1", domain.Event{Kind: domain.KindCodeChange, Frame: []byte("x")})

	require.Eventually(t, func() bool { return roster.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, workspace.count())
}

func TestRedisBus_DropsUnexpectedMessages(t *testing.T) {
	mr := setupTestRedis(t)
	b := startBus(t, mr)
	sink := &recordingSink{}
	b.Attach("roster", sink)

	mr.Publish("codestream:roster:r1", "not json")
	mr.Publish("codestream:roster:r1", `{"instance":"other","variant":"roster","roomId":"r1","kind":"presence","frame":"eA=="}`)
	mr.Publish("codestream:roster:r1", `{"instance":"other","variant":"roster","roomId":"r1","kind":"file_select","frame":"eA=="}`)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, domain.KindFileSelect, sink.events[0].Kind)
	assert.Equal(t, []byte("x"), sink.events[0].Frame)
}

func TestDial(t *testing.T) {
	mr := setupTestRedis(t)

	b, err := Dial(context.Background(), config.RedisConfig{Addr: mr.Addr(), ChannelPrefix: "p"})
	require.NoError(t, err)
	assert.Equal(t, "p:roster:r1", b.channel("roster", "r1"))
	require.NoError(t, b.Close())

	gone, err := miniredis.Run()
	require.NoError(t, err)
	addr := gone.Addr()
	gone.Close()
	_, err = Dial(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
