package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/omdarshan-4964/CodeStream/config"
	"github.com/omdarshan-4964/CodeStream/domain"
)

// Message is what travels between relay instances.
type Message struct {
	Instance string      `json:"instance"`
	Variant  string      `json:"variant"`
	RoomID   string      `json:"roomId"`
	Kind     domain.Kind `json:"kind"`
	SourceID string      `json:"sourceId"`
	Frame    []byte      `json:"frame"`
}

// RedisBus mirrors relayed edits to other instances over redis pub/sub.
// Presence never crosses instances; each instance reports its own roster.
type RedisBus struct {
	rdb      *redis.Client
	prefix   string
	instance string
	timeout  time.Duration

	mu    sync.RWMutex
	sinks map[string]domain.Broadcaster
	ready chan struct{}
}

// Dial connects to redis and verifies connectivity
func Dial(ctx context.Context, cfg config.RedisConfig) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return New(rdb, cfg.ChannelPrefix, cfg.PublishTimeout), nil
}

func New(rdb *redis.Client, prefix string, timeout time.Duration) *RedisBus {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisBus{
		rdb:      rdb,
		prefix:   prefix,
		instance: uuid.NewString(),
		timeout:  timeout,
		sinks:    make(map[string]domain.Broadcaster),
		ready:    make(chan struct{}),
	}
}

// Attach routes messages of variant from other instances into sink.
func (b *RedisBus) Attach(variant string, sink domain.Broadcaster) {
	b.mu.Lock()
	b.sinks[variant] = sink
	b.mu.Unlock()
}

// Publisher returns the publishing side for one variant.
func (b *RedisBus) Publisher(variant string) *Publisher {
	return &Publisher{bus: b, variant: variant}
}

// Ready is closed once the subscription is live.
func (b *RedisBus) Ready() <-chan struct{} { return b.ready }

// Run subscribes to every room channel and delivers foreign messages
// until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, b.prefix+":*")
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	close(b.ready)
	slog.Info("bus subscribed", "pattern", b.prefix+":*", "instance", b.instance)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(msg.Payload)
		}
	}
}

func (b *RedisBus) dispatch(payload string) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		slog.Warn("bus message dropped", "error", err)
		return
	}
	if m.Instance == b.instance || m.RoomID == "" {
		return
	}
	if m.Kind != domain.KindCodeChange && m.Kind != domain.KindFileSelect {
		slog.Warn("bus message dropped", "kind", m.Kind)
		return
	}

	b.mu.RLock()
	sink := b.sinks[m.Variant]
	b.mu.RUnlock()
	if sink == nil {
		return
	}
	sink.BroadcastAll(m.RoomID, domain.Event{Kind: m.Kind, RoomID: m.RoomID, SourceID: m.SourceID, Frame: m.Frame})
}

func (b *RedisBus) Close() error { return b.rdb.Close() }

// channel namespacing for room pub/sub
func (b *RedisBus) channel(variant, roomID string) string {
	return strings.Join([]string{b.prefix, variant, roomID}, ":")
}

type Publisher struct {
	bus     *RedisBus
	variant string
}

// Publish runs on the sender's read loop, so per-source order carries over
// to other instances. Failures are logged and otherwise ignored.
func (p *Publisher) Publish(roomID string, event domain.Event) {
	raw, err := json.Marshal(Message{
		Instance: p.bus.instance,
		Variant:  p.variant,
		RoomID:   roomID,
		Kind:     event.Kind,
		SourceID: event.SourceID,
		Frame:    event.Frame,
	})
	if err != nil {
		slog.Error("bus encode failed", "room", roomID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.bus.timeout)
	defer cancel()
	if err := p.bus.rdb.Publish(ctx, p.bus.channel(p.variant, roomID), raw).Err(); err != nil {
		slog.Warn("bus publish failed", "room", roomID, "variant", p.variant, "error", err)
	}
}
