package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/omdarshan-4964/CodeStream/bus"
	"github.com/omdarshan-4964/CodeStream/config"
	"github.com/omdarshan-4964/CodeStream/hub"
	"github.com/omdarshan-4964/CodeStream/metrics"
	"github.com/omdarshan-4964/CodeStream/protocol"
	"github.com/omdarshan-4964/CodeStream/websocket"
)

// Variant is one protocol dialect served on its own path with its own
// room namespace.
type Variant struct {
	Name    string
	Path    string
	Hub     *hub.Hub
	Gateway *websocket.Gateway
}

type Server struct {
	variants []*Variant
	mux      *http.ServeMux
}

// New wires both protocol variants. b may be nil to run without the
// cross-instance bus.
func New(cfg *config.Config, m *metrics.Metrics, b *bus.RedisBus) *Server {
	s := &Server{mux: http.NewServeMux()}

	s.addVariant(cfg, m, b, protocol.NewRoster(), cfg.Relay.RosterPath)
	s.addVariant(cfg, m, b, protocol.NewWorkspace(), cfg.Relay.WorkspacePath)

	s.mux.HandleFunc("/health", healthHandler)
	s.mux.HandleFunc("/stats", s.statsHandler)
	s.mux.Handle("/metrics", m.Handler())
	return s
}

func (s *Server) addVariant(cfg *config.Config, m *metrics.Metrics, b *bus.RedisBus, codec protocol.Codec, path string) {
	rec := m.Recorder(codec.Name())
	opts := []hub.Option{
		hub.WithMaxSendFailures(cfg.Relay.MaxSendFailures),
		hub.WithMetrics(rec),
	}
	if rc, ok := codec.(protocol.RosterCodec); ok {
		opts = append(opts, hub.WithRoster(rc.EncodeRoster))
	}
	if b != nil {
		opts = append(opts, hub.WithPublisher(b.Publisher(codec.Name())))
	}
	h := hub.New(opts...)
	if b != nil {
		b.Attach(codec.Name(), h)
	}

	gw := websocket.NewGateway(codec, h, rec, websocket.Options{
		SendQueueSize:  cfg.Relay.SendQueueSize,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		JoinTimeout:    cfg.Relay.JoinTimeout,
		PongWait:       cfg.Relay.PongWait,
		WriteWait:      cfg.Relay.WriteWait,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	s.variants = append(s.variants, &Variant{Name: codec.Name(), Path: path, Hub: h, Gateway: gw})
	s.mux.Handle(path, gw)
	slog.Info("relay variant mounted", "variant", codec.Name(), "path", path, "presence", h.PresenceEnabled())
}

func (s *Server) Handler() http.Handler { return s.mux }

// Variant returns the variant with the given name, or nil.
func (s *Server) Variant(name string) *Variant {
	for _, v := range s.variants {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Shutdown closes every live connection of every variant.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for _, v := range s.variants {
		if err := v.Gateway.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]map[string]int, len(s.variants))
	for _, v := range s.variants {
		rooms, clients := v.Hub.Stats()
		out[v.Name] = map[string]int{"rooms": rooms, "clients": clients}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
