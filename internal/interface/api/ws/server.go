package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/app/events"
	"zhatRelay/internal/domain"
	"zhatRelay/internal/logging"
	"zhatRelay/internal/metrics"
)

const (
	writeTimeout       = 5 * time.Second
	forwarderQueueSize = 512
)

type Subscriber interface {
	Subscribe(kind domain.Kind, handler events.Handler, opts ...events.SubscribeOption) *events.Subscription
}

type Config struct {
	Addr          string
	Bus           Subscriber
	Origin        string
	Features      FeatureController
	Documents     domain.DocumentRepository
	Notifications domain.NotificationLog
	Logger        logrus.FieldLogger
}

func (c *Config) addr() string {
	if strings.TrimSpace(c.Addr) == "" {
		return ":8080"
	}
	return c.Addr
}

// Server streams bus events to websocket clients as envelopes and serves the
// feature and storage API.
type Server struct {
	addr     string
	origin   string
	bus      Subscriber
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	httpSrv *http.Server
	api     *apiHandlers
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex

	kindsMu sync.RWMutex
	kinds   map[domain.Kind]struct{}
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// wants reports whether the client asked for kind. No filter means all kinds.
func (c *wsClient) wants(kind domain.Kind) bool {
	c.kindsMu.RLock()
	defer c.kindsMu.RUnlock()
	if len(c.kinds) == 0 {
		return true
	}
	_, ok := c.kinds[kind]
	return ok
}

func (c *wsClient) setKinds(kinds []domain.Kind) {
	set := make(map[domain.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		if k != "" && k != domain.KindAll {
			set[k] = struct{}{}
		}
	}
	c.kindsMu.Lock()
	c.kinds = set
	c.kindsMu.Unlock()
}

func NewServer(cfg Config) *Server {
	log := logging.Component(cfg.Logger, "ws")
	return &Server{
		addr:   cfg.addr(),
		origin: cfg.Origin,
		bus:    cfg.Bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:     log,
		clients: make(map[*wsClient]struct{}),
		api:     newAPIHandlers(cfg, log),
	}
}

// Handler returns the HTTP routes. Websocket clients are closed when ctx ends.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.api.register(mux)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			setCORSHeaders(w)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

// Attach forwards every bus event to connected clients until the returned
// function is called. Slow clients shed the oldest events.
func (s *Server) Attach(bus Subscriber) func() {
	sub := bus.Subscribe(domain.KindAll, func(ctx context.Context, event domain.Event) {
		s.Broadcast(ctx, event)
	}, events.WithName("ws-forwarder"), events.WithBuffer(forwarderQueueSize), events.WithOverflow(events.DropOldest))
	return sub.Unsubscribe
}

// Start serves HTTP and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.bus != nil {
		detach := s.Attach(s.bus)
		defer detach()
	}

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Warn("ws: shutdown error")
		}
		s.closeClients()
	}()

	s.log.WithField("addr", s.addr).Info("ws: listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Broadcast sends event as an envelope to every client that wants its kind.
// Clients that cannot be written to are dropped.
func (s *Server) Broadcast(ctx context.Context, event domain.Event) {
	env, err := events.NewEnvelope(event, s.origin)
	if err != nil {
		s.log.WithError(err).WithField("kind", event.Kind()).Warn("ws: cannot encode event")
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		s.log.WithError(err).Warn("ws: cannot marshal envelope")
		return
	}

	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if ctx.Err() != nil {
			return
		}
		if !c.wants(event.Kind()) {
			continue
		}
		if err := c.writeJSON(json.RawMessage(payload)); err != nil {
			s.log.WithError(err).Debug("ws: removing client after write error")
			s.removeClient(c)
		}
	}
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws: upgrade error")
		return
	}

	client := &wsClient{conn: conn}
	if kinds := r.URL.Query().Get("kinds"); kinds != "" {
		client.setKinds(parseKinds(strings.Split(kinds, ",")))
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()
	metrics.ConnectedClients.Inc()

	s.log.WithFields(logrus.Fields{
		"remote":  r.RemoteAddr,
		"clients": clientCount,
	}).Info("ws: client connected")

	go s.handleClient(ctx, client)
}

// handleClient reads control messages until the client goes away. A client
// may send {"kinds": [...]} to change which event kinds it receives.
func (s *Server) handleClient(ctx context.Context, client *wsClient) {
	done := make(chan struct{})
	defer func() {
		close(done)
		s.removeClient(client)
	}()

	go func() {
		select {
		case <-ctx.Done():
			client.conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.WithError(err).Debug("ws: read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			s.log.WithError(err).Debug("ws: ignoring malformed control message")
			continue
		}
		client.setKinds(parseKinds(ctrl.Kinds))
	}
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	clientCount := len(s.clients)
	s.mu.Unlock()

	if !ok {
		return
	}
	c.conn.Close()
	metrics.ConnectedClients.Dec()
	s.log.WithField("clients", clientCount).Info("ws: client disconnected")
}

func (s *Server) closeClients() {
	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		s.removeClient(c)
	}
}

type controlMessage struct {
	Kinds []string `json:"kinds"`
}

func parseKinds(raw []string) []domain.Kind {
	out := make([]domain.Kind, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, domain.Kind(k))
		}
	}
	return out
}
