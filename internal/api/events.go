package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"resource-orm/internal/events"
	"resource-orm/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames; anything larger is dropped.
	maxClientMessageSize = 4096
)

// EventStreamConfig configures the websocket lifecycle stream.
type EventStreamConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// CheckOrigin defaults to gorilla's same-origin check when nil.
	CheckOrigin func(r *http.Request) bool
}

// EventStream relays lifecycle events from a LocalBus to websocket clients.
// Clients may narrow the stream with ?resource=<name>.
type EventStream struct {
	bus      *events.LocalBus
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewEventStream returns a handler that streams events published on bus.
func NewEventStream(bus *events.LocalBus, cfg EventStreamConfig, logger *logging.Logger) *EventStream {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}
	return &EventStream{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: logger,
	}
}

func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logging.FromContextOr(r.Context(), s.logger).Warn("event stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	resource := r.URL.Query().Get("resource")
	feed, cancel := s.bus.Subscribe(resource)
	logger := logging.FromContextOr(r.Context(), s.logger).WithFields(
		slog.String("component", "event_stream"),
		slog.String("resource", resource),
	)
	logger.Debug("event stream client connected")

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, feed, done, logger)

	cancel()
	_ = conn.Close()
	logger.Debug("event stream client disconnected")
}

// readPump consumes control frames so pongs and close messages are handled.
// It closes done when the peer goes away.
func (s *EventStream) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxClientMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventStream) writePump(conn *websocket.Conn, feed <-chan events.Event, done <-chan struct{}, logger *logging.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-feed:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
