package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/groutine"
)

// HubOptions configures a Hub.
type HubOptions struct {
	Logger *logrus.Logger
	// ClientBuffer is the per-client backlog; a lagging client loses its oldest events.
	ClientBuffer uint32 `default:"256"`
	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration `default:"5s"`
	// ShutdownTimeout bounds the HTTP server shutdown in Serve.
	ShutdownTimeout time.Duration `default:"5s"`
}

// Hub fans events out to every connected WebSocket client.
//
//	stream := monitor.NewStream(1024, logger)
//	hub := monitor.NewHub(stream.Events(), monitor.HubOptions{Logger: logger})
//	go hub.Run(ctx)
//	err := hub.Serve(ctx, ":8080")
type Hub struct {
	source   <-chan Event
	opts     HubOptions
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn   *websocket.Conn
	buffer mpmc.RichOverlappedRingBuffer[Event]
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewHub(source <-chan Event, opts HubOptions) *Hub {
	defaults.SetDefaults(&opts)
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		source: source,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run broadcasts events until ctx is cancelled or the source is closed, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.source:
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		overwrites, err := c.buffer.EnqueueM(ev)
		if err != nil {
			h.logger.WithError(err).WithField("client", c.conn.RemoteAddr().String()).Error("Failed to queue event")
			continue
		}
		if overwrites > 0 {
			h.logger.WithField("client", c.conn.RemoteAddr().String()).Warn("Client lagging, oldest events dropped")
		}
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor stopped")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		buffer: mpmc.NewOverlappedRingBuffer[Event](h.opts.ClientBuffer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	log := h.logger.WithField("client", conn.RemoteAddr().String())
	log.Info("Monitor client connected")

	groutine.Go(r.Context(), "monitor-writer", func(ctx context.Context) {
		h.write(c)
	})

	// Inbound messages are ignored; reading detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	log.Info("Monitor client disconnected")
}

func (h *Hub) write(c *client) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for !c.buffer.IsEmpty() {
			ev, err := c.buffer.Dequeue()
			if err != nil {
				break
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.logger.WithError(err).Debug("WebSocket write failed")
				c.close()
				return
			}
		}
	}
}

// Handler serves the WebSocket endpoint at /ws and a health probe at /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: h.Handler()}

	errCh := make(chan error, 1)
	groutine.Go(ctx, "monitor-http", func(context.Context) {
		h.logger.WithField("addr", addr).Info("Monitor listening")
		errCh <- server.ListenAndServe()
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
