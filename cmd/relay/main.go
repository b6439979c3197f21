package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// A dumb fan-out relay: replicas connect one websocket per topic and every
// binary message is relayed to every connection on that topic, including
// the sender's own. The relay never inspects payloads; loopback and
// duplicate suppression are the replicas' problem.
func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "localhost:8080", "the address to listen on")
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	h := &hub{topics: map[string]map[*conn]struct{}{}}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/topics/{topic}/ws").HandlerFunc(h.serveTopic)

	httpServer := &http.Server{Addr: *addrVar, Handler: r}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	_ = httpServer.Close()
	h.closeAll()

	wg.Wait()
	return nil
}

type conn struct {
	inner   *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.inner.WriteMessage(websocket.BinaryMessage, data)
}

type hub struct {
	mu     sync.Mutex
	topics map[string]map[*conn]struct{}
}

func (h *hub) serveTopic(writer http.ResponseWriter, request *http.Request) {
	topic := mux.Vars(request)["topic"]

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	wsConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	c := &conn{inner: wsConn}
	h.add(topic, c)
	defer h.remove(topic, c)
	defer wsConn.Close()
	slog.Info("subscriber joined", "topic", topic, "remote", wsConn.RemoteAddr())

	for {
		mt, raw, err := wsConn.ReadMessage()
		if err != nil {
			slog.Info("subscriber left", "topic", topic, "remote", wsConn.RemoteAddr())
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		h.broadcast(topic, raw)
	}
}

func (h *hub) add(topic string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = map[*conn]struct{}{}
	}
	h.topics[topic][c] = struct{}{}
}

func (h *hub) remove(topic string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[topic], c)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}

func (h *hub) broadcast(topic string, data []byte) {
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		if err := c.write(data); err != nil {
			slog.Error("failed to relay", "topic", topic, "err", err)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.topics {
		for c := range conns {
			_ = c.inner.Close()
		}
	}
}
