// Package fanout implements the Message Fan-out subsystem: every
// send_message(event, data) call schedules a background dispatch to a
// foreign callback, a WebSocket sink, and a line-delimited TCP sink,
// gated on whether each is configured. Grounded on
// original_source/src/core/send_message.rs, composed in the style of this
// project's own internal/logger.FanoutHandler.
package fanout

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType mirrors spec §3's Event.event_type enum.
type EventType string

const (
	EventStart    EventType = "Start"
	EventUpdate   EventType = "Update"
	EventComplete EventType = "Complete"
	EventErr      EventType = "Err"
	EventPaused   EventType = "Paused"
	EventResumed  EventType = "Resumed"
	EventStopped  EventType = "Stopped"
)

// Event is the lifecycle notification published through every sink.
type Event struct {
	EventType EventType `json:"event_type"`
	Name      string    `json:"name"`
	ShowName  string    `json:"show_name"`
	ID        string    `json:"id"`
}

// Callback is the foreign progress-callback contract from spec §6:
// invoked with two JSON strings (event, data), must not block the caller.
type Callback func(eventJSON, dataJSON string)

const sinkQueueSize = 1024

// Sink is any endpoint send_message dispatches a wire message to, per
// spec §4.6's "opaque MessageSink" out-of-scope boundary — internals
// (framing, reconnection) are this type's business, not the fan-out's.
type Sink interface {
	// Send enqueues a message; it must never block the caller. Returns
	// false if the message was dropped (queue full).
	Send(event Event, data map[string]any) bool
	Close()
}

// Fanout dispatches lifecycle events to a configured callback and zero or
// more remote sinks.
type Fanout struct {
	logger   *slog.Logger
	callback Callback
	sinks    []Sink
}

// New builds a Fanout. callback may be nil. sinks may be empty.
func New(logger *slog.Logger, callback Callback, sinks ...Sink) *Fanout {
	return &Fanout{logger: logger, callback: callback, sinks: sinks}
}

// Send schedules a fire-and-forget dispatch of event+data to every
// configured sink. The caller never blocks on I/O.
func (f *Fanout) Send(event Event, data map[string]any) {
	go f.dispatch(event, data)
}

func (f *Fanout) dispatch(event Event, data map[string]any) {
	called := false

	if f.callback != nil {
		eventJSON, err1 := json.Marshal(event)
		dataJSON, err2 := json.Marshal(data)
		if err1 == nil && err2 == nil {
			f.callback(string(eventJSON), string(dataJSON))
			called = true
		}
	}

	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		if sink.Send(event, data) {
			called = true
		} else if event.EventType != EventUpdate {
			f.logger.Warn("fanout: sink dropped non-update event", "event", event.Name, "id", event.ID)
		}
	}

	if !called && event.EventType != EventUpdate {
		f.logger.Warn("fanout: no sink received event", "event", event.Name, "data", data)
	}
}

// Close tears down every sink.
func (f *Fanout) Close() {
	for _, s := range f.sinks {
		if s != nil {
			s.Close()
		}
	}
}

// wireMessage is the JSON object both sinks emit, per spec §6:
// {"Type": "<EventType>", "Msg": "<json-encoded data map>"}.
type wireMessage struct {
	Type string `json:"Type"`
	Msg  string `json:"Msg"`
}

func encodeWire(event Event, data map[string]any) (string, bool) {
	msgJSON, err := json.Marshal(data)
	if err != nil {
		return "", false
	}
	out, err := json.Marshal(wireMessage{Type: string(event.EventType), Msg: string(msgJSON)})
	if err != nil {
		return "", false
	}
	return string(out), true
}

// NormalizeWebSocketURL substitutes http->ws, https->wss and appends
// /websocket, per spec §4.6. Idempotent: re-applying it to an already
// normalized URL is a no-op.
func NormalizeWebSocketURL(raw string) string {
	u := raw
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasSuffix(u, "/websocket") {
		u = strings.TrimSuffix(u, "/") + "/websocket"
	}
	return u
}

// WebSocketSink is a thin, best-effort text-frame sink. Its wire framing
// is intentionally unspecified beyond "one JSON object per message" (spec
// §4.6) — this implementation exists to give the fan-out a real sink to
// drive, not to define a protocol.
type WebSocketSink struct {
	logger *slog.Logger
	queue  chan wireSend
	done   chan struct{}
	once   sync.Once
}

type wireSend struct {
	event Event
	data  map[string]any
}

// NewWebSocketSink dials url (already normalized) and starts a background
// writer goroutine. Connection failures are logged and the sink becomes a
// permanent no-op sender (Send always reports dropped).
func NewWebSocketSink(logger *slog.Logger, url string) *WebSocketSink {
	s := &WebSocketSink{
		logger: logger,
		queue:  make(chan wireSend, sinkQueueSize),
		done:   make(chan struct{}),
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		logger.Warn("fanout: websocket sink dial failed", "url", url, "error", err)
		close(s.done)
		return s
	}

	go s.run(conn)
	return s
}

func (s *WebSocketSink) run(conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-s.done:
			return
		case m := <-s.queue:
			wire, ok := encodeWire(m.event, m.data)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(wire)); err != nil {
				s.logger.Warn("fanout: websocket write failed", "error", err)
				return
			}
		}
	}
}

func (s *WebSocketSink) Send(event Event, data map[string]any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- wireSend{event, data}:
		return true
	default:
		return false
	}
}

func (s *WebSocketSink) Close() {
	s.once.Do(func() { close(s.done) })
}

// TCPSink sends newline-delimited JSON messages over a plain TCP
// connection, per spec §6.
type TCPSink struct {
	logger *slog.Logger
	queue  chan wireSend
	done   chan struct{}
	once   sync.Once
}

// NewTCPSink dials addr and starts a background writer goroutine.
func NewTCPSink(logger *slog.Logger, addr string) *TCPSink {
	s := &TCPSink{
		logger: logger,
		queue:  make(chan wireSend, sinkQueueSize),
		done:   make(chan struct{}),
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		logger.Warn("fanout: tcp sink dial failed", "addr", addr, "error", err)
		close(s.done)
		return s
	}

	go s.run(conn)
	return s
}

func (s *TCPSink) run(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	for {
		select {
		case <-s.done:
			return
		case m := <-s.queue:
			wire, ok := encodeWire(m.event, m.data)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := w.WriteString(wire + "\n"); err != nil {
				s.logger.Warn("fanout: tcp write failed", "error", err)
				return
			}
			if err := w.Flush(); err != nil {
				s.logger.Warn("fanout: tcp flush failed", "error", err)
				return
			}
		}
	}
}

func (s *TCPSink) Send(event Event, data map[string]any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- wireSend{event, data}:
		return true
	default:
		return false
	}
}

func (s *TCPSink) Close() {
	s.once.Do(func() { close(s.done) })
}
