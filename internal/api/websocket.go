package api

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/monitor"
)

// Live feed ops. Clients send subscribe, unsubscribe and ping; the server
// answers with ack, pong or error and pushes event frames.
//
//	{"op":"subscribe","id":"1","channels":["sweep.completed"]}
//	{"op":"event","channel":"sweep.completed","at":"...","data":{...}}
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
	OpPong        = "pong"
	OpAck         = "ack"
	OpEvent       = "event"
	OpError       = "error"
)

const (
	// A sweep report every interval is the main traffic; a short queue is
	// plenty and bounds memory for a stalled dashboard.
	feedQueue = 64

	defaultFeedReadLimit = 4096
	defaultPingInterval  = 30 * time.Second
	defaultPongTimeout   = 10 * time.Second
)

// Frame is one live feed message in either direction.
type Frame struct {
	Op       string   `json:"op"`
	ID       string   `json:"id,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	At       string   `json:"at,omitempty"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Hub fans monitor output out to live feed connections. It implements
// monitor.Broadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu    sync.RWMutex
	feeds map[*feed]struct{}

	dropped atomic.Uint64
}

// feed is one WebSocket connection. Only writeLoop writes to conn.
type feed struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	stop sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

// NewHub creates a hub. Zero keepalive and size settings take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultFeedReadLimit
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{cfg: cfg, logger: logger, feeds: make(map[*feed]struct{})}
}

// Run blocks until ctx ends, then disconnects every feed with a going-away
// close frame.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	feeds := h.feeds
	h.feeds = make(map[*feed]struct{})
	h.mu.Unlock()

	for f := range feeds {
		f.close()
	}
}

// Broadcast sends payload to every feed subscribed to channel. Slow feeds
// lose the frame rather than hold up the monitor.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Frame{Op: OpEvent, Channel: channel, At: stamp(), Data: payload})
	if err != nil {
		h.logger.Error("encoding live feed event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*feed, 0, len(h.feeds))
	for f := range h.feeds {
		if f.wants(channel) {
			targets = append(targets, f)
		}
	}
	h.mu.RUnlock()

	for _, f := range targets {
		f.offer(data)
	}
	if len(targets) > 0 {
		h.logger.Debug("live feed event sent", "channel", channel, "feeds", len(targets))
	}
}

// ClientCount returns the number of connected feeds.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.feeds)
}

// Dropped returns how many frames were discarded for full feed queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) attach(f *feed) {
	h.mu.Lock()
	h.feeds[f] = struct{}{}
	n := len(h.feeds)
	h.mu.Unlock()
	h.logger.Debug("live feed attached", "feeds", n)
}

func (h *Hub) detach(f *feed) {
	h.mu.Lock()
	delete(h.feeds, f)
	n := len(h.feeds)
	h.mu.Unlock()
	f.close()
	h.logger.Debug("live feed detached", "feeds", n)
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// close stops the writer. Safe to call more than once.
func (f *feed) close() {
	f.stop.Do(func() { close(f.done) })
}

// offer queues data without blocking.
func (f *feed) offer(data []byte) {
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.out <- data:
	default:
		f.hub.dropped.Add(1)
	}
}

func (f *feed) reply(frame Frame) {
	frame.At = stamp()
	data, err := json.Marshal(frame)
	if err != nil {
		f.hub.logger.Error("encoding live feed reply", "op", frame.Op, "error", err)
		return
	}
	f.offer(data)
}

func (f *feed) wants(channel string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.channels[channel]
	return ok
}

// update adds or removes channels and returns the resulting set, sorted.
func (f *feed) update(channels []string, subscribe bool) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		if subscribe {
			f.channels[ch] = struct{}{}
		} else {
			delete(f.channels, ch)
		}
	}
	return slices.Sorted(maps.Keys(f.channels))
}

// handleWebSocket upgrades to the live feed. The connection starts on the
// channels in the comma-separated "channels" query parameter, or on
// sweep.completed, and gets the last sweep report straight away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		s.logger.Warn("live feed upgrade refused", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	f := &feed{
		hub:      s.hub,
		conn:     conn,
		out:      make(chan []byte, feedQueue),
		done:     make(chan struct{}),
		channels: initialChannels(r.URL.Query().Get("channels")),
	}
	s.hub.attach(f)
	go f.writeLoop()
	go f.readLoop()

	s.replayLastSweep(f)
}

// checkOrigin applies the CORS allow-list to browser connections. Clients
// that send no Origin are not browsers and are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.isAllowedOrigin(origin)
}

func (s *Server) replayLastSweep(f *feed) {
	if s.sweeps == nil || !f.wants(monitor.ChannelSweep) {
		return
	}
	report, err := s.sweeps.LastReport()
	if err != nil {
		return
	}
	f.reply(Frame{Op: OpEvent, Channel: monitor.ChannelSweep, Data: report})
}

func initialChannels(param string) map[string]struct{} {
	subs := make(map[string]struct{})
	for _, ch := range strings.Split(param, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			subs[ch] = struct{}{}
		}
	}
	if len(subs) == 0 {
		subs[monitor.ChannelSweep] = struct{}{}
	}
	return subs
}

func (f *feed) readLoop() {
	defer f.hub.detach(f)

	cfg := f.hub.cfg
	extend := func() error {
		return f.conn.SetReadDeadline(time.Now().Add(cfg.PingInterval + cfg.PongTimeout))
	}
	f.conn.SetReadLimit(cfg.MaxMessageSize)
	extend() //nolint:errcheck // a dead conn fails the first read
	f.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.hub.logger.Warn("live feed read failed", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts.
		extend() //nolint:errcheck // next read reports it
		f.handle(data)
	}
}

func (f *feed) writeLoop() {
	cfg := f.hub.cfg
	ping := time.NewTicker(cfg.PingInterval)
	defer func() {
		ping.Stop()
		f.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		f.conn.SetWriteDeadline(time.Now().Add(cfg.PongTimeout)) //nolint:errcheck // write reports it
		return f.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data := <-f.out:
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		case <-f.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")) //nolint:errcheck // closing anyway
			return
		}
	}
}

func (f *feed) handle(data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		f.reply(Frame{Op: OpError, Error: "frame is not valid JSON"})
		return
	}

	switch in.Op {
	case OpSubscribe, OpUnsubscribe:
		if len(in.Channels) == 0 {
			f.reply(Frame{Op: OpError, ID: in.ID, Error: in.Op + " needs at least one channel"})
			return
		}
		f.reply(Frame{Op: OpAck, ID: in.ID, Channels: f.update(in.Channels, in.Op == OpSubscribe)})
	case OpPing:
		f.reply(Frame{Op: OpPong, ID: in.ID})
	default:
		f.reply(Frame{Op: OpError, ID: in.ID, Error: fmt.Sprintf("unknown op %q", in.Op)})
	}
}
