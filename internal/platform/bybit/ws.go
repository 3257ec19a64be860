package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jwdevries/snipebot/internal/domain"
	"github.com/jwdevries/snipebot/internal/metrics"
)

const (
	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	// authExpiryWindow is how far in the future the login signature expires.
	authExpiryWindow = 10 * time.Second

	// readyPollInterval is how often WaitReady re-checks the stream state.
	readyPollInterval = 100 * time.Millisecond

	// Calibration burst shape: probe count, spacing between probes, and the
	// settle delay before the offset is recomputed from the collected pongs.
	calibrationProbes  = 10
	calibrationSpacing = 50 * time.Millisecond
	calibrationSettle  = time.Second

	// pingTrackLimit caps the in-flight ping table; entries older than twice
	// the pong timeout are dropped once it is exceeded.
	pingTrackLimit = 64
)

// StreamConfig configures one websocket stream.
type StreamConfig struct {
	Name              string // "public" or "private", used in logs and metrics
	URL               string
	ApiKey            string // private stream only
	ApiSecret         string // private stream only
	PingInterval      time.Duration
	PongTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c StreamConfig) private() bool {
	return c.ApiKey != ""
}

// Stream is one managed websocket connection. The supervising Run loop owns
// the dial/service/redial cycle, a read loop feeds frames to the router, and
// a ping loop keeps the connection warm. The private variant authenticates
// before any traffic is trusted and feeds ping round trips into the clock
// sync. Subscriptions are replayed on every reconnect.
type Stream struct {
	cfg    StreamConfig
	router *Router
	clock  *ClockSync // nil on the public stream
	logger *slog.Logger

	mu            sync.RWMutex
	conn          *websocket.Conn
	state         domain.StreamState
	closed        bool
	subscriptions []string

	// writeMu serializes frame writes; the websocket allows one writer.
	writeMu sync.Mutex

	pingMu        sync.Mutex
	pingCounter   int64
	pingSendTimes map[string]int64 // req_id -> unix-milli send time

	done chan struct{}
}

// NewStream creates a stream. clock may be nil; pass one on the private
// stream to harvest clock offset samples from ping round trips.
func NewStream(cfg StreamConfig, router *Router, clock *ClockSync, logger *slog.Logger) *Stream {
	return &Stream{
		cfg:           cfg,
		router:        router,
		clock:         clock,
		logger:        logger.With(slog.String("component", "ws"), slog.String("stream", cfg.Name)),
		state:         domain.StreamDisconnected,
		pingSendTimes: make(map[string]int64),
		done:          make(chan struct{}),
	}
}

// Run owns the connection lifecycle: dial, service until the connection
// drops, then redial with exponential backoff. The backoff resets once a
// connection reaches the ready state. Run returns when ctx is cancelled or
// Close is called.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.cfg.ReconnectDelay

	for attempt := 0; ; attempt++ {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			metrics.IncWSReconnect(s.cfg.Name)
			s.logger.InfoContext(ctx, "reconnecting", slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > s.cfg.MaxReconnectDelay {
				delay = s.cfg.MaxReconnectDelay
			}
		}

		wasReady, err := s.runConn(ctx)
		if s.isClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.WarnContext(ctx, "stream disconnected", slog.String("error", err.Error()))
		}
		if wasReady {
			delay = s.cfg.ReconnectDelay
		}
	}
}

// runConn dials and services a single connection until it is unusable.
// wasReady reports whether this connection ever reached the ready state,
// which is what resets the reconnect backoff.
func (s *Stream) runConn(ctx context.Context) (wasReady bool, err error) {
	s.setState(domain.StreamConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.setState(domain.StreamDisconnected)
		return false, fmt.Errorf("bybit/ws: connect %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return false, nil
	}
	s.conn = conn
	s.state = domain.StreamConnected
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		if !s.closed {
			s.state = domain.StreamDisconnected
		}
		s.mu.Unlock()
	}()

	s.logger.InfoContext(ctx, "connected", slog.String("url", s.cfg.URL))
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

	if s.cfg.private() {
		s.setState(domain.StreamAuthenticating)
		if err := s.sendAuth(conn); err != nil {
			return false, err
		}
		// Ready is reached when the auth ack arrives in the read loop.
	} else {
		if err := s.flushSubscriptions(conn); err != nil {
			return false, err
		}
		s.setState(domain.StreamReady)
	}

	connDone := make(chan struct{})
	defer close(connDone)
	go s.pingLoop(ctx, conn, connDone)

	// The read deadline is re-armed after every inbound frame, so a peer
	// that stops sending anything at all surfaces as a read error here.
	for {
		_, raw, rerr := conn.ReadMessage()
		if rerr != nil {
			return s.State() == domain.StreamReady, fmt.Errorf("bybit/ws: read %s: %w", s.cfg.Name, rerr)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if herr := s.handleFrame(ctx, conn, raw); herr != nil {
			return s.State() == domain.StreamReady, herr
		}
	}
}

// handleFrame dispatches one inbound frame: administrative frames drive the
// state machine and the clock, topic frames go to the router.
func (s *Stream) handleFrame(ctx context.Context, conn *websocket.Conn, raw []byte) error {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Debug("dropping unparseable frame", slog.String("error", err.Error()))
		return nil
	}

	// The private stream answers pings with op "pong"; the public stream
	// echoes the ping op and sets ret_msg to "pong".
	if env.Op == "pong" || env.RetMsg == "pong" {
		s.handlePong(env)
		return nil
	}

	switch env.Op {
	case "auth":
		return s.handleAuthAck(ctx, conn, env)
	case "subscribe":
		if !env.Success {
			s.logger.WarnContext(ctx, "subscribe rejected", slog.String("ret_msg", env.RetMsg))
		}
		return nil
	case "":
		if env.Topic != "" {
			s.router.Route(raw)
		}
		return nil
	default:
		s.logger.Debug("ignoring frame", slog.String("op", env.Op))
		return nil
	}
}

// sendAuth sends the signed login request; the ack is handled in the read
// path.
func (s *Stream) sendAuth(conn *websocket.Conn) error {
	expires := time.Now().Add(authExpiryWindow).UnixMilli()
	sig := WSAuthSignatureAt(s.cfg.ApiSecret, expires)

	cmd := wsCommand{Op: "auth", Args: []any{s.cfg.ApiKey, expires, sig}}
	if err := s.writeJSON(conn, cmd); err != nil {
		return fmt.Errorf("bybit/ws: send auth: %w", err)
	}
	return nil
}

func (s *Stream) handleAuthAck(ctx context.Context, conn *websocket.Conn, env pushEnvelope) error {
	ok := env.Success || (env.RetCode != nil && *env.RetCode == 0)
	if !ok {
		s.logger.ErrorContext(ctx, "authentication rejected", slog.String("ret_msg", env.RetMsg))
		return fmt.Errorf("bybit/ws: auth %s: %w", s.cfg.Name, domain.ErrAuthFailed)
	}

	s.logger.InfoContext(ctx, "authenticated")
	if err := s.flushSubscriptions(conn); err != nil {
		return err
	}
	s.setState(domain.StreamReady)

	if s.clock != nil {
		go s.calibrationBurst(ctx, conn)
	}
	return nil
}

func (s *Stream) handlePong(env pushEnvelope) {
	if s.clock == nil {
		return
	}
	localRecv := time.Now().UnixMilli()

	s.pingMu.Lock()
	sendTime, ok := s.pingSendTimes[env.ReqID]
	delete(s.pingSendTimes, env.ReqID)
	s.pingMu.Unlock()

	if !ok || len(env.Args) == 0 {
		return
	}
	serverTs, err := strconv.ParseInt(env.Args[0], 10, 64)
	if err != nil {
		return
	}
	s.clock.Sample(serverTs, sendTime, localRecv)
}

// Subscribe registers topics for this stream. When the stream is ready the
// new topics are subscribed immediately; otherwise they are flushed when the
// connection next reaches ready. The full set is replayed on reconnect.
func (s *Stream) Subscribe(topics ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrClosed
	}
	var added []string
	for _, topic := range topics {
		if !containsString(s.subscriptions, topic) {
			s.subscriptions = append(s.subscriptions, topic)
			added = append(added, topic)
		}
	}
	conn := s.conn
	ready := s.state == domain.StreamReady
	s.mu.Unlock()

	if len(added) == 0 || !ready || conn == nil {
		return nil
	}
	if err := s.writeJSON(conn, wsCommand{Op: "subscribe", Args: anySlice(added)}); err != nil {
		return fmt.Errorf("bybit/ws: subscribe %s: %w", s.cfg.Name, err)
	}
	return nil
}

// flushSubscriptions replays the registered topic set on a fresh connection.
func (s *Stream) flushSubscriptions(conn *websocket.Conn) error {
	s.mu.RLock()
	topics := make([]string, len(s.subscriptions))
	copy(topics, s.subscriptions)
	s.mu.RUnlock()

	if len(topics) == 0 {
		return nil
	}
	s.logger.Info("subscribing", slog.Any("topics", topics))
	if err := s.writeJSON(conn, wsCommand{Op: "subscribe", Args: anySlice(topics)}); err != nil {
		return fmt.Errorf("bybit/ws: subscribe %s: %w", s.cfg.Name, err)
	}
	return nil
}

// pingLoop sends application-level pings until the connection or stream goes
// away. Bybit heartbeats are JSON frames, not websocket control pings; the
// private ping carries a req_id so the matching pong can be timed.
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendPing(conn); err != nil {
				return
			}
		}
	}
}

func (s *Stream) sendPing(conn *websocket.Conn) error {
	if !s.cfg.private() {
		return s.writeJSON(conn, wsCommand{Op: "ping"})
	}
	return s.writeJSON(conn, wsCommand{ReqID: s.trackPing("ping"), Op: "ping"})
}

// calibrationBurst fires rapid ping probes after authentication, then settles
// the first offset estimate with the warm-up samples trimmed.
func (s *Stream) calibrationBurst(ctx context.Context, conn *websocket.Conn) {
	for i := 0; i < calibrationProbes; i++ {
		if err := s.writeJSON(conn, wsCommand{ReqID: s.trackPing("sync"), Op: "ping"}); err != nil {
			return
		}
		if !s.sleep(ctx, calibrationSpacing) {
			return
		}
	}
	if !s.sleep(ctx, calibrationSettle) {
		return
	}

	s.clock.Calibrate()
	s.logger.InfoContext(ctx, "clock calibrated", slog.Int64("offset_ms", s.clock.Offset()))
}

// trackPing allocates a request id and records its send time for pong
// matching.
func (s *Stream) trackPing(prefix string) string {
	now := time.Now().UnixMilli()

	s.pingMu.Lock()
	defer s.pingMu.Unlock()

	s.pingCounter++
	reqID := prefix + "_" + strconv.FormatInt(s.pingCounter, 10)
	s.pingSendTimes[reqID] = now

	// Entries whose pong never arrived accumulate across reconnects.
	if len(s.pingSendTimes) > pingTrackLimit {
		cutoff := now - 2*s.cfg.PongTimeout.Milliseconds()
		for id, sent := range s.pingSendTimes {
			if sent < cutoff {
				delete(s.pingSendTimes, id)
			}
		}
	}
	return reqID
}

func (s *Stream) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// sleep waits for d, returning false when the stream or ctx ends first.
func (s *Stream) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) setState(state domain.StreamState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Stream) State() domain.StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsReady reports whether the stream is connected, authenticated where
// applicable, and subscribed.
func (s *Stream) IsReady() bool {
	return s.State() == domain.StreamReady
}

func (s *Stream) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// WaitReady blocks until the stream reaches the ready state, the timeout
// elapses, or ctx is cancelled.
func (s *Stream) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		if s.IsReady() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("bybit/ws: %s: %w", s.cfg.Name, domain.ErrNotReady)
		case <-tick.C:
		}
	}
}

// Close shuts the stream down and suppresses reconnection. Safe to call more
// than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = domain.StreamClosing
	conn := s.conn
	close(s.done)
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return conn.Close()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func anySlice(list []string) []any {
	out := make([]any, len(list))
	for i, v := range list {
		out[i] = v
	}
	return out
}
