// Package realtime is the websocket gateway. Each connection is authenticated
// once at upgrade time; channel joins and posts are gated by the workspace
// authorization model and relayed best-effort to joined connections.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"teamsync/cmd/identity/ids"
	"teamsync/cmd/internal/auth/guard"
	"teamsync/cmd/internal/ratelimit"
	"teamsync/cmd/internal/workspace"
	v1 "teamsync/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// Authenticator resolves a connection credential. *guard.Guard satisfies it.
type Authenticator interface {
	AuthenticateConnection(ctx context.Context, credential string) guard.Principal
}

// Channels gates joins and posts. *workspace.Service satisfies it.
type Channels interface {
	AuthorizeChannel(ctx context.Context, userID, channelID string, action workspace.Action) (workspace.Channel, error)
	RecordChannelActivity(ctx context.Context, channelID string, at time.Time) error
}

// Metrics receives connection lifecycle events. *telemetry.Metrics satisfies it.
type Metrics interface {
	WSConnected()
	WSDisconnected()
	WSRejected(reason string)
}

type noopMetrics struct{}

func (noopMetrics) WSConnected()      {}
func (noopMetrics) WSDisconnected()   {}
func (noopMetrics) WSRejected(string) {}

// WSGateway is the websocket entrypoint for TeamSync realtime.
//
// It enforces origin policy, subprotocol selection, rate limits and
// heartbeats, and routes validated envelopes to the Hub.
type WSGateway struct {
	log      *slog.Logger
	cfg      Config
	hub      *Hub
	auth     Authenticator
	channels Channels
	metrics  Metrics
	now      func() time.Time

	// websocket.Accept authorizes same-host origins by default; cross-origin
	// hosts from the allowlist are passed as OriginPatterns so both layers agree.
	originPatterns []string
}

// Option configures a WSGateway.
type Option func(*WSGateway)

// WithLogger sets the gateway logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *WSGateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithHub shares a Hub between gateways.
func WithHub(h *Hub) Option {
	return func(g *WSGateway) {
		if h != nil {
			g.hub = h
		}
	}
}

// WithMetrics records connection lifecycle events.
func WithMetrics(m Metrics) Option {
	return func(g *WSGateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *WSGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewWSGateway constructs a gateway.
func NewWSGateway(cfg Config, auth Authenticator, channels Channels, opts ...Option) (*WSGateway, error) {
	if auth == nil || channels == nil {
		return nil, errors.New("realtime: nil dependency")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &WSGateway{
		log:      slog.Default(),
		cfg:      cfg,
		auth:     auth,
		channels: channels,
		metrics:  noopMetrics{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.hub == nil {
		g.hub = NewHub(g.log)
	}
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins)
	return g, nil
}

// Hub returns the gateway's room registry.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// connState is one connection's joined-channel set, shared by the read loop
// and the shutdown path. Once drained it refuses further joins.
type connState struct {
	mu     sync.Mutex
	joined map[string]struct{}
	closed bool
}

func (s *connState) has(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[channelID]
	return ok
}

func (s *connState) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joined)
}

// join records channelID and runs enter while holding the lock, so a
// concurrent drain either sees the channel or the join never happens.
func (s *connState) join(channelID string, enter func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.joined[channelID] = struct{}{}
	enter()
	return true
}

func (s *connState) remove(channelID string) {
	s.mu.Lock()
	delete(s.joined, channelID)
	s.mu.Unlock()
}

func (s *connState) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	s.joined = map[string]struct{}{}
	s.closed = true
	return out
}

// HandleWS upgrades an HTTP request to a websocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.WSRejected("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// The credential is resolved once; a bad or missing one yields an
	// anonymous connection rather than a failed upgrade.
	principal := g.auth.AuthenticateConnection(r.Context(), connectionCredential(r))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err)
		g.metrics.WSRejected("accept")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.metrics.WSRejected("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connectedAt := g.now()
	sessionID, err := ids.NewULID(connectedAt)
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(sessionID, principal.UserID(), g.cfg.SendQueue)
	state := &connState{joined: make(map[string]struct{})}

	g.metrics.WSConnected()
	g.log.Info("ws.connect", "session_id", sessionID, "identity_id", client.IdentityID, "anonymous", client.Anonymous())
	defer func() {
		g.metrics.WSDisconnected()
		g.log.Info("ws.disconnect", "session_id", sessionID, "identity_id", client.IdentityID, "duration", g.now().Sub(connectedAt))
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send; rooms are left
	// before the client is closed so broadcasters never see a dead member.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			for _, id := range state.drain() {
				g.hub.Leave(id, sessionID)
			}
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := ratelimit.NewWindow(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		now := g.now()
		if !rl.Allow(now) {
			g.log.Info("ws.rate_limited", "session_id", sessionID)
			g.trySendError(ctx, client, "rate_limited", "too many events")
			// Give the writer a moment to flush the error before closing.
			g.flush(client)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.trySendError(ctx, client, "bad_json", "invalid JSON")
			continue readLoop
		}
		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			g.onHello(ctx, client)

		case v1.TypeChannelJoin:
			g.onJoin(ctx, client, state, env)

		case v1.TypeChannelLeave:
			g.onLeave(ctx, client, state, env)

		case v1.TypeMessageSend:
			g.onMessageSend(ctx, client, state, env, now)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client) {
	p, _ := json.Marshal(v1.HelloAckPayload{
		SessionID:  client.SessionID,
		IdentityID: client.IdentityID,
		Anonymous:  client.Anonymous(),
	})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.TypeHelloAck, p)) {
		g.log.Info("ws.backpressure", "session_id", client.SessionID, "type", v1.TypeHelloAck)
	}
}

func (g *WSGateway) onJoin(ctx context.Context, client *Client, state *connState, env v1.Envelope) {
	if client.Anonymous() {
		g.trySendError(ctx, client, "unauthenticated", "authentication required")
		return
	}

	var p v1.ChannelJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, client, "bad_payload", "invalid payload")
		return
	}
	channelID := strings.TrimSpace(p.ChannelID)
	if channelID == "" {
		g.trySendError(ctx, client, "bad_payload", "missing channel_id")
		return
	}
	if !state.has(channelID) && state.count() >= maxJoinedChannels {
		g.trySendError(ctx, client, "too_many_channels", fmt.Sprintf("at most %d joined channels", maxJoinedChannels))
		return
	}

	ch, err := g.channels.AuthorizeChannel(ctx, client.IdentityID, channelID, workspace.ActionRead)
	if err != nil {
		g.sendAuthzError(ctx, client, "ws.join.fail", channelID, err)
		return
	}

	if !state.join(ch.ID, func() { g.hub.Join(ch.ID, client) }) {
		return
	}

	p2, _ := json.Marshal(v1.ChannelJoinedPayload{ChannelID: ch.ID, WorkspaceID: ch.WorkspaceID, Name: ch.Name})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.TypeChannelJoined, p2)) {
		g.log.Info("ws.backpressure", "session_id", client.SessionID, "type", v1.TypeChannelJoined)
	}
	g.log.Info("ws.join.ok", "session_id", client.SessionID, "identity_id", client.IdentityID, "channel_id", ch.ID)
}

func (g *WSGateway) onLeave(ctx context.Context, client *Client, state *connState, env v1.Envelope) {
	var p v1.ChannelJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, client, "bad_payload", "invalid payload")
		return
	}
	channelID := strings.TrimSpace(p.ChannelID)
	if !state.has(channelID) {
		return
	}
	state.remove(channelID)
	g.hub.Leave(channelID, client.SessionID)
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, state *connState, env v1.Envelope, now time.Time) {
	if client.Anonymous() {
		g.trySendError(ctx, client, "unauthenticated", "authentication required")
		return
	}

	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, client, "bad_payload", "invalid payload")
		return
	}
	channelID := strings.TrimSpace(p.ChannelID)
	if !state.has(channelID) {
		g.trySendError(ctx, client, "not_joined", "join the channel first")
		return
	}
	clientMsgID := strings.TrimSpace(p.ClientMsgID)
	if clientMsgID == "" {
		g.trySendError(ctx, client, "bad_payload", "missing client_msg_id")
		return
	}
	text := strings.TrimSpace(p.Text)
	if n := utf8.RuneCountInString(text); n == 0 || n > maxMessageChars {
		g.trySendError(ctx, client, "invalid_message", fmt.Sprintf("message must be between 1 and %d characters", maxMessageChars))
		return
	}

	// Membership may have changed since the join.
	if _, err := g.channels.AuthorizeChannel(ctx, client.IdentityID, channelID, workspace.ActionPost); err != nil {
		if workspace.IsForbidden(err) || workspace.IsNotFound(err) {
			state.remove(channelID)
			g.hub.Leave(channelID, client.SessionID)
		}
		g.sendAuthzError(ctx, client, "ws.send.fail", channelID, err)
		return
	}

	serverMsgID, err := ids.NewULID(now)
	if err != nil {
		g.log.Error("ws.send.id.fail", "err", err)
		g.trySendError(ctx, client, "server_error", "something went wrong")
		return
	}
	if err := g.channels.RecordChannelActivity(ctx, channelID, now); err != nil {
		g.log.Warn("ws.send.activity.fail", "channel_id", channelID, "err", err)
	}

	ack, _ := json.Marshal(v1.MessageAckPayload{ChannelID: channelID, ClientMsgID: clientMsgID, ServerMsgID: serverMsgID})
	if !g.enqueue(ctx, client, g.newEnvelope(v1.TypeMessageAck, ack)) {
		g.log.Info("ws.backpressure", "session_id", client.SessionID, "type", v1.TypeMessageAck)
	}

	msg, _ := json.Marshal(v1.MessageNewPayload{
		ChannelID:   channelID,
		ClientMsgID: clientMsgID,
		ServerMsgID: serverMsgID,
		SenderID:    client.IdentityID,
		Text:        text,
		ServerTS:    now,
	})
	delivered := 0
	if room := g.hub.Room(channelID); room != nil {
		delivered = room.Broadcast(g.newEnvelope(v1.TypeMessageNew, msg), func(m *Client) bool {
			return m.SessionID == client.SessionID || g.canReceive(ctx, m, channelID)
		})
	}
	g.log.Debug("ws.send.ok", "session_id", client.SessionID, "channel_id", channelID, "delivered", delivered)
}

// canReceive re-checks read access for a joined recipient. A recipient that
// lost access is evicted from the room; a lookup failure only skips delivery.
func (g *WSGateway) canReceive(ctx context.Context, m *Client, channelID string) bool {
	_, err := g.channels.AuthorizeChannel(ctx, m.IdentityID, channelID, workspace.ActionRead)
	if err == nil {
		return true
	}
	if workspace.IsForbidden(err) || workspace.IsNotWorkspaceMember(err) || workspace.IsNotFound(err) {
		g.hub.Leave(channelID, m.SessionID)
		g.log.Info("ws.deliver.evict", "session_id", m.SessionID, "identity_id", m.IdentityID, "channel_id", channelID)
		g.trySendError(ctx, m, "channel_revoked", fmt.Sprintf("access to channel %s was revoked", channelID))
		return false
	}
	g.log.Warn("ws.deliver.fail", "session_id", m.SessionID, "channel_id", channelID, "err", err)
	return false
}

func (g *WSGateway) sendAuthzError(ctx context.Context, client *Client, event, channelID string, err error) {
	switch {
	case workspace.IsForbidden(err), workspace.IsNotWorkspaceMember(err):
		g.log.Info(event, "session_id", client.SessionID, "identity_id", client.IdentityID, "channel_id", channelID, "reason", "forbidden")
		g.trySendError(ctx, client, "forbidden", "channel access denied")
	case workspace.IsNotFound(err):
		g.trySendError(ctx, client, "not_found", "channel not found")
	default:
		g.log.Error(event, "session_id", client.SessionID, "channel_id", channelID, "err", err)
		g.trySendError(ctx, client, "server_error", "something went wrong")
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, g.newEnvelope(v1.TypeError, p))
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	if ctx.Err() != nil {
		return false
	}
	return client.TrySend(env)
}

// flush waits briefly for the send queue to drain.
func (g *WSGateway) flush(client *Client) {
	deadline := time.Now().Add(g.cfg.WriteTimeout)
	for len(client.Send) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// ---- envelope IO ----

func (g *WSGateway) newEnvelope(typ string, payload json.RawMessage) v1.Envelope {
	ts := g.now()
	id, _ := ids.NewULID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- credential ----

// connectionCredential prefers the Authorization header; browsers that cannot
// set headers on upgrade pass the token as ?token=.
func connectionCredential(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		return h
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		if a == "*" {
			return nil
		}
		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, de-duplicated
// hosts of the allowlist. "*" maps to the match-all pattern.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
