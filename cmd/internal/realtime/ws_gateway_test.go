package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"teamsync/cmd/identity"
	"teamsync/cmd/internal/auth/guard"
	"teamsync/cmd/internal/auth/session"
	"teamsync/cmd/internal/workspace"
	"teamsync/cmd/security/password"
	v1 "teamsync/contracts/realtime/v1"

	"github.com/coder/websocket"
)

type recordingMetrics struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	rejected     map[string]int
}

func (m *recordingMetrics) WSConnected() {
	m.mu.Lock()
	m.connected++
	m.mu.Unlock()
}

func (m *recordingMetrics) WSDisconnected() {
	m.mu.Lock()
	m.disconnected++
	m.mu.Unlock()
}

func (m *recordingMetrics) WSRejected(reason string) {
	m.mu.Lock()
	if m.rejected == nil {
		m.rejected = map[string]int{}
	}
	m.rejected[reason]++
	m.mu.Unlock()
}

func (m *recordingMetrics) rejections(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[reason]
}

type wsFixture struct {
	server    *httptest.Server
	accounts  *identity.Service
	sessions  *session.Manager
	workspace *workspace.Service
	metrics   *recordingMetrics
}

func newWSFixture(t *testing.T, mutate func(*Config)) *wsFixture {
	t.Helper()
	log := discardLogger()

	pcfg := password.DefaultConfig()
	pcfg.Params.MemoryKiB = 8 * 1024
	pcfg.Params.Iterations = 1
	pcfg.Params.Parallelism = 1
	pcfg.Workers = 4
	hasher, err := password.NewHasher(pcfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	users := identity.NewMemoryStore()
	accounts, err := identity.NewService(users, hasher, identity.WithLogger(log))
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	mgr, err := session.NewManager(session.Config{Secret: strings.Repeat("r", 32), Issuer: "teamsync-test"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	g, err := guard.New(mgr, users, guard.WithLogger(log))
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	svc, err := workspace.NewService(workspace.NewMemoryStore(), accounts, workspace.WithLogger(log))
	if err != nil {
		t.Fatalf("workspace.NewService: %v", err)
	}

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	metrics := &recordingMetrics{}
	gw, err := NewWSGateway(cfg, g, svc, WithLogger(log), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewWSGateway: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &wsFixture{server: ts, accounts: accounts, sessions: mgr, workspace: svc, metrics: metrics}
}

func (f *wsFixture) user(t *testing.T, name string) (string, string) {
	t.Helper()
	u, err := f.accounts.CreateIdentity(context.Background(), identity.SignupInput{
		Name: name, Email: strings.ToLower(name) + "@example.com", Password: "long-enough-pw",
	})
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	iss, err := f.sessions.Issue(u.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return u.ID, iss.Token
}

type dialOpts struct {
	origin       string
	bearer       string
	queryToken   string
	subprotocols []string
}

func (f *wsFixture) dial(t *testing.T, o dialOpts) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(f.server.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	if o.queryToken != "" {
		u.RawQuery = url.Values{"token": {o.queryToken}}.Encode()
	}

	h := http.Header{}
	origin := o.origin
	if origin == "" {
		origin = f.server.URL
	}
	h.Set("Origin", origin)
	if o.bearer != "" {
		h.Set("Authorization", "Bearer "+o.bearer)
	}
	sp := o.subprotocols
	if sp == nil {
		sp = []string{v1.Subprotocol}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: sp,
		HTTPHeader:   h,
	})
}

func (f *wsFixture) mustDial(t *testing.T, o dialOpts) *websocket.Conn {
	t.Helper()
	conn, resp, err := f.dial(t, o)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: "c-" + typ, TS: time.Now().UTC(), Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	writeRawWS(t, conn, b)
}

func writeRawWS(t *testing.T, conn *websocket.Conn, b []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	for i := 0; i < maxReads; i++ {
		env := readEnvelopeWS(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

func expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	env := readUntilType(t, conn, v1.TypeError, 4)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != code {
		t.Fatalf("error code = %q (%s), want %q", p.Code, p.Message, code)
	}
}

func hello(t *testing.T, conn *websocket.Conn) v1.HelloAckPayload {
	t.Helper()
	writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{})
	env := readUntilType(t, conn, v1.TypeHelloAck, 4)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode hello ack: %v", err)
	}
	return p
}

func join(t *testing.T, conn *websocket.Conn, channelID string) {
	t.Helper()
	writeEnvelopeWS(t, conn, v1.TypeChannelJoin, v1.ChannelJoinPayload{ChannelID: channelID})
}

// setupChannel creates a workspace owned by owner, joins members through an
// invite and creates a channel as owner.
func (f *wsFixture) setupChannel(t *testing.T, owner string, private bool, members ...string) workspace.Channel {
	t.Helper()
	ctx := context.Background()
	w, err := f.workspace.CreateWorkspace(ctx, owner, workspace.CreateWorkspaceInput{Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if len(members) > 0 {
		code, err := f.workspace.GenerateInviteCode(ctx, owner, w.ID)
		if err != nil {
			t.Fatalf("GenerateInviteCode: %v", err)
		}
		for _, m := range members {
			if _, _, err := f.workspace.JoinByInvite(ctx, m, code); err != nil {
				t.Fatalf("JoinByInvite: %v", err)
			}
		}
	}
	c, err := f.workspace.CreateChannel(ctx, owner, w.ID, workspace.CreateChannelInput{Name: "general", IsPrivate: private})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	return c
}

func TestWSGateway_AnonymousHelloAndJoinDenied(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.mustDial(t, dialOpts{})

	ack := hello(t, conn)
	if !ack.Anonymous || ack.IdentityID != "" || ack.SessionID == "" {
		t.Fatalf("unexpected hello ack: %+v", ack)
	}

	join(t, conn, "ch-any")
	expectError(t, conn, "unauthenticated")
}

func TestWSGateway_InvalidTokenIsAnonymous(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.mustDial(t, dialOpts{bearer: "not-a-token"})

	if ack := hello(t, conn); !ack.Anonymous {
		t.Fatalf("invalid token should yield an anonymous connection")
	}
}

func TestWSGateway_QueryTokenAuthenticates(t *testing.T) {
	f := newWSFixture(t, nil)
	id, tok := f.user(t, "Alice")
	conn := f.mustDial(t, dialOpts{queryToken: tok})

	ack := hello(t, conn)
	if ack.Anonymous || ack.IdentityID != id {
		t.Fatalf("hello ack = %+v, want identity %s", ack, id)
	}
}

func TestWSGateway_JoinAndBroadcast(t *testing.T) {
	f := newWSFixture(t, nil)
	alice, aliceTok := f.user(t, "Alice")
	bob, bobTok := f.user(t, "Bob")
	ch := f.setupChannel(t, alice, false, bob)

	a := f.mustDial(t, dialOpts{bearer: aliceTok})
	b := f.mustDial(t, dialOpts{bearer: bobTok})

	for _, conn := range []*websocket.Conn{a, b} {
		join(t, conn, ch.ID)
		env := readUntilType(t, conn, v1.TypeChannelJoined, 4)
		var p v1.ChannelJoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("decode joined: %v", err)
		}
		if p.ChannelID != ch.ID || p.WorkspaceID != ch.WorkspaceID || p.Name != "general" {
			t.Fatalf("unexpected joined payload: %+v", p)
		}
	}

	writeEnvelopeWS(t, a, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-1", Text: "  hello team  "})

	ackEnv := readUntilType(t, a, v1.TypeMessageAck, 4)
	var ack v1.MessageAckPayload
	if err := json.Unmarshal(ackEnv.Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.ClientMsgID != "m-1" || ack.ServerMsgID == "" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	newEnv := readUntilType(t, b, v1.TypeMessageNew, 4)
	var msg v1.MessageNewPayload
	if err := json.Unmarshal(newEnv.Payload, &msg); err != nil {
		t.Fatalf("decode message_new: %v", err)
	}
	if msg.SenderID != alice || msg.Text != "hello team" || msg.ServerMsgID != ack.ServerMsgID {
		t.Fatalf("unexpected message_new: %+v", msg)
	}

	got, err := f.workspace.GetChannel(context.Background(), alice, ch.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if got.LastActivityAt == nil {
		t.Fatalf("channel activity was not recorded")
	}
}

func TestWSGateway_PrivateChannelDenied(t *testing.T) {
	f := newWSFixture(t, nil)
	alice, _ := f.user(t, "Alice")
	carol, carolTok := f.user(t, "Carol")
	ch := f.setupChannel(t, alice, true, carol)

	conn := f.mustDial(t, dialOpts{bearer: carolTok})
	join(t, conn, ch.ID)
	expectError(t, conn, "forbidden")

	join(t, conn, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	expectError(t, conn, "not_found")

	if _, err := f.workspace.AddChannelMember(context.Background(), alice, ch.ID, carol); err != nil {
		t.Fatalf("AddChannelMember: %v", err)
	}
	join(t, conn, ch.ID)
	readUntilType(t, conn, v1.TypeChannelJoined, 4)
}

func TestWSGateway_MessageValidation(t *testing.T) {
	f := newWSFixture(t, nil)
	alice, tok := f.user(t, "Alice")
	ch := f.setupChannel(t, alice, false)
	conn := f.mustDial(t, dialOpts{bearer: tok})

	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-0", Text: "hi"})
	expectError(t, conn, "not_joined")

	join(t, conn, ch.ID)
	readUntilType(t, conn, v1.TypeChannelJoined, 4)

	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-1", Text: strings.Repeat("a", maxMessageChars+1)})
	expectError(t, conn, "invalid_message")

	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-2", Text: "   "})
	expectError(t, conn, "invalid_message")

	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, Text: "hi"})
	expectError(t, conn, "bad_payload")

	// Exactly at the limit is accepted.
	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-3", Text: strings.Repeat("é", maxMessageChars)})
	readUntilType(t, conn, v1.TypeMessageAck, 4)
}

func TestWSGateway_LeaveStopsDelivery(t *testing.T) {
	f := newWSFixture(t, nil)
	alice, tok := f.user(t, "Alice")
	ch := f.setupChannel(t, alice, false)
	conn := f.mustDial(t, dialOpts{bearer: tok})

	join(t, conn, ch.ID)
	readUntilType(t, conn, v1.TypeChannelJoined, 4)

	writeEnvelopeWS(t, conn, v1.TypeChannelLeave, v1.ChannelJoinPayload{ChannelID: ch.ID})
	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-1", Text: "hi"})
	expectError(t, conn, "not_joined")
}

func TestWSGateway_RemovedMemberStopsReceiving(t *testing.T) {
	f := newWSFixture(t, nil)
	alice, aliceTok := f.user(t, "Alice")
	bob, bobTok := f.user(t, "Bob")
	ch := f.setupChannel(t, alice, false, bob)

	a := f.mustDial(t, dialOpts{bearer: aliceTok})
	b := f.mustDial(t, dialOpts{bearer: bobTok})
	for _, conn := range []*websocket.Conn{a, b} {
		join(t, conn, ch.ID)
		readUntilType(t, conn, v1.TypeChannelJoined, 4)
	}

	if _, err := f.workspace.RemoveMember(context.Background(), alice, ch.WorkspaceID, bob); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	writeEnvelopeWS(t, a, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-1", Text: "after removal"})
	readUntilType(t, a, v1.TypeMessageAck, 4)

	env := readEnvelopeWS(t, b)
	if env.Type != v1.TypeError {
		t.Fatalf("removed member got %q (%s), want an error envelope", env.Type, env.Payload)
	}
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != "channel_revoked" {
		t.Fatalf("error code = %q, want channel_revoked", p.Code)
	}

	// Evicted from the room: later messages are not delivered at all.
	writeEnvelopeWS(t, a, v1.TypeMessageSend, v1.MessageSendPayload{ChannelID: ch.ID, ClientMsgID: "m-2", Text: "still private"})
	readUntilType(t, a, v1.TypeMessageAck, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, data, err := b.Read(ctx); err == nil {
		t.Fatalf("removed member received %s", data)
	}
}

func TestConnState_DrainRefusesLaterJoins(t *testing.T) {
	s := &connState{joined: make(map[string]struct{})}

	entered := 0
	if !s.join("ch-1", func() { entered++ }) {
		t.Fatalf("join before drain should succeed")
	}
	if got := s.drain(); len(got) != 1 || got[0] != "ch-1" {
		t.Fatalf("drain = %v, want [ch-1]", got)
	}
	if s.join("ch-2", func() { entered++ }) {
		t.Fatalf("join after drain should be refused")
	}
	if entered != 1 {
		t.Fatalf("enter ran %d times, want 1", entered)
	}
	if s.has("ch-2") || s.count() != 0 {
		t.Fatalf("drained state must stay empty")
	}
}

func TestWSGateway_BadFrames(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.mustDial(t, dialOpts{})

	writeRawWS(t, conn, []byte("{not json"))
	expectError(t, conn, "bad_json")

	writeRawWS(t, conn, []byte(`{"v":"v0","type":"hello"}`))
	expectError(t, conn, "bad_envelope")

	writeRawWS(t, conn, []byte(`{"v":"v1","type":"message_new"}`))
	expectError(t, conn, "unsupported")
}

func TestWSGateway_RejectsForeignOrigin(t *testing.T) {
	f := newWSFixture(t, nil)

	_, resp, err := f.dial(t, dialOpts{origin: "https://evil.example.com"})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%v err=%v", resp, err)
	}
	if got := f.metrics.rejections("origin"); got != 1 {
		t.Fatalf("origin rejections = %d, want 1", got)
	}
}

func TestWSGateway_RequiresSubprotocol(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.mustDial(t, dialOpts{subprotocols: []string{}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusProtocolError {
		t.Fatalf("close status = %v (err=%v), want %v", got, err, websocket.StatusProtocolError)
	}
}

func TestWSGateway_RateLimitClosesConnection(t *testing.T) {
	f := newWSFixture(t, func(c *Config) {
		c.RateEvents = 3
		c.RateWindow = time.Minute
	})
	conn := f.mustDial(t, dialOpts{})

	for i := 0; i < 4; i++ {
		writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	acks := 0
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
				t.Fatalf("close status = %v (err=%v), want %v", got, err, websocket.StatusPolicyViolation)
			}
			break
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type == v1.TypeHelloAck {
			acks++
		}
	}
	if acks != 3 {
		t.Fatalf("hello acks = %d, want 3", acks)
	}
}

func TestWSGateway_DisconnectIsRecorded(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := f.mustDial(t, dialOpts{})
	hello(t, conn)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.metrics.mu.Lock()
		c, d := f.metrics.connected, f.metrics.disconnected
		f.metrics.mu.Unlock()
		if c == 1 && d == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("disconnect was not recorded")
}

func TestNewWSGateway_Validation(t *testing.T) {
	if _, err := NewWSGateway(DefaultConfig(), nil, nil); err == nil {
		t.Fatalf("expected error for nil dependencies")
	}
}

func TestEnforceOrigin(t *testing.T) {
	g := &WSGateway{cfg: Config{AllowedOrigins: []string{"https://app.example.com", "http://localhost:3000"}, OriginRequired: true}}

	cases := []struct {
		origin string
		ok     bool
	}{
		{"https://app.example.com", true},
		{"http://app.example.com:8443", true},
		{"http://localhost:5173", true},
		{"https://evil.example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if err := g.enforceOrigin(r); (err == nil) != tc.ok {
			t.Fatalf("enforceOrigin(%q) err=%v, want ok=%v", tc.origin, err, tc.ok)
		}
	}

	g.cfg.OriginRequired = false
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if err := g.enforceOrigin(r); err != nil {
		t.Fatalf("missing origin should pass when not required: %v", err)
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	got := deriveOriginPatternsFromAllowedOrigins([]string{"https://b.example.com", "http://a.example.com:8080", "https://b.example.com:443", ""})
	want := []string{"a.example.com", "b.example.com"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
	if got := deriveOriginPatternsFromAllowedOrigins([]string{"http://x", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard patterns = %v", got)
	}
}

func TestConnectionCredential(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	if got := connectionCredential(r); got != "q" {
		t.Fatalf("query credential = %q", got)
	}
	r.Header.Set("Authorization", "Bearer h")
	if got := connectionCredential(r); got != "Bearer h" {
		t.Fatalf("header credential = %q", got)
	}
}
