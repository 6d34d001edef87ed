// Package main provides a CI-friendly end-to-end smoke test for a running
// TeamSync server.
//
// It validates:
//   - signup over HTTP for two fresh identities
//   - workspace creation, invite generation and join
//   - channel creation
//   - handshake + subprotocol selection with a bearer credential
//   - hello/ack identity resolution
//   - channel join, send -> ack, fanout message_new to the other client
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "teamsync/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name       string
	conn       *websocket.Conn
	identityID string

	inbox chan v1.Envelope
	errCh chan error
}

type account struct {
	id    string
	token string
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello team 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := wsURLFromBase(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	api := &httpClient{base: strings.TrimRight(*baseURL, "/"), c: &http.Client{Timeout: *timeout}}

	suffix := time.Now().UnixNano()
	alice := api.mustSignup(root, "Smoke A", fmt.Sprintf("smoke-a-%d@example.com", suffix))
	bob := api.mustSignup(root, "Smoke B", fmt.Sprintf("smoke-b-%d@example.com", suffix))

	var ws struct {
		Workspace struct {
			ID string `json:"id"`
		} `json:"workspace"`
	}
	api.mustDo(root, http.MethodPost, "/workspaces", alice.token, map[string]string{"name": "Smoke"}, http.StatusCreated, &ws)

	var inv struct {
		InviteCode string `json:"inviteCode"`
	}
	api.mustDo(root, http.MethodPost, "/workspaces/"+ws.Workspace.ID+"/invite", alice.token, nil, http.StatusOK, &inv)
	api.mustDo(root, http.MethodPost, "/invites/"+inv.InviteCode+"/join", bob.token, nil, http.StatusCreated, nil)

	var ch struct {
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	api.mustDo(root, http.MethodPost, "/workspaces/"+ws.Workspace.ID+"/channels", alice.token, map[string]any{"name": "smoke"}, http.StatusCreated, &ch)
	channelID := ch.Channel.ID

	a := mustConnect(root, "A", wsURL, *origin, alice, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", wsURL, *origin, bob, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q channel=%s\n", a.identityID, b.identityID, *origin, channelID)
	}

	mustJoin(root, a, channelID, *timeout)
	mustJoin(root, b, channelID, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	serverMsgID := mustSendAndAssertAck(root, a, channelID, clientMsgID, *text, *timeout)
	mustAssertNew(root, b, channelID, clientMsgID, serverMsgID, a.identityID, *text, *timeout)

	fmt.Printf("OK: A=%s B=%s channel_id=%s server_msg_id=%s\n", a.identityID, b.identityID, channelID, serverMsgID)
}

// ---- HTTP ----

type httpClient struct {
	base string
	c    *http.Client
}

func (h *httpClient) mustSignup(ctx context.Context, name, email string) account {
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	h.mustDo(ctx, http.MethodPost, "/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": "smoke-password-1",
	}, http.StatusCreated, &out)
	if out.Token == "" || out.User.ID == "" {
		fatalf("signup %s: missing token or id", email)
	}
	return account{id: out.User.ID, token: out.Token}
}

func (h *httpClient) mustDo(ctx context.Context, method, path, token string, body any, wantStatus int, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fatalf("encode %s %s: %v", method, path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, &buf)
	if err != nil {
		fatalf("request %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.c.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		fatalf("%s %s: status=%d want=%d code=%q msg=%q", method, path, resp.StatusCode, wantStatus, e.Error.Code, e.Error.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

func wsURLFromBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// ---- websocket ----

func mustConnect(parent context.Context, name, wsURL, origin string, acct account, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+acct.token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWriteWithTimeout(parent, conn, newEnvelope(name+"-hello", v1.TypeHello, v1.HelloPayload{}), stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if p.Anonymous || p.IdentityID != acct.id {
		fatalf("hello_ack identity mismatch (%s): got=%q anonymous=%v want=%q", name, p.IdentityID, p.Anonymous, acct.id)
	}
	c.identityID = p.IdentityID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustJoin(parent context.Context, c *smokeClient, channelID string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, newEnvelope(c.name+"-join", v1.TypeChannelJoin, v1.ChannelJoinPayload{ChannelID: channelID}), stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeChannelJoined, stepTimeout)

	var p v1.ChannelJoinedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal channel_joined payload (%s): %v", c.name, err)
	}
	if p.ChannelID != channelID {
		fatalf("channel_joined mismatch (%s): got=%q want=%q", c.name, p.ChannelID, channelID)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, channelID, clientMsgID, text string, stepTimeout time.Duration) string {
	mustWriteWithTimeout(parent, c.conn, newEnvelope(c.name+"-send", v1.TypeMessageSend, v1.MessageSendPayload{
		ChannelID:   channelID,
		ClientMsgID: clientMsgID,
		Text:        text,
	}), stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	if p.ChannelID != channelID || p.ClientMsgID != clientMsgID {
		fatalf("ack mismatch (%s): %+v", c.name, p)
	}
	if strings.TrimSpace(p.ServerMsgID) == "" {
		fatalf("ack missing server_msg_id (%s)", c.name)
	}
	return p.ServerMsgID
}

func mustAssertNew(parent context.Context, c *smokeClient, channelID, clientMsgID, serverMsgID, senderID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageNew, stepTimeout)

	var p v1.MessageNewPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_new payload (%s): %v", c.name, err)
	}
	switch {
	case p.ChannelID != channelID:
		fatalf("new channel_id mismatch (%s): got=%q want=%q", c.name, p.ChannelID, channelID)
	case p.ClientMsgID != clientMsgID:
		fatalf("new client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	case p.ServerMsgID != serverMsgID:
		fatalf("new server_msg_id mismatch (%s): got=%q want=%q", c.name, p.ServerMsgID, serverMsgID)
	case p.SenderID != senderID:
		fatalf("new sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	case p.Text != strings.TrimSpace(text):
		fatalf("new text mismatch (%s): got=%q want=%q", c.name, p.Text, text)
	case p.ServerTS.IsZero():
		fatalf("new server_ts missing/zero (%s)", c.name)
	}
}

// mustReadUntilType skips message_new fanout echoes while waiting.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			switch env.Type {
			case wantType:
				return env
			case v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			case v1.TypeMessageNew:
				continue
			default:
				fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
			}
		}
	}
}

func newEnvelope(id, typ string, payload any) v1.Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC(), Payload: b}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
