// Package obsws is a minimal obs-websocket v5 client covering what go-live
// needs: authenticate, query stream status, start and stop the stream. The
// session moves Disconnected, Connecting, Authenticated, Streaming and back;
// the connection is owned exclusively by the Client for the run.
package obsws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/twitch-go/telemetry"
)

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

// State is the session lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateStreaming
	StateError
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnErrorKind distinguishes network failures from rejected credentials.
type ConnErrorKind int

const (
	// ConnUnreachable means the TCP/WebSocket dial failed.
	ConnUnreachable ConnErrorKind = iota
	// ConnAuthRejected means OBS refused the password handshake.
	ConnAuthRejected
)

func (k ConnErrorKind) String() string {
	switch k {
	case ConnUnreachable:
		return "unreachable"
	case ConnAuthRejected:
		return "auth_rejected"
	default:
		return "unknown"
	}
}

// ConnError is returned by Connect.
type ConnError struct {
	Kind ConnErrorKind
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("obs connection error (%s): %v", e.Kind, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ControlError is returned when a command is issued from the wrong state.
type ControlError struct {
	Op    string
	State State
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("obs control error: %s not valid from state %s", e.Op, e.State)
}

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment"`
}

type requestResponseData struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData"`
}

// Client holds one authenticated obs-websocket session.
type Client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	timeout time.Duration
}

// Connect dials ws://host:port and performs the v5 password handshake.
// Dial failures surface as ConnError{Unreachable}; a refused Identify as
// ConnError{AuthRejected}.
func Connect(ctx context.Context, host string, port int, password string) (*Client, error) {
	c := &Client{state: StateConnecting, timeout: 5 * time.Second}

	addr := fmt.Sprintf("ws://%s:%d", host, port)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		c.state = StateError
		return nil, &ConnError{Kind: ConnUnreachable, Err: err}
	}
	c.conn = conn

	if err := c.handshake(password); err != nil {
		_ = conn.Close()
		c.state = StateError
		return nil, err
	}

	c.state = StateAuthenticated
	slog.Debug("obs session authenticated", slog.String("addr", addr))
	return c, nil
}

func (c *Client) handshake(password string) error {
	var hello helloData
	if err := c.readOp(opHello, &hello); err != nil {
		return &ConnError{Kind: ConnUnreachable, Err: fmt.Errorf("reading hello: %w", err)}
	}

	identify := map[string]any{"rpcVersion": rpcVersion}
	if hello.Authentication != nil {
		if password == "" {
			return &ConnError{Kind: ConnAuthRejected, Err: fmt.Errorf("obs requires a password but none is configured")}
		}
		identify["authentication"] = authResponse(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := c.writeMessage(opIdentify, identify); err != nil {
		return &ConnError{Kind: ConnUnreachable, Err: fmt.Errorf("sending identify: %w", err)}
	}

	var identified struct {
		NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
	}
	if err := c.readOp(opIdentified, &identified); err != nil {
		// obs-websocket closes the socket with code 4009 on a bad password.
		if websocket.IsCloseError(err, 4008, 4009) {
			return &ConnError{Kind: ConnAuthRejected, Err: err}
		}
		return &ConnError{Kind: ConnAuthRejected, Err: fmt.Errorf("identify rejected: %w", err)}
	}
	return nil
}

// authResponse computes the v5 challenge response:
// base64(sha256(base64(sha256(password+salt)) + challenge))
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	proof := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(proof[:])
}

func (c *Client) writeMessage(op int, d any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteJSON(message{Op: op, D: data})
}

// readOp reads frames until one with the wanted opcode arrives (events on
// other opcodes are skipped).
func (c *Client) readOp(op int, out any) error {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Op != op {
			continue
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(msg.D, out)
	}
}

// request issues one op 6 request and waits for its op 7 response.
func (c *Client) request(requestType string, data any, out any) error {
	id := uuid.NewString()
	req := map[string]any{
		"requestType": requestType,
		"requestId":   id,
	}
	if data != nil {
		req["requestData"] = data
	}
	telemetry.Inc(telemetry.OBSCommands)
	if err := c.writeMessage(opRequest, req); err != nil {
		return fmt.Errorf("obs request %s: %w", requestType, err)
	}

	for {
		var resp requestResponseData
		if err := c.readOp(opRequestResponse, &resp); err != nil {
			return fmt.Errorf("obs response for %s: %w", requestType, err)
		}
		if resp.RequestID != id {
			continue
		}
		if !resp.RequestStatus.Result {
			return fmt.Errorf("obs request %s failed: code %d: %s", requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		if out != nil && resp.ResponseData != nil {
			return json.Unmarshal(resp.ResponseData, out)
		}
		return nil
	}
}

// StreamActive reports whether the OBS output is currently live.
func (c *Client) StreamActive(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamActiveLocked(ctx)
}

func (c *Client) streamActiveLocked(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.state != StateAuthenticated && c.state != StateStreaming {
		return false, &ControlError{Op: "GetStreamStatus", State: c.state}
	}
	var status struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := c.request("GetStreamStatus", nil, &status); err != nil {
		return false, err
	}
	return status.OutputActive, nil
}

// StartStreaming starts the OBS output. Valid from Authenticated; a no-op
// when the session already reached Streaming or the output is already active
// outside this tool's control. At most one StartStream command goes out.
func (c *Client) StartStreaming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStreaming {
		return nil
	}
	if c.state != StateAuthenticated {
		return &ControlError{Op: "StartStream", State: c.state}
	}

	active, err := c.streamActiveLocked(ctx)
	if err != nil {
		return err
	}
	if active {
		// Started manually outside this tool; treat as success.
		c.state = StateStreaming
		return nil
	}

	if err := c.request("StartStream", nil, nil); err != nil {
		return err
	}
	c.state = StateStreaming
	slog.Info("obs stream started")
	return nil
}

// StopStreaming stops the OBS output. Valid from Streaming; idempotent from
// Authenticated and when the output is already inactive.
func (c *Client) StopStreaming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated && c.state != StateStreaming {
		return &ControlError{Op: "StopStream", State: c.state}
	}

	active, err := c.streamActiveLocked(ctx)
	if err != nil {
		return err
	}
	if !active {
		c.state = StateAuthenticated
		return nil
	}

	if err := c.request("StopStream", nil, nil); err != nil {
		return err
	}
	c.state = StateAuthenticated
	slog.Info("obs stream stopped")
	return nil
}

// State returns the session lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close releases the session. Safe to call on every exit path, including
// after errors.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = StateDisconnected
	return err
}
