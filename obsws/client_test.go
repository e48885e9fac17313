package obsws

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeOBS is an in-process obs-websocket v5 server. It performs the Hello,
// Identify and Identified handshake, then answers GetStreamStatus,
// StartStream and StopStream, counting the commands it receives.
type fakeOBS struct {
	*httptest.Server
	password string

	mu           sync.Mutex
	outputActive bool
	startCalls   int
	stopCalls    int
	statusCalls  int
}

func newFakeOBS(t *testing.T, password string) *fakeOBS {
	t.Helper()
	f := &fakeOBS{password: password}
	upgrader := websocket.Upgrader{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		challenge := randomB64(t)
		salt := randomB64(t)

		hello := map[string]any{
			"obsWebSocketVersion": "5.5.2",
			"rpcVersion":          1,
		}
		if password != "" {
			hello["authentication"] = map[string]string{
				"challenge": challenge,
				"salt":      salt,
			}
		}
		if err := conn.WriteJSON(message{Op: opHello, D: mustJSON(t, hello)}); err != nil {
			return
		}

		var identify message
		if err := conn.ReadJSON(&identify); err != nil || identify.Op != opIdentify {
			return
		}
		if password != "" {
			var d struct {
				Authentication string `json:"authentication"`
			}
			_ = json.Unmarshal(identify.D, &d)
			if d.Authentication != authResponse(password, salt, challenge) {
				// Mirror obs-websocket's close code for a bad password.
				msg := websocket.FormatCloseMessage(4009, "authentication failed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
		}
		if err := conn.WriteJSON(message{Op: opIdentified, D: mustJSON(t, map[string]int{"negotiatedRpcVersion": 1})}); err != nil {
			return
		}

		for {
			var req message
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Op != opRequest {
				continue
			}
			var r struct {
				RequestType string `json:"requestType"`
				RequestID   string `json:"requestId"`
			}
			_ = json.Unmarshal(req.D, &r)

			var responseData any
			f.mu.Lock()
			switch r.RequestType {
			case "GetStreamStatus":
				f.statusCalls++
				responseData = map[string]any{"outputActive": f.outputActive}
			case "StartStream":
				f.startCalls++
				f.outputActive = true
			case "StopStream":
				f.stopCalls++
				f.outputActive = false
			}
			f.mu.Unlock()

			resp := map[string]any{
				"requestType": r.RequestType,
				"requestId":   r.RequestID,
				"requestStatus": map[string]any{
					"result": true,
					"code":   100,
				},
			}
			if responseData != nil {
				resp["responseData"] = responseData
			}
			if err := conn.WriteJSON(message{Op: opRequestResponse, D: mustJSON(t, resp)}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOBS) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(f.URL)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("Atoi() error = %v", err)
	}
	return u.Hostname(), port
}

func (f *fakeOBS) counts() (start, stop, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls, f.statusCalls
}

func randomB64(t *testing.T) string {
	t.Helper()
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return b
}

func TestConnectWithoutAuth(t *testing.T) {
	f := newFakeOBS(t, "")
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if got := c.State(); got != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", got)
	}
}

func TestConnectWithPassword(t *testing.T) {
	f := newFakeOBS(t, "hunter2")
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "hunter2")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if got := c.State(); got != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", got)
	}
}

func TestConnectWrongPassword(t *testing.T) {
	f := newFakeOBS(t, "correct")
	host, port := f.hostPort(t)

	_, err := Connect(context.Background(), host, port, "wrong")
	if err == nil {
		t.Fatal("Connect() with wrong password expected error, got nil")
	}
	var ce *ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %T, want *ConnError", err)
	}
	if ce.Kind != ConnAuthRejected {
		t.Errorf("Kind = %v, want auth_rejected", ce.Kind)
	}
}

func TestConnectMissingPassword(t *testing.T) {
	f := newFakeOBS(t, "required")
	host, port := f.hostPort(t)

	_, err := Connect(context.Background(), host, port, "")
	if err == nil {
		t.Fatal("Connect() without required password expected error, got nil")
	}
	var ce *ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %T, want *ConnError", err)
	}
	if ce.Kind != ConnAuthRejected {
		t.Errorf("Kind = %v, want auth_rejected", ce.Kind)
	}
}

func TestConnectUnreachable(t *testing.T) {
	// Grab a port and close the server so nothing is listening there.
	f := newFakeOBS(t, "")
	host, port := f.hostPort(t)
	f.Close()

	_, err := Connect(context.Background(), host, port, "")
	if err == nil {
		t.Fatal("Connect() to closed port expected error, got nil")
	}
	var ce *ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect() error = %T, want *ConnError", err)
	}
	if ce.Kind != ConnUnreachable {
		t.Errorf("Kind = %v, want unreachable", ce.Kind)
	}
}

func TestStartStreaming(t *testing.T) {
	f := newFakeOBS(t, "")
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming() error = %v", err)
	}
	if got := c.State(); got != StateStreaming {
		t.Errorf("State() = %v, want streaming", got)
	}
	start, _, _ := f.counts()
	if start != 1 {
		t.Errorf("StartStream commands = %d, want 1", start)
	}
}

func TestStartStreamingIdempotent(t *testing.T) {
	f := newFakeOBS(t, "")
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		if err := c.StartStreaming(context.Background()); err != nil {
			t.Fatalf("StartStreaming() call %d error = %v", i+1, err)
		}
	}
	start, _, _ := f.counts()
	if start != 1 {
		t.Errorf("StartStream commands = %d, want exactly 1 across repeated calls", start)
	}
}

func TestStartStreamingAlreadyActiveOutside(t *testing.T) {
	f := newFakeOBS(t, "")
	f.outputActive = true
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming() with already-active output error = %v", err)
	}
	start, _, _ := f.counts()
	if start != 0 {
		t.Errorf("StartStream commands = %d, want 0 when output already active", start)
	}
	if got := c.State(); got != StateStreaming {
		t.Errorf("State() = %v, want streaming", got)
	}
}

func TestStopStreaming(t *testing.T) {
	f := newFakeOBS(t, "")
	f.outputActive = true
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.StopStreaming(context.Background()); err != nil {
		t.Fatalf("StopStreaming() error = %v", err)
	}
	_, stop, _ := f.counts()
	if stop != 1 {
		t.Errorf("StopStream commands = %d, want 1", stop)
	}
	if got := c.State(); got != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", got)
	}
}

func TestStopStreamingWhenInactive(t *testing.T) {
	f := newFakeOBS(t, "")
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.StopStreaming(context.Background()); err != nil {
		t.Fatalf("StopStreaming() with inactive output error = %v", err)
	}
	_, stop, _ := f.counts()
	if stop != 0 {
		t.Errorf("StopStream commands = %d, want 0 when already inactive", stop)
	}
}

func TestStreamActive(t *testing.T) {
	f := newFakeOBS(t, "")
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	active, err := c.StreamActive(context.Background())
	if err != nil {
		t.Fatalf("StreamActive() error = %v", err)
	}
	if active {
		t.Error("StreamActive() = true, want false before start")
	}

	if err := c.StartStreaming(context.Background()); err != nil {
		t.Fatalf("StartStreaming() error = %v", err)
	}
	active, err = c.StreamActive(context.Background())
	if err != nil {
		t.Fatalf("StreamActive() error = %v", err)
	}
	if !active {
		t.Error("StreamActive() = false, want true after start")
	}
}

func TestCommandsAfterClose(t *testing.T) {
	f := newFakeOBS(t, "")
	host, port := f.hostPort(t)

	c, err := Connect(context.Background(), host, port, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}

	err = c.StartStreaming(context.Background())
	var ctrl *ControlError
	if !errors.As(err, &ctrl) {
		t.Fatalf("StartStreaming() after Close error = %T (%v), want *ControlError", err, err)
	}

	// Close is safe to call twice.
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateAuthenticated, "authenticated"},
		{StateStreaming, "streaming"},
		{StateError, "error"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestAuthResponse(t *testing.T) {
	a := authResponse("pw", "salt", "challenge")
	b := authResponse("pw", "salt", "challenge")
	c := authResponse("other", "salt", "challenge")
	if a != b {
		t.Error("authResponse() not deterministic")
	}
	if a == c {
		t.Error("authResponse() identical for different passwords")
	}
	raw, err := base64.StdEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("authResponse() not valid base64: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("authResponse() digest length = %d, want 32", len(raw))
	}
}
