package twitchapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const redirectResponse = `<!DOCTYPE html>
<html><body>
<p>Authorization received. You can close this tab and return to the terminal.</p>
</body></html>`

// WaitForCode hosts a loopback HTTP listener on the redirect URI and blocks
// until the browser delivers the ?code= parameter, the context is cancelled,
// or the timeout elapses. The bound port is released on every return path.
// A timeout surfaces as AuthError{Timeout}.
func WaitForCode(ctx context.Context, redirectURI, state string, timeout time.Duration) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI %q: %w", redirectURI, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("redirect URI %q has no host", redirectURI)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return "", fmt.Errorf("bind redirect listener on %s: %w", u.Host, err)
	}

	type result struct {
		code string
		err  error
	}
	resultCh := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			http.Error(w, "authorization failed", http.StatusBadRequest)
			sendResult(resultCh, result{err: &AuthError{Kind: AuthProviderRejected, Detail: fmt.Sprintf("provider returned error=%s: %s", errCode, q.Get("error_description"))}})
			return
		}
		if state != "" && q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			sendResult(resultCh, result{err: fmt.Errorf("oauth state mismatch on redirect")})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			sendResult(resultCh, result{err: fmt.Errorf("redirect request missing code parameter")})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(redirectResponse))
		sendResult(resultCh, result{code: code})
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Close() }()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", &AuthError{Kind: AuthTimeout, Detail: "authorization not completed before the wait expired"}
		}
		return "", ctx.Err()
	case r := <-resultCh:
		return r.code, r.err
	}
}

// sendResult delivers the first terminal outcome; later redirect hits (e.g.
// a browser refresh) are dropped.
func sendResult[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
