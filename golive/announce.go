package golive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// announceTimeout bounds the whole connect, say, disconnect cycle.
const announceTimeout = 10 * time.Second

// ChatAnnouncer posts the go-live notification to the broadcaster's own
// chat over IRC, authenticating with the same user token the run used.
type ChatAnnouncer struct {
	Channel string
	// AccessToken is the raw OAuth user access token; the "oauth:" prefix
	// is added here.
	AccessToken func(ctx context.Context) (string, error)
}

// Announce connects, sends the message and disconnects. Errors are returned
// for logging only; callers treat the announcement as best effort.
func (a *ChatAnnouncer) Announce(ctx context.Context, message string) error {
	if a.Channel == "" {
		return fmt.Errorf("no channel configured for announcements")
	}
	token, err := a.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("announce token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()

	channel := strings.ToLower(a.Channel)
	client := twitch.NewClient(channel, "oauth:"+token)

	sent := make(chan struct{})
	client.OnConnect(func() {
		client.Say(channel, message)
		// Give the outbound line a moment to flush before disconnecting.
		go func() {
			time.Sleep(500 * time.Millisecond)
			close(sent)
		}()
	})

	done := make(chan error, 1)
	go func() {
		done <- client.Connect()
	}()

	select {
	case <-sent:
		_ = client.Disconnect()
		<-done
		slog.Debug("go-live announcement sent", slog.String("channel", channel))
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("announce connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = client.Disconnect()
		return fmt.Errorf("announce: %w", ctx.Err())
	}
}
