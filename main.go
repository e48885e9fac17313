// Command twitch-go takes a channel live in one shot. Given a preset name it:
//   - Makes sure a valid user token is on hand, refreshing or walking the
//     user through browser authorization when needed.
//   - Resolves the preset's category and pushes title, category and tags to
//     the channel via Helix.
//   - Optionally starts the OBS output over obs-websocket and posts a
//     go-live message in chat.
//
// Other commands: stop (end the OBS output), intro (print the stream intro
// sections for copy-paste), edit (open config files in $EDITOR).
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/twitch-go/config"
	"github.com/onnwee/twitch-go/crypto"
	"github.com/onnwee/twitch-go/golive"
	"github.com/onnwee/twitch-go/obsws"
	"github.com/onnwee/twitch-go/telemetry"
	"github.com/onnwee/twitch-go/tokenstore"
	"github.com/onnwee/twitch-go/twitchapi"
)

const version = "1.0.0"

// authorizeTimeout bounds the browser authorization round trip.
const authorizeTimeout = 3 * time.Minute

func main() {
	initLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("twitch-go", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT. Defaults:
// level=info, format=text.
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig resolves the app dir first so its .env can seed the process
// environment before config.Load reads it.
func loadConfig() (*config.Config, error) {
	appDir := os.Getenv("TWITCH_GO_DIR")
	if appDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			appDir = home + "/.twitch-go"
		}
	}
	if appDir != "" {
		_ = godotenv.Load(appDir + "/.env")
	}
	_ = godotenv.Load(".env")
	return config.Load()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listener started", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics listener stopped", slog.Any("err", err))
	}
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	firstRun, err := config.Bootstrap(cfg.AppDir)
	if err != nil {
		return err
	}
	if firstRun {
		printFirstRun(cfg)
		return nil
	}

	presets, err := config.LoadPresets(cfg.ConfigPath())
	if err != nil {
		return err
	}

	if len(args) == 0 {
		printUsage(presets)
		return nil
	}

	switch args[0] {
	case "stop":
		return cmdStop(ctx, cfg)
	case "intro":
		return cmdIntro(presets, args[1:])
	case "edit":
		return cmdEdit(cfg, args[1:])
	case "help", "-h", "--help":
		printUsage(presets)
		return nil
	default:
		return cmdRun(ctx, cfg, presets, args[0])
	}
}

func printFirstRun(cfg *config.Config) {
	fmt.Printf(`Welcome to twitch-go!

Created %s with starter files:
  config.yaml          your presets (edit this)
  config.example.yaml  reference copy
  .env.example         credential template

Next steps:
  1. cp %s/.env.example %s/.env and fill in your Twitch app credentials
  2. Edit %s/config.yaml with your presets
  3. Run: twitch-go <preset>
`, cfg.AppDir, cfg.AppDir, cfg.AppDir, cfg.AppDir)
}

func printUsage(presets *config.File) {
	fmt.Print(`Usage: twitch-go <preset> | stop | intro | edit

Commands:
  <preset>   update the channel and go live with the named preset
  stop       stop the OBS stream output
  intro      print the stream intro sections (--intro-only, --rig-only, --about-only)
  edit       open config in $EDITOR (edit config | env | examples)

Presets:
`)
	for _, key := range presets.PresetKeys() {
		p := presets.Presets[key]
		fmt.Printf("  %-14s %s\n", key, p.Game.Name)
	}
}

// buildClients wires the token store, OAuth client, token source and Helix
// client from config.
func buildClients(cfg *config.Config) (*twitchapi.UserTokenSource, *twitchapi.HelixClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var store *tokenstore.Store
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("bad ENCRYPTION_KEY: %w", err)
		}
		store = tokenstore.NewEncrypted(cfg.TokenPath(), enc)
	} else {
		store = tokenstore.New(cfg.TokenPath())
	}

	oauth := &twitchapi.OAuthClient{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Scopes:       cfg.TwitchScopes,
	}
	tokens := &twitchapi.UserTokenSource{Store: store, OAuth: oauth}
	helix := &twitchapi.HelixClient{Tokens: tokens, ClientID: cfg.TwitchClientID}
	return tokens, helix, nil
}

func cmdRun(ctx context.Context, cfg *config.Config, presets *config.File, key string) error {
	preset, err := presets.Preset(key)
	if err != nil {
		printUsage(presets)
		return err
	}

	tokens, helix, err := buildClients(cfg)
	if err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	title := promptDefault(in, "Title", preset.Defaults.Title)
	notification := promptDefault(in, "Go-live notification", preset.Defaults.GoLiveNotification)

	fmt.Printf("\nAbout to update channel:\n  title:    %s\n  category: %s\n  tags:     %s\n",
		title, preset.Game.Category, strings.Join(preset.Tags, ", "))
	if presets.Defaults.Prompts.Confirm && !confirm(in, "Proceed?") {
		fmt.Println("aborted")
		return nil
	}

	orch := &golive.Orchestrator{
		Tokens: tokens,
		Twitch: helix,
	}
	if presets.Defaults.OBS.AutoStart {
		if err := cfg.ValidateOBSReady(); err != nil {
			slog.Warn("obs auto-start disabled", slog.Any("err", err))
		} else {
			orch.ConnectOBS = obsConnector(cfg)
		}
	}
	if cfg.TwitchChannel != "" {
		announcer := &golive.ChatAnnouncer{
			Channel: cfg.TwitchChannel,
			AccessToken: func(ctx context.Context) (string, error) {
				tok, err := tokens.EnsureValid(ctx)
				if err != nil {
					return "", err
				}
				return tok.AccessToken, nil
			},
		}
		orch.Announce = announcer.Announce
	}

	plan := golive.Plan{
		PresetKey:    key,
		Title:        title,
		CategoryName: preset.Game.Category,
		Tags:         preset.Tags,
		StartOBS:     orch.ConnectOBS != nil,
		Announcement: notification,
	}

	_, err = orch.GoLive(ctx, plan)
	if ae, ok := twitchapi.AsAuthError(err); ok && ae.Kind == twitchapi.AuthReauthRequired {
		if err := authorize(ctx, tokens); err != nil {
			return err
		}
		_, err = orch.GoLive(ctx, plan)
	}
	if err != nil {
		return err
	}

	fmt.Println("\nYou're live. Have a good stream!")
	return nil
}

// authorize walks the user through the browser grant and persists the
// resulting token pair.
func authorize(ctx context.Context, tokens *twitchapi.UserTokenSource) error {
	fmt.Println("\nAuthorization required.")
	_, err := tokens.Authorize(ctx, func(authURL string) {
		fmt.Printf("Open this URL in your browser:\n\n  %s\n\nWaiting for the redirect...\n", authURL)
	}, authorizeTimeout)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	fmt.Println("Authorized.")
	return nil
}

func obsConnector(cfg *config.Config) func(context.Context) (golive.StreamController, error) {
	return func(ctx context.Context) (golive.StreamController, error) {
		return obsws.Connect(ctx, cfg.OBSHost, cfg.OBSPort, cfg.OBSPassword)
	}
}

func cmdStop(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateOBSReady(); err != nil {
		return err
	}
	orch := &golive.Orchestrator{ConnectOBS: obsConnector(cfg)}
	if err := orch.Stop(ctx); err != nil {
		return err
	}
	fmt.Println("Stream stopped.")
	return nil
}

func cmdIntro(presets *config.File, args []string) error {
	showIntro, showRig, showAbout := true, true, true
	for _, a := range args {
		switch a {
		case "--intro-only":
			showRig, showAbout = false, false
		case "--rig-only":
			showIntro, showAbout = false, false
		case "--about-only":
			showIntro, showRig = false, false
		default:
			return fmt.Errorf("unknown intro flag: %s", a)
		}
	}
	d := presets.Defaults
	if showIntro && d.Intro != "" {
		fmt.Println(d.Intro)
	}
	if showRig && d.Rig != "" {
		fmt.Println(d.Rig)
	}
	if showAbout && d.About != "" {
		fmt.Println(d.About)
	}
	return nil
}

func cmdEdit(cfg *config.Config, args []string) error {
	target := "config"
	if len(args) > 0 {
		target = args[0]
	}
	var path string
	switch target {
	case "config":
		path = cfg.ConfigPath()
	case "env":
		path = cfg.EnvPath()
	case "examples":
		path = cfg.AppDir
	default:
		return fmt.Errorf("unknown edit target %q (want config, env or examples)", target)
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func promptDefault(in *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := in.ReadString('\n')
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func confirm(in *bufio.Reader, label string) bool {
	fmt.Printf("%s [Y/n]: ", label)
	line, err := in.ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "" || line == "y" || line == "yes"
}
