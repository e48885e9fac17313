// Package main is a preflight check for twitch-go. It verifies the app dir,
// preset file, credentials and OBS reachability, printing one line per check
// and exiting non-zero when anything required is broken.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/twitch-go/config"
	"github.com/onnwee/twitch-go/crypto"
	"github.com/onnwee/twitch-go/obsws"
	"github.com/onnwee/twitch-go/tokenstore"
)

func main() {
	if appDir := os.Getenv("TWITCH_GO_DIR"); appDir != "" {
		_ = godotenv.Load(appDir + "/.env")
	} else if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(home + "/.twitch-go/.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Println("FAIL config:", err)
		os.Exit(1)
	}

	failed := false
	check := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("FAIL %-12s %v\n", name, err)
			return
		}
		fmt.Printf("ok   %s\n", name)
	}

	check("app dir", checkAppDir(cfg))
	check("presets", checkPresets(cfg))
	check("twitch env", cfg.Validate())
	check("tokens", checkTokens(cfg))
	check("obs", checkOBS(cfg))

	if failed {
		os.Exit(1)
	}
}

func checkAppDir(cfg *config.Config) error {
	info, err := os.Stat(cfg.AppDir)
	if err != nil {
		return fmt.Errorf("%s: %w (run twitch-go once to bootstrap)", cfg.AppDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", cfg.AppDir)
	}
	return nil
}

func checkPresets(cfg *config.Config) error {
	f, err := config.LoadPresets(cfg.ConfigPath())
	if err != nil {
		return err
	}
	if len(f.Presets) == 0 {
		return errors.New("no presets defined")
	}
	return nil
}

// checkTokens loads the credential file the same way the CLI does,
// including decryption when ENCRYPTION_KEY is set.
func checkTokens(cfg *config.Config) error {
	var store *tokenstore.Store
	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("bad ENCRYPTION_KEY: %w", err)
		}
		store = tokenstore.NewEncrypted(cfg.TokenPath(), enc)
	} else {
		store = tokenstore.New(cfg.TokenPath())
	}

	tok, err := store.Load()
	if errors.Is(err, tokenstore.ErrNotFound) {
		return errors.New("no stored token (authorization will run on first use)")
	}
	if err != nil {
		return err
	}
	if time.Now().After(tok.ExpiresAt) {
		fmt.Printf("     note: access token expired %s ago, will refresh on use\n",
			time.Since(tok.ExpiresAt).Round(time.Second))
	}
	return nil
}

func checkOBS(cfg *config.Config) error {
	if cfg.OBSPassword == "" {
		return errors.New("OBS_WS_PASSWORD not set (obs auto-start unavailable)")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := obsws.Connect(ctx, cfg.OBSHost, cfg.OBSPort, cfg.OBSPassword)
	if err != nil {
		return err
	}
	defer client.Close()

	active, err := client.StreamActive(ctx)
	if err != nil {
		return err
	}
	if active {
		fmt.Println("     note: stream output is currently active")
	}
	return nil
}
