package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Game identifies the Twitch category a preset streams under. Name is the
// display name used in the preset listing; Category is the exact Twitch
// category to resolve.
type Game struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// PresetDefaults are the per-preset defaults the CLI offers for confirmation.
type PresetDefaults struct {
	Title              string `yaml:"title"`
	GoLiveNotification string `yaml:"go_live_notification"`
}

// Preset is a named bundle of stream metadata. Immutable once loaded.
type Preset struct {
	Key      string         `yaml:"-"`
	Game     Game           `yaml:"game"`
	Defaults PresetDefaults `yaml:"defaults"`
	Tags     []string       `yaml:"tags"`
}

// OBSDefaults control the broadcaster step of a run.
type OBSDefaults struct {
	AutoStart bool `yaml:"auto_start"`
}

// PromptDefaults control interactive confirmation.
type PromptDefaults struct {
	Confirm bool `yaml:"confirm"`
}

// GlobalDefaults hold run behavior plus the free-text intro sections.
type GlobalDefaults struct {
	OBS     OBSDefaults    `yaml:"obs"`
	Prompts PromptDefaults `yaml:"prompts"`
	Intro   string         `yaml:"intro"`
	Rig     string         `yaml:"rig"`
	About   string         `yaml:"about"`
}

// File is the parsed config.yaml.
type File struct {
	Version  int               `yaml:"version"`
	Defaults GlobalDefaults    `yaml:"defaults"`
	Presets  map[string]Preset `yaml:"presets"`
}

// LoadPresets parses the preset file at path.
func LoadPresets(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preset file %s: %w", path, err)
	}

	for key, p := range f.Presets {
		p.Key = key
		if p.Game.Category == "" {
			return nil, fmt.Errorf("preset %q: missing game.category", key)
		}
		f.Presets[key] = p
	}
	return &f, nil
}

// Preset returns the named preset or an error listing it as unknown.
func (f *File) Preset(key string) (Preset, error) {
	p, ok := f.Presets[key]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset: %s", key)
	}
	return p, nil
}

// PresetKeys returns preset keys in stable sorted order for listings.
func (f *File) PresetKeys() []string {
	keys := make([]string, 0, len(f.Presets))
	for k := range f.Presets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const exampleConfig = `version: 1

defaults:
  obs:
    auto_start: true
  prompts:
    confirm: true
  intro: |
    Thanks for watching — and welcome if you're new here.

    Customize this section with your own welcome/introductory message.
  rig: |
    Gaming & Streaming Rig
    Customize this section with your hardware and streaming setup details.
  about: |
    About This Channel
    Customize this section with information about your channel.

presets:
  example:
    game:
      name: Example Game
      category: Just Chatting
    defaults:
      title: "Example stream title"
      go_live_notification: "Example notification"
    tags:
      - Example
      - Streaming
`

const exampleEnv = `# Twitch app credentials
TWITCH_CLIENT_ID=
TWITCH_CLIENT_SECRET=
TWITCH_REDIRECT_URI=http://localhost:17563/callback

# Channel for the go-live chat announcement (optional)
TWITCH_CHANNEL=

# OBS WebSocket
OBS_WS_HOST=localhost
OBS_WS_PORT=4455
OBS_WS_PASSWORD=

# Optional: base64 32-byte key for encrypting tokens.json at rest
# Generate with: openssl rand -base64 32
ENCRYPTION_KEY=
`

// Bootstrap creates the app dir and example files on first run. Returns true
// when this invocation created the config (the caller should print next-step
// instructions and exit instead of running a preset).
func Bootstrap(appDir string) (firstRun bool, err error) {
	if _, statErr := os.Stat(appDir); os.IsNotExist(statErr) {
		firstRun = true
	}
	if err := os.MkdirAll(appDir, 0o700); err != nil {
		return false, fmt.Errorf("create app dir: %w", err)
	}

	configPath := filepath.Join(appDir, "config.yaml")
	examplePath := filepath.Join(appDir, "config.example.yaml")
	envExamplePath := filepath.Join(appDir, ".env.example")

	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if err := os.WriteFile(examplePath, []byte(exampleConfig), 0o600); err != nil {
			return false, fmt.Errorf("write config example: %w", err)
		}
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		firstRun = true
		if err := os.WriteFile(configPath, []byte(exampleConfig), 0o600); err != nil {
			return false, fmt.Errorf("write config: %w", err)
		}
	}
	if _, err := os.Stat(envExamplePath); os.IsNotExist(err) {
		if err := os.WriteFile(envExamplePath, []byte(exampleEnv), 0o600); err != nil {
			return false, fmt.Errorf("write env example: %w", err)
		}
	}
	return firstRun, nil
}
