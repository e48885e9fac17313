// Package main merges standalone preset YAML files into one config.yaml.
//
// Each input file describes a single preset:
//
//	game:
//	  key: factorio
//	  name: Factorio
//	  category: Factorio
//	defaults:
//	  title: "The factory grows"
//	tags: [Chill]
//
// Usage:
//
//	merge-presets [--presets-dir DIR] [--out FILE] [--dry-run]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/twitch-go/config"
)

// presetFile is the per-preset input document; it carries the preset key
// inside its game block.
type presetFile struct {
	Game struct {
		Key      string `yaml:"key"`
		Name     string `yaml:"name"`
		Category string `yaml:"category"`
	} `yaml:"game"`
	Defaults config.PresetDefaults `yaml:"defaults"`
	Tags     []string              `yaml:"tags"`
}

func main() {
	presetsDir := flag.String("presets-dir", "presets", "directory of per-preset YAML files")
	out := flag.String("out", "config.yaml", "merged output file")
	dryRun := flag.Bool("dry-run", false, "print the merged config instead of writing it")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*presetsDir, *out, *dryRun); err != nil {
		slog.Error("merge failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(presetsDir, out string, dryRun bool) error {
	entries, err := filepath.Glob(filepath.Join(presetsDir, "*.yaml"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no preset files found in %s", presetsDir)
	}
	sort.Strings(entries)

	merged := config.File{
		Version: 1,
		Defaults: config.GlobalDefaults{
			OBS:     config.OBSDefaults{AutoStart: true},
			Prompts: config.PromptDefaults{Confirm: true},
		},
		Presets: map[string]config.Preset{},
	}

	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var pf presetFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if pf.Game.Key == "" {
			return fmt.Errorf("%s: missing game.key", path)
		}
		if pf.Game.Category == "" {
			return fmt.Errorf("%s: missing game.category", path)
		}
		if _, dup := merged.Presets[pf.Game.Key]; dup {
			return fmt.Errorf("%s: duplicate preset key %q", path, pf.Game.Key)
		}
		merged.Presets[pf.Game.Key] = config.Preset{
			Game:     config.Game{Name: pf.Game.Name, Category: pf.Game.Category},
			Defaults: pf.Defaults,
			Tags:     pf.Tags,
		}
	}

	encoded, err := yaml.Marshal(&merged)
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Print(string(encoded))
		slog.Info("dry run, nothing written", slog.Int("presets", len(merged.Presets)))
		return nil
	}
	if err := os.WriteFile(out, encoded, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	slog.Info("merged presets", slog.Int("presets", len(merged.Presets)), slog.String("out", out))
	return nil
}
