package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/rfbkit/internal/config"
	"github.com/breeze-rmm/rfbkit/internal/replay"
	"github.com/breeze-rmm/rfbkit/internal/synthesizer"
)

// runManifest is the human-readable sibling of action_trace.json: a short
// per-kind tally so a reviewer can sanity-check a run without reading the
// full trace.
type runManifest struct {
	Recording string         `yaml:"recording"`
	Steps     int            `yaml:"steps"`
	LastStep  string         `yaml:"last_step,omitempty"`
	Counts    map[string]int `yaml:"counts"`
}

// processRecording replays recordingDir's captured RFB bytes through the
// action synthesizer and writes action_trace.json plus a run_manifest.yaml
// alongside the recording. Shared by the "replay" subcommand and the
// "serve" subcommand's post-recording hook so a live session and a batch of
// saved recordings get the same treatment.
func processRecording(recordingDir string, cfg *config.Config) error {
	parser, err := replay.NewParser(recordingDir)
	if err != nil {
		return fmt.Errorf("opening recording %s: %w", recordingDir, err)
	}
	defer parser.Close()

	synCfg := synthesizer.Config{
		MultiClickMaxIntervalNs: int64(cfg.MultiClickMaxIntervalMS) * 1_000_000,
		MultiClickMaxMovePx:     cfg.MultiClickMaxDisplacementPX,
		DragThresholdPx:         cfg.DragThresholdPX,
	}
	steps, err := synthesizer.New(synCfg).Run(parser)
	if err != nil {
		return fmt.Errorf("synthesizing actions for %s: %w", recordingDir, err)
	}

	traceJSON, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling action trace for %s: %w", recordingDir, err)
	}
	if err := os.WriteFile(filepath.Join(recordingDir, "action_trace.json"), traceJSON, 0600); err != nil {
		return fmt.Errorf("writing action_trace.json for %s: %w", recordingDir, err)
	}

	manifest := runManifest{
		Recording: filepath.Base(recordingDir),
		Steps:     len(steps),
		Counts:    make(map[string]int),
	}
	if len(steps) > 0 {
		manifest.LastStep = steps[len(steps)-1].Timestamp
	}
	for _, s := range steps {
		manifest.Counts[string(s.Event.Kind())]++
	}

	manifestYAML, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshaling run manifest for %s: %w", recordingDir, err)
	}
	if err := os.WriteFile(filepath.Join(recordingDir, "run_manifest.yaml"), manifestYAML, 0600); err != nil {
		return fmt.Errorf("writing run_manifest.yaml for %s: %w", recordingDir, err)
	}

	log.Info("processed recording", "dir", recordingDir, "steps", len(steps))
	return nil
}
