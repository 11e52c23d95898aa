package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/rfbkit/internal/logging"
	"github.com/breeze-rmm/rfbkit/internal/workerpool"
)

var replayWorkers int

var replayCmd = &cobra.Command{
	Use:   "replay <recording-dir> [more-dirs...]",
	Short: "Synthesize an action trace from one or more recorded sessions",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runReplay(args)
	},
}

func init() {
	replayCmd.Flags().IntVar(&replayWorkers, "workers", 4, "number of recordings to process concurrently")
}

// runReplay processes each recording directory independently through
// processRecording, fanning out across a worker pool so a batch of many
// saved sessions doesn't serialize on disk I/O one at a time.
func runReplay(dirs []string) {
	cfg := loadConfig()
	initLogging(cfg)
	defer logging.StopShipper()

	pool := workerpool.New(replayWorkers, len(dirs))

	var mu sync.Mutex
	var failed []string

	for _, dir := range dirs {
		dir := dir
		if !pool.Submit(func() {
			if err := processRecording(dir, cfg); err != nil {
				log.Error("replay failed", "dir", dir, "error", err)
				mu.Lock()
				failed = append(failed, dir)
				mu.Unlock()
			}
		}) {
			log.Error("replay queue full, skipping recording", "dir", dir)
			mu.Lock()
			failed = append(failed, dir)
			mu.Unlock()
		}
	}

	pool.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	pool.Drain(ctx)

	if len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d recordings failed to process: %v\n", len(failed), len(dirs), failed)
		os.Exit(1)
	}
	fmt.Printf("processed %d recordings\n", len(dirs))
}
