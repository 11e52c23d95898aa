package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/rfbkit/internal/logging"
	"github.com/breeze-rmm/rfbkit/internal/vncproxy"
)

var (
	serveListen       string
	serveBackend      string
	serveRecordingDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording proxy, relaying and recording one VNC session",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "address the proxy's WebSocket frontend listens on (overrides config)")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "host:port of the VNC backend to relay to (overrides config)")
	serveCmd.Flags().StringVar(&serveRecordingDir, "recording-dir", "", "directory new recordings are written under (overrides config)")
}

func runServe() {
	cfg := loadConfig()
	if serveListen != "" {
		cfg.ProxyListenAddr = serveListen
	}
	if serveBackend != "" {
		if host, portStr, err := net.SplitHostPort(serveBackend); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				cfg.VncHost, cfg.VncPort = host, port
			}
		}
	}
	if serveRecordingDir != "" {
		cfg.RecordingDir = serveRecordingDir
	}
	initLogging(cfg)
	defer logging.StopShipper()

	postProcess := func(sessionDir string) {
		if err := processRecording(sessionDir, cfg); err != nil {
			log.Error("post-recording processing failed", "dir", sessionDir, "error", err)
		}
	}

	srv := vncproxy.New(cfg.ProxyListenAddr, cfg.VncAddr(), cfg.RecordingDir, postProcess)
	if err := srv.Start(); err != nil {
		log.Error("failed to start proxy", "error", err)
		os.Exit(1)
	}
	srv.WaitUntilAccepting()
	log.Info("recording proxy listening", "listen", srv.Addr(), "backend", cfg.VncAddr(), "recordingDir", cfg.RecordingDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down proxy")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error("error stopping proxy", "error", err)
	}
	log.Info("proxy stopped")
}
